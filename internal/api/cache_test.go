package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))
	require.NoError(t, c.Set(ctx, "c", []byte("3")))

	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry evicted")
	v, ok, _ := c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(4, 10*time.Millisecond)
	require.NoError(t, c.Set(ctx, "k", []byte("v")))

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache("http://localhost:6379", time.Minute)
	assert.Error(t, err)

	rc, err := NewRedisCache("redis://localhost:6379/0", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, rc.Close())
}

func TestErrorHandler(t *testing.T) {
	e, _ := newTestServer(t)
	e.GET("/boom", func(echo.Context) error { return errors.New("kaput") })

	rec := do(e, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	apiErr := decode[APIError](t, rec)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.ErrorCode)
	assert.NotContains(t, apiErr.Message, "kaput")

	rec = do(e, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[APIError](t, rec).ErrorCode)
}
