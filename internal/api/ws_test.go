package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialSession(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	e := echo.New()
	Configure(e, quietLogger())
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wsFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocketSession(t *testing.T) {
	h := NewHandler(WithLogger(quietLogger()))
	h.SetTable(fixtureStore())
	conn := dialSession(t, h)

	// The unfiltered overview is pushed on connect.
	f := readFrame(t, conn)
	require.Equal(t, "bundle", f.Type)
	assert.Equal(t, 4, f.Bundle.RowCount)
	assert.Equal(t, "overview", f.Bundle.View)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"filter","selection":{"attack_types":["Phishing"]}}`)))
	f = readFrame(t, conn)
	require.Equal(t, "bundle", f.Type)
	assert.Equal(t, 2, f.Bundle.RowCount)
	assert.Equal(t, 2.0, f.Bundle.KPIs["countries_affected"].Value)

	// Switching view keeps the filter.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"view","view":{"name":"drilldown","country":"France"}}`)))
	f = readFrame(t, conn)
	require.Equal(t, "bundle", f.Type)
	assert.Equal(t, "drilldown", f.Bundle.View)
	assert.Equal(t, 1.0, f.Bundle.KPIs["incidents"].Value)
	assert.Equal(t, 50.0, f.Bundle.KPIs["total_financial_loss"].Value)
}

func TestWebSocketErrors(t *testing.T) {
	h := NewHandler(WithLogger(quietLogger()))
	h.SetTable(fixtureStore())
	conn := dialSession(t, h)
	readFrame(t, conn)

	for _, msg := range []string{
		`not json`,
		`{"type":"explode"}`,
		`{"type":"filter"}`,
		`{"type":"view","view":{"name":"sideways"}}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		f := readFrame(t, conn)
		assert.Equal(t, "error", f.Type, msg)
		require.NotNil(t, f.Error, msg)
	}

	// The session is still usable.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"refresh"}`)))
	assert.Equal(t, "bundle", readFrame(t, conn).Type)
}

func TestWebSocketFollowsReload(t *testing.T) {
	h := NewHandler(WithLogger(quietLogger()))
	h.SetTable(fixtureStore())
	conn := dialSession(t, h)
	first := readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"filter","selection":{"countries":["USA"]}}`)))
	readFrame(t, conn)

	h.SetTable(fixtureStore())
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"refresh"}`)))
	f := readFrame(t, conn)
	require.Equal(t, "bundle", f.Type)
	assert.Equal(t, 2, f.Bundle.RowCount)
	assert.Equal(t, first.Bundle.Charts["yearly_incidents"].Series[0].Year, f.Bundle.Charts["yearly_incidents"].Series[0].Year)
}
