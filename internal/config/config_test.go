package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Dashboard.TopN)
	assert.Equal(t, "incidents", cfg.Data.SQLTable)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  read_timeout: 3s
data:
  source: /srv/incidents.xlsx
dashboard:
  top_n: 5
logging:
  level: debug
`), 0o644))
	t.Setenv("CYBERDASH_DASHBOARD_TOP_N", "7")
	t.Setenv("CYBERDASH_SERVER_ALLOWED_ORIGINS", "http://a.example,http://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "/srv/incidents.xlsx", cfg.Data.Source)
	assert.Equal(t, 7, cfg.Dashboard.TopN)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CYBERDASH_DASHBOARD_TOP_N", "0")

	_, err := Load("")
	assert.ErrorContains(t, err, "TopN")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadBadLogFormat(t *testing.T) {
	t.Setenv("CYBERDASH_LOGGING_FORMAT", "xml")

	_, err := Load("")
	assert.Error(t, err)
}
