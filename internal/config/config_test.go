package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.Secret = testSecret
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 10*time.Minute, cfg.Access.GraceBefore)
	assert.Equal(t, 10*time.Minute, cfg.Access.GraceAfter)
	assert.Equal(t, 100, cfg.WebSocket.RateLimit)
	assert.Equal(t, 3, cfg.WebSocket.MaxDecodeErrors)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)

	// the signing secret has no default
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }, "Port"},
		{"negative grace", func(c *Config) { c.Access.GraceBefore = -time.Minute }, "GraceBefore"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }, "Backend"},
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }, "Secret"},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = time.Second }, "ReadTimeout"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "Path"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "Level"},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }, "BufferSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SESSIONCHAT_HTTP_PORT", "9090")
	t.Setenv("SESSIONCHAT_ACCESS_GRACE_BEFORE", "5m")
	t.Setenv("SESSIONCHAT_ACCESS_GRACE_AFTER", "0s")
	t.Setenv("SESSIONCHAT_STORE_BACKEND", "badger")
	t.Setenv("SESSIONCHAT_WEBSOCKET_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Access.GraceBefore)
	assert.Equal(t, time.Duration(0), cfg.Access.GraceAfter)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout, "unset variables keep defaults")
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("SESSIONCHAT_HTTP_PORT", "not-a-port")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `{
		"http": {"port": 7070, "read_timeout": "5s"},
		"access": {"grace_before": "15m"},
		"websocket": {"allowed_origins": ["https://app.example"]},
		"redis": {"url": null}
	}`)

	cfg := validConfig()
	require.NoError(t, LoadFromFile(cfg, path))

	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Access.GraceBefore)
	assert.Equal(t, 10*time.Minute, cfg.Access.GraceAfter)
	assert.Equal(t, []string{"https://app.example"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := validConfig()

	err := LoadFromFile(cfg, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Error(t, LoadFromFile(cfg, writeFile(t, `{not json`)))
	assert.Error(t, LoadFromFile(cfg, writeFile(t, `{"http": {"port": "eighty"}}`)))
	assert.Error(t, LoadFromFile(cfg, writeFile(t, `{"http": {"tls": {"cert": "x"}}}`)))
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("SESSIONCHAT_AUTH_SECRET", testSecret)
	t.Setenv("SESSIONCHAT_HTTP_PORT", "9090")
	t.Setenv("SESSIONCHAT_HTTP_HOST", "127.0.0.1")

	path := writeFile(t, `{"http": {"port": 7070}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port, "file overrides environment")
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host, "environment overrides defaults")

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	t.Setenv("SESSIONCHAT_AUTH_SECRET", testSecret)
	path := writeFile(t, `{"store": {"backend": "postgres"}}`)

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
