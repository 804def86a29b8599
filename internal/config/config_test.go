package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.MockMode(), "no endpoint means mock mode")
	assert.Equal(t, DriverGorilla, cfg.WebSocket.Driver)
	assert.Equal(t, 3*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Mock.EchoDelay)
	assert.Equal(t, 30*time.Second, cfg.Mock.NotificationInterval)
	assert.Equal(t, 15*time.Second, cfg.Mock.StatusInterval)
	assert.Equal(t, 2*time.Minute, cfg.Presence.IdleThreshold)
	assert.Equal(t, "0.0.0.0:8080", cfg.Relay.Addr())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing section", func(c *Config) { c.WebSocket = nil }},
		{"bad port", func(c *Config) { c.Relay.Port = -1 }},
		{"empty relay host", func(c *Config) { c.Relay.Host = "" }},
		{"unknown driver", func(c *Config) { c.WebSocket.Driver = "quic" }},
		{"bad url", func(c *Config) { c.WebSocket.URL = "not a url" }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"zero base delay", func(c *Config) { c.Reconnect.BaseDelay = 0 }},
		{"chance above one", func(c *Config) { c.Mock.NotificationChance = 1.5 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"user id too long", func(c *Config) { c.UserID = string(make([]byte, 65)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("STUDYLINK_WEBSOCKET_URL", "ws://localhost:9090/ws")
	t.Setenv("STUDYLINK_WEBSOCKET_DRIVER", "nhooyr")
	t.Setenv("STUDYLINK_RECONNECT_BASE_DELAY", "500ms")
	t.Setenv("STUDYLINK_MOCK_STATUS_CHANCE", "0.5")
	t.Setenv("STUDYLINK_RELAY_PORT", "9191")
	t.Setenv("STUDYLINK_USER_ID", "student-1")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.False(t, cfg.MockMode())
	assert.Equal(t, "ws://localhost:9090/ws", cfg.WebSocket.URL)
	assert.Equal(t, DriverNhooyr, cfg.WebSocket.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 0.5, cfg.Mock.StatusChance)
	assert.Equal(t, 9191, cfg.Relay.Port)
	assert.Equal(t, "student-1", cfg.UserID)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts, "untouched keys keep defaults")
}

func TestConfig_LoadFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("STUDYLINK_WEBSOCKET_DRIVER", "carrier-pigeon")

	_, err := LoadFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, "studylink.yaml", `
websocket:
  url: wss://rt.example.com/ws
  ping_interval: 10s
reconnect:
  max_attempts: 3
log:
  level: debug
  development: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://rt.example.com/ws", cfg.WebSocket.URL)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestConfig_LoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "studylink.json", `{"relay": {"port": 7070, "rate_limit": 20}}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Relay.Port)
	assert.Equal(t, 20, cfg.Relay.RateLimit)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFile)

	path := writeFile(t, "bad.yaml", "relay:\n  port: 700000\n")
	_, err = LoadFromFile(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Precedence(t *testing.T) {
	path := writeFile(t, "studylink.yaml", `
relay:
  port: 9000
  host: 127.0.0.1
`)
	t.Setenv("STUDYLINK_RELAY_PORT", "9100")

	cfg, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Relay.Port, "environment beats file")
	assert.Equal(t, "127.0.0.1", cfg.Relay.Host, "file beats defaults")
	assert.Equal(t, 30*time.Second, cfg.Relay.ReadTimeout)
}

func TestConfig_PrecedenceWithoutFile(t *testing.T) {
	cfg, err := LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Relay.Port, cfg.Relay.Port)
}

func TestConfig_DotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "STUDYLINK_USER_ID=from-dotenv\nSTUDYLINK_LOG_LEVEL=warn\n")
	t.Setenv("STUDYLINK_LOG_LEVEL", "error")
	t.Cleanup(func() { os.Unsetenv("STUDYLINK_USER_ID") })

	cfg, err := LoadConfigWithPrecedence("", envFile, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.UserID)
	assert.Equal(t, "error", cfg.Log.Level, "real environment is not overridden")
}
