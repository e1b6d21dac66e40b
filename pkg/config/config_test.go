package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Messaging.ReplyTimeout)
	assert.Equal(t, 30*time.Second, cfg.Bridge.Timeout)
	assert.Contains(t, cfg.Bridge.RestrictedOrigins, "chrome://*")
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "normal", cfg.Logging.Verbosity)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
messaging:
  reply_timeout: 5s
ports:
  max_per_context: 2
bridge:
  timeout: 1500ms
  all_frames: true
  restricted_origins:
    - "https://*.internal.test/*"
logging:
  verbosity: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Messaging.ReplyTimeout)
	assert.Equal(t, 2, cfg.Ports.MaxPerContext)
	assert.Equal(t, 1500*time.Millisecond, cfg.Bridge.Timeout)
	assert.True(t, cfg.Bridge.AllFrames)
	assert.Equal(t, []string{"https://*.internal.test/*"}, cfg.Bridge.RestrictedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Verbosity)

	// Untouched sections keep their defaults.
	assert.Equal(t, 256, cfg.Registry.MaxTabs)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "messaging: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "logging:\n  verbosity: loud\n"))
	assert.ErrorContains(t, err, "invalid logging verbosity")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero reply timeout", mutate: func(c *Config) { c.Messaging.ReplyTimeout = 0 }, wantErr: "reply_timeout"},
		{name: "negative ports", mutate: func(c *Config) { c.Ports.MaxPerContext = -1 }, wantErr: "max_per_context"},
		{name: "zero bridge timeout", mutate: func(c *Config) { c.Bridge.Timeout = 0 }, wantErr: "bridge.timeout"},
		{name: "bad origin glob", mutate: func(c *Config) { c.Bridge.RestrictedOrigins = []string{"[oops"} }, wantErr: "restricted_origins"},
		{name: "bad allowed glob", mutate: func(c *Config) { c.Bridge.AllowedOrigins = []string{"[oops"} }, wantErr: "allowed_origins"},
		{name: "no tabs", mutate: func(c *Config) { c.Registry.MaxTabs = 0 }, wantErr: "max_tabs"},
		{name: "negative viewport", mutate: func(c *Config) { c.Browser.ViewportWidth = -1 }, wantErr: "viewport"},
		{name: "bad verbosity", mutate: func(c *Config) { c.Logging.Verbosity = "chatty" }, wantErr: "verbosity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	cfg := DefaultConfig()
	cfg.Logging.Verbosity = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "normal", cfg.Logging.Verbosity)
}
