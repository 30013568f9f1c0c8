package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/relaynet/internal/queue"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	assert.Equal(t, "127.0.0.1:50000", cfg.Server.Addr())
	assert.True(t, cfg.Server.Echo)
	assert.Equal(t, 10*time.Second, cfg.Server.JoinTimeout)
	assert.Equal(t, 64*1024, cfg.Server.MaxFrameSize)
	assert.Zero(t, cfg.Server.Inbox.Capacity, "inbox is unbounded by default")
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.False(t, cfg.Server.WebSocket.Enabled)
	assert.Equal(t, "/ws", cfg.Server.WebSocket.Path)
	assert.Equal(t, 50*time.Millisecond, cfg.Client.PollInterval)
	assert.Equal(t, "tcp", cfg.Client.Transport)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relaynet.yaml")
	yaml := `
server:
  port: 6000
  echo: false
  join_timeout: 2s
  inbox:
    capacity: 128
    overflow: block
    block_timeout: 250ms
client:
  name: Alice
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.False(t, cfg.Server.Echo)
	assert.Equal(t, 2*time.Second, cfg.Server.JoinTimeout)
	assert.Equal(t, 128, cfg.Server.Inbox.Capacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.Inbox.BlockTimeout)
	assert.Equal(t, "Alice", cfg.Client.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultHost, cfg.Server.Host, "unset keys keep defaults")

	policy, err := cfg.Server.Inbox.Policy()
	require.NoError(t, err)
	assert.Equal(t, queue.Block, policy)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RELAYNET_SERVER_PORT", "7000")
	t.Setenv("RELAYNET_CLIENT_NAME", "Bob")
	t.Setenv("RELAYNET_SERVER_ECHO", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing-but-explicit.yaml"))
	require.Error(t, err, "an explicit path that does not exist is an error")
	assert.Nil(t, cfg)

	t.Chdir(t.TempDir())
	cfg, err = Load("")
	require.NoError(t, err, "a missing default file falls back to defaults and env")

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "Bob", cfg.Client.Name)
	assert.False(t, cfg.Server.Echo)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"client port negative", func(c *Config) { c.Client.Port = -1 }},
		{"zero frame size", func(c *Config) { c.Server.MaxFrameSize = 0 }},
		{"negative capacity", func(c *Config) { c.Server.Inbox.Capacity = -5 }},
		{"bad overflow", func(c *Config) { c.Server.Inbox.Overflow = "spill" }},
		{"rate limit without burst", func(c *Config) { c.Server.RateLimit.Burst = 0 }},
		{"bad transport", func(c *Config) { c.Client.Transport = "carrier-pigeon" }},
		{"blank name", func(c *Config) { c.Client.Name = "  " }},
		{"websocket path", func(c *Config) {
			c.Server.WebSocket.Enabled = true
			c.Server.WebSocket.Path = "ws"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
