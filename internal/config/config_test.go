package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.MaxPeers)
	assert.Equal(t, 30*time.Second, cfg.SessionTimeout)
	assert.NotEmpty(t, cfg.ICEServers)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlink.yaml")
	raw := `
signal_url: ws://tracker.example:9000/
max_peers: 3
max_outgoing: 2
session_timeout: 10s
ice_servers:
  - stun:stun.example:3478
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://tracker.example:9000/", cfg.SignalURL)
	assert.Equal(t, 3, cfg.MaxPeers)
	assert.Equal(t, 2, cfg.MaxOutgoing)
	assert.Equal(t, 10*time.Second, cfg.SessionTimeout)
	assert.Equal(t, []string{"stun:stun.example:3478"}, cfg.ICEServers)
	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.GossipInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_peers: 2\nmax_outgoing: 5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_outgoing")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no signal url", func(c *Config) { c.SignalURL = "" }, "signal_url"},
		{"zero peers", func(c *Config) { c.MaxPeers = 0 }, "max_peers"},
		{"negative timeout", func(c *Config) { c.SessionTimeout = -time.Second }, "session_timeout"},
		{"huge chunk", func(c *Config) { c.ChunkSize = 1 << 20 }, "chunk_size"},
		{"zero file limit", func(c *Config) { c.MaxFileSize = 0 }, "max_file_size"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "peerlink.yaml")
	cfg := Default()
	cfg.MaxPeers = 5

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
