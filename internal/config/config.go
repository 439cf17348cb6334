// Package config loads peer settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/middleware"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	maxChunkSize = 256 * 1024
	dbFile       = "peerlink.db"
)

type Config struct {
	SignalURL  string   `yaml:"signal_url"`
	ICEServers []string `yaml:"ice_servers"`

	MaxPeers    int `yaml:"max_peers"`
	MaxOutgoing int `yaml:"max_outgoing"`

	SessionTimeout       time.Duration `yaml:"session_timeout"`
	GossipInterval       time.Duration `yaml:"gossip_interval"`
	TransferStallTimeout time.Duration `yaml:"transfer_stall_timeout"`
	ChunkSize            int           `yaml:"chunk_size"`
	MaxFileSize          int64         `yaml:"max_file_size"`

	DataDir     string `yaml:"data_dir"`
	DownloadDir string `yaml:"download_dir"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		SignalURL:            "ws://localhost:8080/",
		ICEServers:           append([]string(nil), webrtc.DefaultSTUNServers...),
		MaxPeers:             8,
		MaxOutgoing:          4,
		SessionTimeout:       30 * time.Second,
		GossipInterval:       15 * time.Second,
		TransferStallTimeout: 60 * time.Second,
		ChunkSize:            protocol.DefaultChunkSize,
		MaxFileSize:          middleware.DefaultMaxFileSize,
		DataDir:              ".peerlink",
		DownloadDir:          "downloads",
		LogLevel:             "info",
	}
}

// Load reads path over the defaults. An empty or missing path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Validate reports every inconsistent field.
func (c Config) Validate() error {
	var errs error
	if c.SignalURL == "" {
		errs = multierr.Append(errs, errors.New("signal_url is required"))
	}
	if c.MaxPeers <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_peers must be positive, got %d", c.MaxPeers))
	}
	if c.MaxOutgoing <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_outgoing must be positive, got %d", c.MaxOutgoing))
	} else if c.MaxOutgoing > c.MaxPeers {
		errs = multierr.Append(errs, fmt.Errorf("max_outgoing (%d) exceeds max_peers (%d)", c.MaxOutgoing, c.MaxPeers))
	}
	for name, d := range map[string]time.Duration{
		"session_timeout":        c.SessionTimeout,
		"gossip_interval":        c.GossipInterval,
		"transfer_stall_timeout": c.TransferStallTimeout,
	} {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ChunkSize <= 0 || c.ChunkSize > maxChunkSize {
		errs = multierr.Append(errs, fmt.Errorf("chunk_size must be in (0, %d], got %d", maxChunkSize, c.ChunkSize))
	}
	if c.MaxFileSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// DBPath is the sqlite database inside the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, dbFile)
}
