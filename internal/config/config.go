package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.cardex/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	Backend        BackendConfig  `toml:"backend"`
	Realtime       RealtimeConfig `toml:"realtime"`
	Daemon         DaemonConfig   `toml:"daemon"`
}

// BackendConfig holds the marketplace row-store endpoint settings.
type BackendConfig struct {
	URL     string `toml:"url"`
	AnonKey string `toml:"anon_key"`
}

// RealtimeConfig holds the change-notifier endpoint settings.
type RealtimeConfig struct {
	URL string `toml:"url"`
}

// DaemonConfig holds local daemon settings.
type DaemonConfig struct {
	Listen string `toml:"listen"`
}

// DefaultListen is the loopback address the daemon API binds to when the
// config does not specify one.
const DefaultListen = "127.0.0.1:7420"

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = DefaultListen
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
