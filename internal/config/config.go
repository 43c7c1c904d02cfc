// File: internal/config/config.go
// Project: Coldport
// Description: Static YAML configuration, with the store able to override
//              server_port/s2s_port at runtime
package config

import (
	"fmt"
	"os"

	"github.com/coldport/coldport-server/internal/logger"
	"gopkg.in/yaml.v3"
)

var log = logger.WithComponent("Config")

// Static is everything read once at process start from a YAML file. It
// does not include server_port/s2s_port: those live in the store's config
// table and are resolved by ResolvePorts so an operator can change them
// without touching the file.
type Static struct {
	Database struct {
		Path          string `yaml:"path"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	RateLimit struct {
		Enabled             bool `yaml:"enabled"`
		MaxConnectionsPerIP int  `yaml:"max_connections_per_ip"`
		MaxAuthAttempts     int  `yaml:"max_auth_attempts"`
	} `yaml:"rate_limit"`

	Cron struct {
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"cron"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

const DefaultConfigFileName = "coldport.yaml"

func Default() *Static {
	cfg := &Static{}
	cfg.Database.Path = "./data/coldport.db"
	cfg.Database.BusyTimeoutMS = 5000
	cfg.Database.MaxOpenConns = 8
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ":8080"
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.MaxConnectionsPerIP = 5
	cfg.RateLimit.MaxAuthAttempts = 5
	cfg.Cron.TickInterval = "10s"
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads path, writing a default file first if none exists.
func Load(path string) (*Static, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		log.Info("No config file at %s, wrote defaults", path)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func (c *Static) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
