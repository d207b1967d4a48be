package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	TickMS      int    `yaml:"tick_ms"`      // 5 (by default)
	IdleLimit   int    `yaml:"idle_limit"`   // 0 (by default, never give up)
	LogLevel    string `yaml:"log_level"`    // info
	LogFormat   string `yaml:"log_format"`   // text
	CSVPath     string `yaml:"csv_path"`     // empty disables the CSV event log
	MetricsAddr string `yaml:"metrics_addr"` // empty disables /metrics
}

// If the config file is not found, we use default values
func DefaultConfig() Config {
	return Config{
		TickMS:    5,
		IdleLimit: 0,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads YAML and overrides defaults; empty path or missing file =
// defaults only. A file that exists but cannot be read or parsed is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	// sanity clamps
	if cfg.TickMS <= 0 {
		cfg.TickMS = 5
	}
	if cfg.IdleLimit < 0 {
		cfg.IdleLimit = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	return cfg, nil
}
