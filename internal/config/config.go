// Package config holds the peer's tunables: compiled-in defaults,
// optionally overridden by a YAML file. No command-line flag overrides
// an individual tunable; cmd/chordnode only takes the YAML file's path
// (--config).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime tunable for a peer.
type Config struct {
	Bits                  uint          `yaml:"m"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout"`
	MaxRetries            int           `yaml:"max_retries"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	BackoffFactor         float64       `yaml:"backoff_factor"`
	MaxConcurrentHandlers int64         `yaml:"max_concurrent_handlers"`
	StabilizeInterval     time.Duration `yaml:"t_stabilize"`
	FixFingersInterval    time.Duration `yaml:"t_fix_fingers"`
	RefreshInterval       time.Duration `yaml:"t_refresh"`
	HandlerDeadline       time.Duration `yaml:"handler_deadline"`
	DataStoreDir          string        `yaml:"data_store_dir"`
}

// Default returns the documented default for every tunable.
func Default() Config {
	return Config{
		Bits:                  10,
		ConnectionTimeout:     1 * time.Second,
		MaxRetries:            3,
		RetryDelay:            200 * time.Millisecond,
		BackoffFactor:         2,
		MaxConcurrentHandlers: 50,
		StabilizeInterval:     1 * time.Second,
		FixFingersInterval:    1 * time.Second,
		RefreshInterval:       30 * time.Second,
		HandlerDeadline:       5 * time.Second,
		DataStoreDir:          "data_stores",
	}
}

// Load returns Default(), overridden by the YAML file at path. A path of
// "" or a missing file is not an error: Load returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
