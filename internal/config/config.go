// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VMTURN_STORE_DRIVER.
const EnvPrefix = "VMTURN_"

// DefaultFile is read from the working directory when VMTURN_CONFIG is unset.
const DefaultFile = "vmturn.yaml"

type Config struct {
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
	Store  StoreConfig  `yaml:"store" envPrefix:"STORE_"`
	Engine EngineConfig `yaml:"engine" envPrefix:"ENGINE_"`
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// ---- STORE ----

type StoreConfig struct {
	Driver        string   `yaml:"driver" env:"DRIVER"` // file | sqlite | s3
	Dir           string   `yaml:"dir" env:"DIR"`
	SQLitePath    string   `yaml:"sqlite_path" env:"SQLITE_PATH"`
	LockTimeoutMs int      `yaml:"lock_timeout_ms" env:"LOCK_TIMEOUT_MS"`
	S3            S3Config `yaml:"s3" envPrefix:"S3_"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Region    string `yaml:"region" env:"REGION"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Anonymous bool   `yaml:"anonymous" env:"ANONYMOUS"` // image fetches from public buckets only
}

// ---- ENGINE ----

type EngineConfig struct {
	MaxEvents int `yaml:"max_events" env:"MAX_EVENTS"`
}

// Load reads the YAML file at path (if path is non-empty), applies
// environment overrides and fills in defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	normalize(&cfg)
	return &cfg, nil
}

// Path picks the config file: VMTURN_CONFIG, else DefaultFile if it exists, else none.
func Path() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultFile); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return DefaultFile
}
