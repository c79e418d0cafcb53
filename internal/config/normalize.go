// internal/config/normalize.go
package config

import "strings"

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverS3     = "s3"
)

func normalize(cfg *Config) {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverFile
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "."
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "vmturn.db"
	}
	if cfg.Store.LockTimeoutMs == 0 {
		cfg.Store.LockTimeoutMs = 2000
	}
	if cfg.Store.S3.Region == "" {
		cfg.Store.S3.Region = "us-east-1"
	}

	// 0 means "use the controller default"
	if cfg.Engine.MaxEvents < 0 {
		cfg.Engine.MaxEvents = 0
	}
}
