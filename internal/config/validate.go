// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func Validate(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch cfg.Store.Driver {
	case DriverFile:
	case DriverSQLite:
		if cfg.Store.LockTimeoutMs < 0 {
			return fmt.Errorf("store.lock_timeout_ms must be >= 0")
		}
	case DriverS3:
		if cfg.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for driver %q", DriverS3)
		}
		if cfg.Store.S3.Anonymous {
			return fmt.Errorf("store.s3.anonymous cannot be used for sessions: anonymous clients cannot write")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q (want file, sqlite or s3)", cfg.Store.Driver)
	}

	return nil
}
