package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const lockRetryInterval = 100 * time.Millisecond

// AcquireLock claims key for owner, retrying until timeout elapses.
func AcquireLock(ctx context.Context, db *sql.DB, key, owner string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	logrus.Infof("Attempting to acquire lock: key=%s, owner=%s, timeout=%s", key, owner, timeout)

	for {
		res, err := db.ExecContext(ctx, `
			INSERT INTO locks (k, v) VALUES (?, ?)
			ON CONFLICT(k) DO NOTHING
		`, key, owner)
		if err != nil {
			logrus.Errorf("Failed to insert lock %s: %v", key, err)
			return fmt.Errorf("failed to insert lock %s: %w", key, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read lock result for %s: %w", key, err)
		}
		if n == 1 {
			logrus.Infof("Lock acquired successfully: key=%s, owner=%s", key, owner)
			return nil
		}

		if !time.Now().Before(deadline) {
			logrus.Errorf("Failed to acquire lock %s within %s", key, timeout)
			return fmt.Errorf("%w: %s not acquired within %s", ErrLocked, key, timeout)
		}

		logrus.Infof("Lock %s is held by another process, retrying in %s...", key, lockRetryInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// ReleaseLock drops key if owner still holds it.
func ReleaseLock(ctx context.Context, db *sql.DB, key, owner string) error {
	logrus.Infof("Attempting to release lock: key=%s, owner=%s", key, owner)
	_, err := db.ExecContext(ctx, `
		DELETE FROM locks WHERE k = ? AND v = ?
	`, key, owner)

	if err == nil {
		logrus.Infof("Lock released successfully: key=%s, owner=%s", key, owner)
	} else {
		logrus.Errorf("Failed to release lock %s: %v", key, err)
	}

	return err
}

func (s *SQLiteStore) AcquireLock(ctx context.Context, key, owner string, timeout time.Duration) error {
	return AcquireLock(ctx, s.db, key, owner, timeout)
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, key, owner string) error {
	return ReleaseLock(ctx, s.db, key, owner)
}
