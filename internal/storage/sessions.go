package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// A row in the `sessions` table
type SessionRow struct {
	Name      string
	Snapshot  []byte
	SizeBytes int64
	Digest    string
	UpdatedAt string
}

// SQLiteStore keeps sessions as rows in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	dec snapshot.Decoder
}

func NewSQLiteStore(db *sql.DB, dec snapshot.Decoder) *SQLiteStore {
	if dec == nil {
		dec = snapshot.Opaque
	}
	return &SQLiteStore{db: db, dec: dec}
}

// UpsertSession inserts or replaces the snapshot for a session.
func UpsertSession(ctx context.Context, db *sql.DB, name string, data []byte) error {
	digest := fmt.Sprintf("%x", sha256.Sum256(data))
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (name, snapshot, size_bytes, digest, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			snapshot=excluded.snapshot,
			size_bytes=excluded.size_bytes,
			digest=excluded.digest,
			updated_at=excluded.updated_at
		`, name, data, len(data), digest)
	return err
}

// GetSession returns nil, nil when no row exists for name.
func GetSession(ctx context.Context, db *sql.DB, name string) (*SessionRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT name, snapshot, size_bytes, digest, updated_at FROM sessions WHERE name = ?`, name,
	)

	var s SessionRow
	if err := row.Scan(&s.Name, &s.Snapshot, &s.SizeBytes, &s.Digest, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (s *SQLiteStore) Load(ctx context.Context, session string) (*snapshot.Snapshot, error) {
	if err := ValidateName(session); err != nil {
		return nil, err
	}

	row, err := GetSession(ctx, s.db, session)
	if err != nil {
		logrus.Errorf("Failed to query session %s: %v", session, err)
		return nil, fmt.Errorf("failed to query session %s: %w", session, err)
	}
	if row == nil {
		logrus.Infof("No stored snapshot for session %s", session)
		return nil, nil
	}

	logrus.Infof("Loaded %d byte snapshot for session %s (digest %s)", row.SizeBytes, session, row.Digest)
	return decode(s.dec, session, row.Snapshot)
}

func (s *SQLiteStore) Save(ctx context.Context, session string, snap snapshot.Snapshot) error {
	if err := ValidateName(session); err != nil {
		return err
	}

	if err := UpsertSession(ctx, s.db, session, snap.Bytes()); err != nil {
		logrus.Errorf("Failed to upsert session %s: %v", session, err)
		return fmt.Errorf("failed to upsert session %s: %w", session, err)
	}

	logrus.Infof("Stored %d byte snapshot for session %s", snap.Len(), session)
	return nil
}
