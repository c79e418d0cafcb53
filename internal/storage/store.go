package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

var (
	// ErrCorrupt means a stored session exists but the engine cannot decode it.
	ErrCorrupt = errors.New("session snapshot is corrupt")
	// ErrInvalidName rejects session names that cannot map to a single storage key.
	ErrInvalidName = errors.New("invalid session name")
	// ErrLocked means another turn holds the session.
	ErrLocked = errors.New("session is locked")
)

// Store keeps the latest snapshot per session. There is no history: Save
// replaces whatever was there.
type Store interface {
	// Load returns nil, nil when the session has never been saved.
	Load(ctx context.Context, session string) (*snapshot.Snapshot, error)
	Save(ctx context.Context, session string, snap snapshot.Snapshot) error
}

// Locker is implemented by stores that can keep two turns off the same session.
type Locker interface {
	AcquireLock(ctx context.Context, key, owner string, timeout time.Duration) error
	ReleaseLock(ctx context.Context, key, owner string) error
}

// ValidateName checks that a session name is usable as a file or object name.
func ValidateName(session string) error {
	switch {
	case session == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case session == "." || session == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, session)
	case strings.ContainsAny(session, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, session)
	}
	return nil
}

// decode runs raw bytes through the engine's decoder, mapping failures to ErrCorrupt.
func decode(dec snapshot.Decoder, session string, raw []byte) (*snapshot.Snapshot, error) {
	snap, err := dec.DecodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: session %q: %v", ErrCorrupt, session, err)
	}
	return &snap, nil
}

// FileName is the per-session file or object name.
func FileName(session string) string {
	return session + ".session"
}
