package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// FileStore keeps each session in <dir>/<session>.session as raw snapshot bytes.
type FileStore struct {
	dir string
	dec snapshot.Decoder
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if needed.
func NewFileStore(dir string, dec snapshot.Decoder) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if dec == nil {
		dec = snapshot.Opaque
	}
	return &FileStore{dir: dir, dec: dec}, nil
}

// Path returns the file a session is stored in.
func (s *FileStore) Path(session string) string {
	return filepath.Join(s.dir, FileName(session))
}

func (s *FileStore) Load(ctx context.Context, session string) (*snapshot.Snapshot, error) {
	if err := ValidateName(session); err != nil {
		return nil, err
	}

	path := s.Path(session)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.Infof("No session file at %s", path)
			return nil, nil
		}
		logrus.Errorf("Failed to read session file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read session file %s: %w", path, err)
	}

	logrus.Infof("Read %d bytes from session file %s", len(raw), path)
	return decode(s.dec, session, raw)
}

// Save writes to a temp file in the same directory and renames it over the
// old session file, so readers see either the old or the new snapshot.
func (s *FileStore) Save(ctx context.Context, session string, snap snapshot.Snapshot) error {
	if err := ValidateName(session); err != nil {
		return err
	}

	path := s.Path(session)
	tmp, err := os.CreateTemp(s.dir, FileName(session)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(snap.Bytes()); err != nil {
		tmp.Close()
		logrus.Errorf("Failed to write session file %s: %v", tmpName, err)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		logrus.Errorf("Failed to move session file into place at %s: %v", path, err)
		return fmt.Errorf("failed to replace session file %s: %w", path, err)
	}

	logrus.Infof("Wrote %d bytes to session file %s", snap.Len(), path)
	return nil
}
