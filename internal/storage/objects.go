package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal/s3"
	"github.com/manuelinfosec/vmturn/internal/snapshot"
)

// S3Store keeps each session as the object <prefix><session>.session.
type S3Store struct {
	client *s3.S3Client
	prefix string
	dec    snapshot.Decoder
}

func NewS3Store(client *s3.S3Client, prefix string, dec snapshot.Decoder) *S3Store {
	if dec == nil {
		dec = snapshot.Opaque
	}
	return &S3Store{client: client, prefix: prefix, dec: dec}
}

// Key returns the object key a session is stored under.
func (s *S3Store) Key(session string) string {
	return s.prefix + FileName(session)
}

func (s *S3Store) Load(ctx context.Context, session string) (*snapshot.Snapshot, error) {
	if err := ValidateName(session); err != nil {
		return nil, err
	}

	key := s.Key(session)
	stream, err := s.client.GetObjectStream(ctx, key)
	if err != nil {
		if errors.Is(err, s3.ErrNotFound) {
			logrus.Infof("No session object at s3://%s/%s", s.client.Bucket, key)
			return nil, nil
		}
		logrus.Errorf("Failed to fetch session object %s: %v", key, err)
		return nil, err
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read session object %s: %w", key, err)
	}

	logrus.Infof("Read %d bytes from s3://%s/%s", len(raw), s.client.Bucket, key)
	return decode(s.dec, session, raw)
}

func (s *S3Store) Save(ctx context.Context, session string, snap snapshot.Snapshot) error {
	if err := ValidateName(session); err != nil {
		return err
	}

	key := s.Key(session)
	if err := s.client.PutObject(ctx, key, snap.Bytes()); err != nil {
		logrus.Errorf("Failed to store session object %s: %v", key, err)
		return err
	}

	logrus.Infof("Wrote %d bytes to s3://%s/%s", snap.Len(), s.client.Bucket, key)
	return nil
}
