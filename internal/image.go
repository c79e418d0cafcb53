package internal

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal/s3"
)

// S3Dialer opens a client for a bucket named in an s3:// image path.
type S3Dialer func(ctx context.Context, bucket string) (*s3.S3Client, error)

// ReadImage loads a game image from a local path or an s3://bucket/key URL
// and returns it with its sha256 digest.
func ReadImage(ctx context.Context, src string, dial S3Dialer) ([]byte, string, error) {
	if bucket, key, ok := s3.ParseURL(src); ok {
		if dial == nil {
			return nil, "", fmt.Errorf("cannot fetch %s: no S3 client configured", src)
		}
		client, err := dial(ctx, bucket)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create S3 client for %s: %w", bucket, err)
		}

		logrus.Infof("Fetching image %s", src)
		data, digest, err := s3.FetchAndHash(ctx, client, key)
		if err != nil {
			logrus.Errorf("Failed to fetch image %s: %v", src, err)
			return nil, "", fmt.Errorf("failed to fetch image %s: %w", src, err)
		}
		return data, digest, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		logrus.Errorf("Failed to read image %s: %v", src, err)
		return nil, "", fmt.Errorf("failed to read image %s: %w", src, err)
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}
