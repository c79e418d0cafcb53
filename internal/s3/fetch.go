package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
)

// FetchAndHash retrieves an object into memory and computes its SHA256 hash.
//
// The object is streamed into the buffer and the hash in a single pass.
func FetchAndHash(ctx context.Context, client *S3Client, key string) ([]byte, string, error) {
	stream, err := client.GetObjectStream(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	var buf bytes.Buffer
	var h hash.Hash = sha256.New()
	writer := io.MultiWriter(&buf, h)

	if _, err := io.Copy(writer, stream); err != nil {
		return nil, "", fmt.Errorf("failed to copy object data: %w", err)
	}

	return buf.Bytes(), fmt.Sprintf("%x", h.Sum(nil)), nil
}
