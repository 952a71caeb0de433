// Package gcs archives page snapshots in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and object settings for snapshots.
type Config struct {
	Bucket       string
	CacheControl string
}

// objectWriter is the part of *storage.Writer the store needs.
type objectWriter interface {
	io.WriteCloser
}

type writerFactory func(ctx context.Context, bucket, path, contentType, cacheControl string) objectWriter

// BlobStore writes snapshots to a configured GCS bucket.
type BlobStore struct {
	newWriter writerFactory
	cfg       Config
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newBlobStore(func(ctx context.Context, bucket, path, contentType, cacheControl string) objectWriter {
		w := client.Bucket(bucket).Object(path).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = cacheControl
		return w
	}, cfg)
}

func newBlobStore(factory writerFactory, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "private, max-age=0"
	}
	return &BlobStore{newWriter: factory, cfg: cfg}, nil
}

// PutObject uploads r and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.newWriter(ctx, s.cfg.Bucket, path, contentType, s.cfg.CacheControl)
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, path), nil
}
