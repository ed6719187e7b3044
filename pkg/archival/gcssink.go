//go:build gcp

package archival

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSSink mirrors trim batches into a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSSinkConfig configures GCSSink.
type GCSSinkConfig struct {
	Bucket string
	Prefix string
}

// NewGCSSink builds a GCS-backed Sink. Uses Application Default
// Credentials.
func NewGCSSink(ctx context.Context, cfg GCSSinkConfig) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSSink) objectPath(key string) string {
	return s.prefix + key
}

// HasBatch reports whether key has already been mirrored.
func (s *GCSSink) HasBatch(ctx context.Context, key string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	_, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("archival: gcs attrs error for %s: %w", key, err)
	}
	return true, nil
}

// PutBatch uploads data under key.
func (s *GCSSink) PutBatch(ctx context.Context, key string, data []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("archival: gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archival: gcs close failed for %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
