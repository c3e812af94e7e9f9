//go:build gcp

package export

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
)

// GCSSink uploads bundles to a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSSinkConfig holds configuration for GCSSink.
type GCSSinkConfig struct {
	Bucket string
	Prefix string // Optional object prefix
}

// NewGCSSink creates a GCS-backed bundle sink. Credentials come from
// Application Default Credentials.
func NewGCSSink(ctx context.Context, cfg GCSSinkConfig) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: creating GCS client: %w", err)
	}
	return &GCSSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads the bundle and returns its gs:// location.
func (s *GCSSink) Store(ctx context.Context, name string, data []byte) (string, error) {
	objectPath := s.prefix + name
	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = "application/zip"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("export: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("export: gcs close failed: %w", err)
	}
	return "gs://" + s.bucket + "/" + objectPath, nil
}

// Close closes the GCS client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("EXPORT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("export: EXPORT_GCS_BUCKET is required for the gcs sink")
	}
	return NewGCSSink(ctx, GCSSinkConfig{
		Bucket: bucket,
		Prefix: os.Getenv("EXPORT_GCS_PREFIX"),
	})
}
