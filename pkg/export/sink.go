package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink persists a finished bundle and returns where it landed.
type Sink interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
}

// SinkType selects a bundle destination backend.
type SinkType string

const (
	SinkTypeFile SinkType = "file"
	SinkTypeS3   SinkType = "s3"
	SinkTypeGCS  SinkType = "gcs"
)

// NewSinkFromEnv creates a sink from environment variables.
//
//   - EXPORT_SINK: "file" (default), "s3", or "gcs"
//   - EXPORT_DIR: target directory for the file sink (default: "exports")
//
// For S3:
//   - EXPORT_S3_BUCKET (required)
//   - EXPORT_S3_REGION or AWS_REGION
//   - EXPORT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - EXPORT_S3_PREFIX (optional)
//
// For GCS:
//   - EXPORT_GCS_BUCKET (required)
//   - EXPORT_GCS_PREFIX (optional)
func NewSinkFromEnv(ctx context.Context) (Sink, error) {
	sinkType := SinkType(os.Getenv("EXPORT_SINK"))
	if sinkType == "" {
		sinkType = SinkTypeFile
	}

	switch sinkType {
	case SinkTypeFile:
		dir := os.Getenv("EXPORT_DIR")
		if dir == "" {
			dir = "exports"
		}
		return NewFileSink(dir)
	case SinkTypeS3:
		return newS3SinkFromEnv(ctx)
	case SinkTypeGCS:
		return newGCSSinkFromEnv(ctx)
	default:
		return nil, fmt.Errorf("export: unsupported sink type: %s", sinkType)
	}
}

// FileSink writes bundles into a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates the target directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: ensuring sink dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Store writes the bundle through a temp file so a crash never leaves a
// truncated archive under the final name.
func (s *FileSink) Store(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("export: writing bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("export: placing bundle: %w", err)
	}
	return path, nil
}

func newS3SinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("EXPORT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("export: EXPORT_S3_BUCKET is required for the s3 sink")
	}

	region := os.Getenv("EXPORT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Sink(ctx, S3SinkConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("EXPORT_S3_ENDPOINT"),
		Prefix:   os.Getenv("EXPORT_S3_PREFIX"),
	})
}
