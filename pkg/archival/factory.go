package archival

import (
	"context"
	"fmt"
	"os"
)

// SinkType selects which cold-storage backend NewSinkFromEnv builds.
type SinkType string

const (
	SinkTypeNone SinkType = ""
	SinkTypeS3   SinkType = "s3"
	SinkTypeGCS  SinkType = "gcs"
)

// NewSinkFromEnv builds a Sink from environment variables, or returns a
// nil Sink (no error) when ARCHIVAL_SINK_TYPE is unset: retention
// archival is optional, and a nil Sink makes Mirror.MirrorTrim a no-op.
//
// Environment variables:
//   - ARCHIVAL_SINK_TYPE: "" (disabled, default), "s3", or "gcs"
//
// For S3:
//   - AWS_REGION or ARCHIVAL_S3_REGION
//   - ARCHIVAL_S3_BUCKET (required)
//   - ARCHIVAL_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - ARCHIVAL_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - ARCHIVAL_GCS_BUCKET (required)
//   - ARCHIVAL_GCS_PREFIX (optional)
func NewSinkFromEnv(ctx context.Context) (Sink, error) {
	sinkType := SinkType(os.Getenv("ARCHIVAL_SINK_TYPE"))

	switch sinkType {
	case SinkTypeNone:
		return nil, nil
	case SinkTypeS3:
		return newS3SinkFromEnv(ctx)
	case SinkTypeGCS:
		return newGCSSinkFromEnv(ctx)
	default:
		return nil, fmt.Errorf("archival: unsupported sink type %q", sinkType)
	}
}

func newS3SinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("ARCHIVAL_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("archival: ARCHIVAL_S3_BUCKET is required for s3 sink")
	}

	region := os.Getenv("ARCHIVAL_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Sink(ctx, S3SinkConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ARCHIVAL_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARCHIVAL_S3_PREFIX"),
	})
}
