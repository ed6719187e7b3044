//go:build gcp

package archival

import (
	"context"
	"fmt"
	"os"
)

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("ARCHIVAL_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("archival: ARCHIVAL_GCS_BUCKET is required for gcs sink")
	}

	return NewGCSSink(ctx, GCSSinkConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ARCHIVAL_GCS_PREFIX"),
	})
}
