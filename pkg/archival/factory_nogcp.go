//go:build !gcp

package archival

import (
	"context"
	"fmt"
)

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	return nil, fmt.Errorf("archival: GCS sink is not enabled in this build (use -tags gcp)")
}
