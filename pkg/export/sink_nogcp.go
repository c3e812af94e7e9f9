//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	return nil, fmt.Errorf("export: the gcs sink is not enabled in this build (use -tags gcp)")
}
