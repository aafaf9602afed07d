//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSArchiverFromURI(ctx context.Context, uri string) (PlanArchiver, error) {
	return nil, fmt.Errorf("archive: GCS backend not enabled in this build (use -tags gcp)")
}
