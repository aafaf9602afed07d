//go:build gcp

package archive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSArchiver implements PlanArchiver against a Google Cloud Storage bucket,
// grounded on pkg/artifacts/gcs_store.go's client setup.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver constructs a GCSArchiver for bucket, rooting exported plans
// under prefix. Uses Application Default Credentials, as the teacher's
// GCSStore does.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}, nil
}

func (a *GCSArchiver) key(snap PlanSnapshot) string {
	return a.prefix + objectKey(snap)
}

// Archive writes snap to GCS and returns its gs:// location.
func (a *GCSArchiver) Archive(ctx context.Context, snap PlanSnapshot) (string, error) {
	data, err := marshal(snap)
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	key := a.key(snap)
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: close object writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, key), nil
}

// Retrieve reads a plan snapshot back from its gs:// location.
func (a *GCSArchiver) Retrieve(ctx context.Context, location string) (PlanSnapshot, error) {
	bucket, key, err := parseGCSLocation(location)
	if err != nil {
		return PlanSnapshot{}, err
	}
	r, err := a.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return PlanSnapshot{}, fmt.Errorf("archive: open object reader: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return PlanSnapshot{}, fmt.Errorf("archive: read object body: %w", err)
	}
	return unmarshal(data)
}

func parseGCSLocation(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return "", "", fmt.Errorf("archive: not a gs:// location: %q", location)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("archive: malformed gs location: %q", location)
	}
	return parts[0], parts[1], nil
}

func newGCSArchiverFromURI(ctx context.Context, uri string) (PlanArchiver, error) {
	bucket, prefix, err := parseGCSLocation(uri)
	if err != nil {
		return nil, err
	}
	return NewGCSArchiver(ctx, bucket, prefix)
}
