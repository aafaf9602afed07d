package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver implements PlanArchiver against an S3-compatible bucket,
// grounded on pkg/artifacts/s3_store.go's client setup and object-key
// convention.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver constructs an S3Archiver for bucket, rooting exported plans
// under prefix.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (a *S3Archiver) key(snap PlanSnapshot) string {
	return a.prefix + objectKey(snap)
}

// Archive writes snap to S3 and returns its s3:// location.
func (a *S3Archiver) Archive(ctx context.Context, snap PlanSnapshot) (string, error) {
	data, err := marshal(snap)
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	key := a.key(snap)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// Retrieve reads a plan snapshot back from its s3:// location.
func (a *S3Archiver) Retrieve(ctx context.Context, location string) (PlanSnapshot, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return PlanSnapshot{}, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return PlanSnapshot{}, fmt.Errorf("archive: get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return PlanSnapshot{}, fmt.Errorf("archive: read object body: %w", err)
	}
	return unmarshal(data)
}

func parseS3Location(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("archive: not an s3:// location: %q", location)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("archive: malformed s3 location: %q", location)
	}
	return parts[0], parts[1], nil
}

func newS3ArchiverFromURI(ctx context.Context, uri string) (PlanArchiver, error) {
	bucket, prefix, err := parseS3Location(uri)
	if err != nil {
		return nil, err
	}
	return NewS3Archiver(ctx, bucket, prefix)
}
