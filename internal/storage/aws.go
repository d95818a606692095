// Package storage archives uploaded contact files to S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes uploads under uploads/{listId}/.
type S3Archiver struct {
	client S3API
	bucket string
	now    func() time.Time
}

// NewS3Archiver wraps client for bucket.
func NewS3Archiver(client S3API, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, now: time.Now}
}

// NewS3ArchiverFromConfig loads the default AWS config for region, using the
// named shared profile when set.
func NewS3ArchiverFromConfig(ctx context.Context, bucket, region, profile string) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewS3Archiver(s3.NewFromConfig(cfg), bucket), nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key returns the object key for an upload received at t.
func Key(listID, filename string, t time.Time) string {
	name := unsafeKeyChars.ReplaceAllString(path.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "upload.csv"
	}
	return fmt.Sprintf("uploads/%s/%s-%s",
		unsafeKeyChars.ReplaceAllString(listID, "_"),
		t.UTC().Format("20060102T150405Z"),
		name)
}

// Archive stores body and returns its key.
func (a *S3Archiver) Archive(ctx context.Context, listID, filename string, body io.Reader, size int64) (string, error) {
	key := Key(listID, filename, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("text/csv"),
		Metadata:      map[string]string{"list-id": listID, "filename": filename},
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}
	return key, nil
}
