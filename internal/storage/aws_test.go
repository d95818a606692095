package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestKey(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "uploads/L1/20260304T050607Z-q3_list.csv", Key("L1", "q3 list.csv", at))
	assert.Equal(t, "uploads/L1/20260304T050607Z-evil.csv", Key("L1", "../../evil.csv", at))
	assert.Equal(t, "uploads/L_1/20260304T050607Z-upload.csv", Key("L/1", "", at))
}

func TestArchivePutsObject(t *testing.T) {
	api := &fakeS3{}
	a := NewS3Archiver(api, "mailer-uploads")
	a.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	key, err := a.Archive(context.Background(), "L1", "q3.csv", strings.NewReader("a,b\n1,2\n"), 8)
	require.NoError(t, err)
	assert.Equal(t, "uploads/L1/20260304T050607Z-q3.csv", key)

	require.NotNil(t, api.in)
	assert.Equal(t, "mailer-uploads", aws.ToString(api.in.Bucket))
	assert.Equal(t, key, aws.ToString(api.in.Key))
	assert.EqualValues(t, 8, aws.ToInt64(api.in.ContentLength))
	assert.Equal(t, "text/csv", aws.ToString(api.in.ContentType))
	assert.Equal(t, "L1", api.in.Metadata["list-id"])
	assert.Equal(t, "a,b\n1,2\n", api.body)
}

func TestArchiveWrapsError(t *testing.T) {
	a := NewS3Archiver(&fakeS3{err: errors.New("AccessDenied")}, "b")
	_, err := a.Archive(context.Background(), "L1", "f.csv", strings.NewReader("x"), 1)
	assert.ErrorContains(t, err, "AccessDenied")
}
