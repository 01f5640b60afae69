package s3blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPut struct {
	key, contentType string
	body             []byte
}

type fakeS3 struct {
	puts    []recordedPut
	uploads []recordedPut
	err     error
}

func record(in *s3.PutObjectInput) recordedPut {
	b, _ := io.ReadAll(in.Body)
	return recordedPut{key: aws.ToString(in.Key), contentType: aws.ToString(in.ContentType), body: b}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, record(in))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploads = append(f.uploads, record(in))
	return &manager.UploadOutput{}, nil
}

func newTestWriter(prefix string, threshold int) (*Writer, *fakeS3) {
	f := &fakeS3{}
	return &Writer{put: f, upload: f, bucket: "copybot-data", prefix: prefix, threshold: threshold}, f
}

func TestPutObjectSmallBodyUsesSinglePut(t *testing.T) {
	w, f := newTestWriter("", minPartSize)

	require.NoError(t, w.PutObject(context.Background(), "deadletters/a.jsonl", []byte("{}\n"), jsonlContentType))

	require.Len(t, f.puts, 1)
	assert.Empty(t, f.uploads)
	assert.Equal(t, "deadletters/a.jsonl", f.puts[0].key)
	assert.Equal(t, jsonlContentType, f.puts[0].contentType)
	assert.Equal(t, "{}\n", string(f.puts[0].body))
}

func TestPutObjectLargeBodyKeepsContentType(t *testing.T) {
	w, f := newTestWriter("", 4)

	require.NoError(t, w.PutObject(context.Background(), "big.jsonl", []byte("0123456789"), jsonlContentType))

	assert.Empty(t, f.puts)
	require.Len(t, f.uploads, 1)
	assert.Equal(t, jsonlContentType, f.uploads[0].contentType)
	assert.Len(t, f.uploads[0].body, 10)
}

func TestPutObjectAppliesDeploymentPrefix(t *testing.T) {
	w, f := newTestWriter("bot-eu", minPartSize)

	require.NoError(t, w.PutObject(context.Background(), "/deadletters/x.jsonl", nil, jsonlContentType))
	assert.Equal(t, "bot-eu/deadletters/x.jsonl", f.puts[0].key)
}

func TestPutObjectWrapsErrorWithKey(t *testing.T) {
	w, f := newTestWriter("p", minPartSize)
	f.err = errors.New("access denied")

	err := w.PutObject(context.Background(), "k", []byte("x"), jsonlContentType)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p/k")
	assert.ErrorIs(t, err, f.err)
}
