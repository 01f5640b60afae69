package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// minPartSize is the S3 multipart minimum (5 MiB). Bodies above it go
// through the uploader.
const minPartSize = 5 * 1024 * 1024

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectUploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Writer stores archive objects under an optional per-deployment prefix so
// several bots can share one bucket.
type Writer struct {
	put       objectPutter
	upload    objectUploader
	bucket    string
	prefix    string
	threshold int
}

// NewWriter uploads into c's bucket. prefix may be empty.
func NewWriter(c *Client, prefix string) *Writer {
	uploader := manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = minPartSize
	})
	return &Writer{
		put:       c.s3,
		upload:    uploader,
		bucket:    c.bucket,
		prefix:    strings.Trim(prefix, "/"),
		threshold: minPartSize,
	}
}

// PutObject stores body at key. Bodies larger than one part are split by
// the multipart uploader; both paths carry the content type.
func (w *Writer) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if len(body) > w.threshold {
		if _, err := w.upload.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", *in.Key, err)
		}
		return nil
	}
	in.ContentLength = aws.Int64(int64(len(body)))
	if _, err := w.put.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", *in.Key, err)
	}
	return nil
}

func (w *Writer) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if w.prefix == "" {
		return key
	}
	return path.Join(w.prefix, key)
}

var _ domain.BlobWriter = (*Writer)(nil)
