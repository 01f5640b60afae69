package domain

import "context"

// BlobWriter stores one object in the archive bucket. The implementation
// picks a single PUT or a multipart upload from the body size.
type BlobWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}
