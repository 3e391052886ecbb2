package objectstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the C1 contract: content-addressed bytes keyed by path,
// gzip at rest, atomic publication, streaming reads, existence probe.
// *Store implements it against S3; tests use an in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	PutAtomic(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
}

var _ ObjectStore = (*Store)(nil)

// s3API is the subset of *s3.Client's method set Store calls, narrowed so
// tests can substitute a fake that drives PutAtomic's retry/backoff path
// (I3) without a real bucket.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

var _ s3API = (*s3.Client)(nil)
