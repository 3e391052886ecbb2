package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeFor("a/b.json", ""))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a/b.bin", ""))
	assert.Equal(t, "text/plain", contentTypeFor("a/b.json", "text/plain"))
}

// TestGzipRoundTrip exercises the identity law from I3: JSON encode -> gzip
// -> ungzip -> decode is the identity, independent of the S3 client.
func TestGzipRoundTrip(t *testing.T) {
	original := []byte(`{"slot":7654321,"network":"mainnet"}`)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(original)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	gr, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	got, err := io.ReadAll(gr)
	require.NoError(t, err)

	assert.Equal(t, original, got)
}

// fakeS3 drives PutAtomic's temp-key -> sleep -> copy-retry -> delete path
// (I3) without a real bucket: CopyObject fails copyFailures times before
// succeeding, and every call is recorded by kind.
type fakeS3 struct {
	copyFailures int32
	copyCalls    int32
	putCalls     int32
	headCalls    int32
	deleteCalls  int32
	deletedKeys  []string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	atomic.AddInt32(&f.putCalls, 1)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	atomic.AddInt32(&f.deleteCalls, 1)
	f.deletedKeys = append(f.deletedKeys, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	atomic.AddInt32(&f.headCalls, 1)
	return &s3.HeadObjectOutput{ContentType: aws.String("application/json")}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	n := atomic.AddInt32(&f.copyCalls, 1)
	if n <= f.copyFailures {
		return nil, errors.New("simulated transient copy failure")
	}
	return &s3.CopyObjectOutput{}, nil
}

// TestPutAtomic_CopyRetrySucceeds exercises I3's retry/backoff branch: copy
// fails twice then succeeds, PutAtomic still completes and the temp object
// is cleaned up.
func TestPutAtomic_CopyRetrySucceeds(t *testing.T) {
	fake := &fakeS3{copyFailures: 2}
	store := &Store{client: fake, bucket: "test-bucket", logger: zerolog.Nop(), atomicVisibilitySleep: time.Millisecond, copyBaseDelay: time.Millisecond}

	err := store.PutAtomic(context.Background(), "snapshots/slot-1.json", []byte(`{"slot":1}`), PutOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.putCalls)
	assert.Equal(t, int32(3), fake.copyCalls)
	assert.Equal(t, int32(1), fake.deleteCalls, "temp object must be deleted after a successful copy")
	assert.Equal(t, []string{"temp/snapshots/slot-1.json"}, fake.deletedKeys)
}

// TestPutAtomic_CopyExhaustsRetries exercises the cleanup-and-fail branch:
// every copy attempt fails, PutAtomic returns an error, and the temp object
// is still best-effort deleted.
func TestPutAtomic_CopyExhaustsRetries(t *testing.T) {
	fake := &fakeS3{copyFailures: maxCopyRetries}
	store := &Store{client: fake, bucket: "test-bucket", logger: zerolog.Nop(), atomicVisibilitySleep: time.Millisecond, copyBaseDelay: time.Millisecond}

	err := store.PutAtomic(context.Background(), "snapshots/slot-2.json", []byte(`{"slot":2}`), PutOptions{})
	require.Error(t, err)

	assert.Equal(t, int32(maxCopyRetries), fake.copyCalls)
	assert.Equal(t, int32(1), fake.deleteCalls, "temp object must be best-effort deleted even after exhausting retries")
}
