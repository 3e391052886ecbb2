// Package objectstore implements the ObjectStore (C1): gzip-at-rest,
// content-addressed bytes keyed by path, atomic publication via a
// temp-key-then-copy pattern, and streaming reads. Grounded on
// original_source/backend/lab/core/storage.py's S3Storage, adapted from
// boto3 to github.com/aws/aws-sdk-go-v2/service/s3, one of the S3 SDKs
// widely used across the retrieval pack's other_examples/manifests.
package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultStoreCache is the default Cache-Control for plain put.
	DefaultStoreCache = "max-age=10800" // 3 hours
	// DefaultAtomicCache is the default Cache-Control for put_atomic.
	DefaultAtomicCache = "max-age=3600" // 1 hour

	maxCopyRetries  = 5
	copyBaseDelay   = 1 * time.Second
	atomicVisibilitySleep = 1 * time.Second
)

// Config holds S3-compatible connection settings.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Store is the S3-backed ObjectStore implementation.
type Store struct {
	client                s3API
	bucket                string
	logger                zerolog.Logger
	atomicVisibilitySleep time.Duration
	copyBaseDelay         time.Duration
}

// PutOptions configures an individual put/put_atomic call.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// New builds an S3-backed Store, using path-style addressing to match
// original_source's Config(s3={'addressing_style': 'path'}).
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Str("region", cfg.Region).
		Msg("initializing object store")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, errs.New(errs.Fatal, "objectstore.New", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	logger.Info().Msg("object store initialized")
	return &Store{
		client:                client,
		bucket:                cfg.Bucket,
		logger:                logger,
		atomicVisibilitySleep: atomicVisibilitySleep,
		copyBaseDelay:         copyBaseDelay,
	}, nil
}

func contentTypeFor(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

// Put stores data at key, gzip-compressed at rest, single attempt.
func (s *Store) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	s.logger.Debug().Str("key", key).Msg("storing object")
	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultStoreCache
	}
	if err := s.upload(ctx, key, data, opts.ContentType, cacheControl); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to store object")
		return err
	}
	s.logger.Debug().Str("key", key).Msg("successfully stored object")
	return nil
}

// PutAtomic writes to temp/<key>, waits for visibility, server-side copies
// to key, then deletes the temp object. On failure, best-effort deletes the
// temp object. Mirrors S3Storage.store_atomic exactly.
func (s *Store) PutAtomic(ctx context.Context, key string, data []byte, opts PutOptions) error {
	tempKey := "temp/" + key
	s.logger.Debug().Str("key", key).Str("temp_key", tempKey).Msg("starting atomic store")

	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultAtomicCache
	}

	cleanupAndFail := func(err error) error {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to store object atomically")
		if delErr := s.Delete(ctx, tempKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("temp_key", tempKey).Msg("failed to clean up temp file")
		}
		return err
	}

	if err := s.upload(ctx, tempKey, data, opts.ContentType, cacheControl); err != nil {
		return cleanupAndFail(err)
	}

	time.Sleep(s.atomicVisibilitySleep)

	s.logger.Debug().Str("src", tempKey).Str("dst", key).Msg("copying to final location")
	if err := s.copy(ctx, tempKey, key); err != nil {
		return cleanupAndFail(err)
	}

	s.logger.Debug().Str("temp_key", tempKey).Msg("cleaning up temp file")
	if err := s.Delete(ctx, tempKey); err != nil {
		return cleanupAndFail(err)
	}

	s.logger.Debug().Str("key", key).Msg("successfully completed atomic store")
	return nil
}

// Get streams the object at key, transparently ungzipping gzip-encoded
// content.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.logger.Debug().Str("key", key).Msg("getting object")
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to get object")
		return nil, errs.New(classifyErr(err), "objectstore.Get", err)
	}

	if aws.ToString(out.ContentEncoding) == "gzip" {
		body, readErr := io.ReadAll(out.Body)
		out.Body.Close()
		if readErr != nil {
			return nil, errs.New(errs.Transient, "objectstore.Get", readErr)
		}
		if len(body) == 0 {
			s.logger.Warn().Str("key", key).Msg("empty response body")
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		gr, gzErr := gzip.NewReader(bytes.NewReader(body))
		if gzErr != nil {
			return nil, errs.New(errs.DataIntegrity, "objectstore.Get", gzErr)
		}
		return gr, nil
	}
	return out.Body, nil
}

// Delete removes the object at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.logger.Debug().Str("key", key).Msg("deleting object")
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to delete object")
		return errs.New(classifyErr(err), "objectstore.Delete", err)
	}
	return nil
}

// Exists reports whether key is present, via head_object.
func (s *Store) Exists(ctx context.Context, key string) bool {
	s.logger.Debug().Str("key", key).Msg("checking if object exists")
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("object does not exist")
		return false
	}
	return true
}

func (s *Store) upload(ctx context.Context, key string, data []byte, contentType, cacheControl string) error {
	timer := metrics.NewTimer()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		timer.ObserveDurationVec(metrics.ObjectStorePutDuration, "failure")
		return errs.New(errs.Transient, "objectstore.upload", err)
	}
	if err := gw.Close(); err != nil {
		timer.ObserveDurationVec(metrics.ObjectStorePutDuration, "failure")
		return errs.New(errs.Transient, "objectstore.upload", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String(contentTypeFor(key, contentType)),
		ContentEncoding: aws.String("gzip"),
		CacheControl:    aws.String(cacheControl),
	})
	if err != nil {
		timer.ObserveDurationVec(metrics.ObjectStorePutDuration, "failure")
		return errs.New(classifyErr(err), "objectstore.upload", err)
	}
	timer.ObserveDurationVec(metrics.ObjectStorePutDuration, "success")
	return nil
}

// copy performs a server-side copy with exponential backoff, up to 5
// attempts base 1s factor 2, re-reading source metadata to propagate
// ContentType/CacheControl, matching S3Storage._copy.
func (s *Store) copy(ctx context.Context, srcKey, dstKey string) error {
	var lastErr error
	for attempt := 0; attempt < maxCopyRetries; attempt++ {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(srcKey)})
		if err == nil {
			contentType := aws.ToString(head.ContentType)
			if contentType == "" {
				contentType = contentTypeFor(dstKey, "")
			}
			_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:            aws.String(s.bucket),
				Key:               aws.String(dstKey),
				CopySource:        aws.String(s.bucket + "/" + srcKey),
				ContentType:       aws.String(contentType),
				ContentEncoding:   aws.String("gzip"),
				CacheControl:      head.CacheControl,
				MetadataDirective: "REPLACE",
			})
		}
		if err == nil {
			s.logger.Debug().Str("src", srcKey).Str("dst", dstKey).Msg("successfully copied object")
			return nil
		}
		lastErr = err
		if attempt < maxCopyRetries-1 {
			metrics.ObjectStoreRetriesTotal.Inc()
			delay := s.copyBaseDelay * time.Duration(1<<uint(attempt))
			s.logger.Warn().Err(err).Str("src", srcKey).Str("dst", dstKey).
				Int("attempt", attempt+1).Int("max_retries", maxCopyRetries).Dur("delay", delay).
				Msg("copy failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs.New(errs.Transient, "objectstore.copy", ctx.Err())
			}
			continue
		}
		s.logger.Error().Err(err).Str("src", srcKey).Str("dst", dstKey).
			Int("attempts", maxCopyRetries).Msg("copy failed after all retries")
	}
	return errs.New(classifyErr(lastErr), "objectstore.copy", lastErr)
}

func classifyErr(err error) errs.Kind {
	if err == nil {
		return errs.Unknown
	}
	msg := err.Error()
	if strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") {
		return errs.NotFound
	}
	return errs.Transient
}
