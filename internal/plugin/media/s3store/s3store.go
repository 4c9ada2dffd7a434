package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chirino/notification-cache/internal/config"
	registrymedia "github.com/chirino/notification-cache/internal/registry/media"
	"github.com/chirino/notification-cache/internal/tempfiles"
)

func init() {
	registrymedia.Register(registrymedia.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context) (registrymedia.BlobStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3store: S3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	return New(client, cfg.S3Bucket, cfg.S3Prefix, cfg.ResolvedTempDir()), nil
}

// New wraps an existing client.
func New(client *s3.Client, bucket, prefix, tempDir string) *S3BlobStore {
	return &S3BlobStore{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(strings.TrimSpace(prefix), "/"),
		tempDir: tempDir,
	}
}

type S3BlobStore struct {
	client  *s3.Client
	bucket  string
	prefix  string
	tempDir string
}

// s3Key applies the configured prefix. The prefix is never persisted in the
// media_items table.
func (s *S3BlobStore) s3Key(storageKey string) string {
	if s.prefix != "" {
		return s.prefix + "/" + storageKey
	}
	return storageKey
}

func (s *S3BlobStore) Put(ctx context.Context, storageKey string, data io.Reader, maxSize int64, contentType string) (*registrymedia.BlobInfo, error) {
	s3Key := s.s3Key(storageKey)

	// PutObject needs a known length, so the stream is buffered on disk first.
	spooled, err := tempfiles.Spool(s.tempDir, "notification-cache-s3-upload-*", data, maxSize)
	if errors.Is(err, tempfiles.ErrLimitExceeded) {
		return nil, fmt.Errorf("%w: limit %d bytes", registrymedia.ErrTooLarge, maxSize)
	}
	if err != nil {
		return nil, fmt.Errorf("s3store: buffer upload stream: %w", err)
	}
	defer spooled.Discard()

	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &s3Key,
		Body:          spooled,
		ContentLength: aws.Int64(spooled.Size),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	_, err = s.client.PutObject(ctx, input, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: put object: %w", err)
	}

	return &registrymedia.BlobInfo{
		StorageKey:  storageKey,
		Size:        spooled.Size,
		ContentType: contentType,
	}, nil
}

func (s *S3BlobStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	s3Key := s.s3Key(storageKey)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: get object: %w", err)
	}
	return resp.Body, nil
}

func (s *S3BlobStore) Exists(ctx context.Context, storageKey string) (bool, error) {
	s3Key := s.s3Key(storageKey)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("s3store: head object: %w", err)
}

func (s *S3BlobStore) Delete(ctx context.Context, storageKey string) error {
	s3Key := s.s3Key(storageKey)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	if err != nil {
		return fmt.Errorf("s3store: delete object: %w", err)
	}
	return nil
}

var _ registrymedia.BlobStore = (*S3BlobStore)(nil)
