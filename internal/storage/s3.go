package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func init() {
	Register("s3", NewS3Backend)
}

// S3 allows at most 1000 objects per DeleteObjects request.
const s3MaxBulkSize = 1000

// S3Backend implements the Backend interface using aws-sdk-go-v2
type S3Backend struct {
	cfg    Config
	awsCfg aws.Config
	client *s3.Client

	cursorMu sync.Mutex
	cursors  map[string]*string

	flushHint atomic.Bool
}

// NewS3Backend creates a new AWS S3 backend
func NewS3Backend(cfg Config) (Backend, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required for the s3 backend")
	}
	if cfg.BulkSize > s3MaxBulkSize {
		return nil, fmt.Errorf("bulk_size cannot exceed %d for the s3 backend", s3MaxBulkSize)
	}

	return &S3Backend{
		cfg:     cfg,
		cursors: make(map[string]*string),
	}, nil
}

// Login loads the AWS configuration and creates the controller client
func (b *S3Backend) Login(ctx context.Context) error {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(b.cfg.Region),
	}
	if b.cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.cfg.AccessKey, b.cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	b.awsCfg = awsCfg
	b.client = b.newClient()

	// Credentials are validated lazily by AWS; probe so a bad key fails the
	// run up front rather than in a worker.
	if _, err := b.client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return fmt.Errorf("login probe failed: %w", err)
	}
	return nil
}

func (b *S3Backend) newClient() *s3.Client {
	return s3.NewFromConfig(b.awsCfg, func(o *s3.Options) {
		if b.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

// ListContainers lists buckets matching any of the prefixes
func (b *S3Backend) ListContainers(ctx context.Context, prefixes []string) ([]string, error) {
	result, err := b.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}

	var containers []string
	for _, bucket := range result.Buckets {
		name := aws.ToString(bucket.Name)
		if MatchPrefixes(name, prefixes) {
			containers = append(containers, name)
		}
	}
	return containers, nil
}

// ListObjects returns one page of keys, resuming from the container's
// continuation token.
func (b *S3Backend) ListObjects(ctx context.Context, container string) ([]string, error) {
	b.cursorMu.Lock()
	cursor := b.cursors[container]
	b.cursorMu.Unlock()

	input := &s3.ListObjectsV2Input{
		Bucket:            aws.String(container),
		MaxKeys:           aws.Int32(int32(b.cfg.PageSize)),
		ContinuationToken: cursor,
	}

	result, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(result.Contents))
	for _, obj := range result.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}

	b.cursorMu.Lock()
	if aws.ToBool(result.IsTruncated) {
		b.cursors[container] = result.NextContinuationToken
	} else {
		delete(b.cursors, container)
	}
	b.cursorMu.Unlock()

	return keys, nil
}

// ResetCursor clears the container's continuation token
func (b *S3Backend) ResetCursor(container string) {
	b.cursorMu.Lock()
	delete(b.cursors, container)
	b.cursorMu.Unlock()
}

// DeleteContainer removes a bucket
func (b *S3Backend) DeleteContainer(ctx context.Context, container string) error {
	_, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(container),
	})
	return err
}

// BulkSize reports the configured bulk delete threshold
func (b *S3Backend) BulkSize() int {
	return b.cfg.BulkSize
}

// RequestFlush marks pending bulk buffers for an immediate flush
func (b *S3Backend) RequestFlush() {
	b.flushHint.Store(true)
}

// OpenSession creates a worker-private client and bulk buffer
func (b *S3Backend) OpenSession(ctx context.Context) (Session, error) {
	sess := &s3Session{client: b.newClient()}
	if b.cfg.BulkSize > 1 {
		sess.buffer = newBulkBuffer(b.cfg.BulkSize, &b.flushHint, sess.bulkDelete)
	}
	return sess, nil
}

type s3Session struct {
	client *s3.Client
	buffer *bulkBuffer
}

func (s *s3Session) Delete(ctx context.Context, container, key string) error {
	if s.buffer != nil {
		return s.buffer.add(ctx, container, key)
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	return err
}

func (s *s3Session) bulkDelete(ctx context.Context, container string, keys []string) error {
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(container),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		first := result.Errors[0]
		return fmt.Errorf("bulk delete %s/%s: %s (%d objects failed)",
			container, aws.ToString(first.Key), aws.ToString(first.Message), len(result.Errors))
	}
	return nil
}

func (s *s3Session) Flush(ctx context.Context) error {
	if s.buffer == nil {
		return nil
	}
	return s.buffer.flush(ctx)
}

func (s *s3Session) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
