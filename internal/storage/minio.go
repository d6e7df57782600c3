package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	Register("minio", NewMinIOBackend)
}

// MinIOBackend implements the Backend interface using minio-go
type MinIOBackend struct {
	cfg    Config
	client *minio.Client

	cursorMu sync.Mutex
	cursors  map[string]string

	flushHint atomic.Bool
}

// NewMinIOBackend creates a new MinIO backend
func NewMinIOBackend(cfg Config) (Backend, error) {
	// Clean and validate endpoint
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	cfg.Endpoint = endpoint

	return &MinIOBackend{
		cfg:     cfg,
		cursors: make(map[string]string),
	}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, add http:// for parsing
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		// Check if it's already in host:port format
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	// Parse URL to extract host and port
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	// Check if path is not empty (indicating a full URL with path)
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	// Return host:port format
	return parsedURL.Host, nil
}

func (b *MinIOBackend) newClient() (*minio.Client, error) {
	return minio.New(b.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(b.cfg.AccessKey, b.cfg.SecretKey, ""),
		Secure: b.cfg.Secure,
	})
}

// Login creates the controller connection and verifies the credentials with
// a listing probe.
func (b *MinIOBackend) Login(ctx context.Context) error {
	client, err := b.newClient()
	if err != nil {
		return err
	}
	if _, err := client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("login probe failed: %w", err)
	}
	b.client = client
	return nil
}

// ListContainers lists buckets matching any of the prefixes
func (b *MinIOBackend) ListContainers(ctx context.Context, prefixes []string) ([]string, error) {
	buckets, err := b.client.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var containers []string
	for _, bucket := range buckets {
		if MatchPrefixes(bucket.Name, prefixes) {
			containers = append(containers, bucket.Name)
		}
	}
	return containers, nil
}

// ListObjects returns one page of keys for the container, resuming after the
// last key of the previous page.
func (b *MinIOBackend) ListObjects(ctx context.Context, container string) ([]string, error) {
	b.cursorMu.Lock()
	cursor := b.cursors[container]
	b.cursorMu.Unlock()

	// Cancelling the listing context stops minio-go's internal pagination
	// once we have a full page.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make([]string, 0, b.cfg.PageSize)
	for obj := range b.client.ListObjects(listCtx, container, minio.ListObjectsOptions{
		Recursive:  true,
		StartAfter: cursor,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
		if len(keys) >= b.cfg.PageSize {
			break
		}
	}

	if len(keys) > 0 {
		b.cursorMu.Lock()
		b.cursors[container] = keys[len(keys)-1]
		b.cursorMu.Unlock()
	}
	return keys, nil
}

// ResetCursor clears the container's pagination marker
func (b *MinIOBackend) ResetCursor(container string) {
	b.cursorMu.Lock()
	delete(b.cursors, container)
	b.cursorMu.Unlock()
}

// DeleteContainer removes a bucket
func (b *MinIOBackend) DeleteContainer(ctx context.Context, container string) error {
	return b.client.RemoveBucket(ctx, container)
}

// BulkSize reports the configured bulk delete threshold
func (b *MinIOBackend) BulkSize() int {
	return b.cfg.BulkSize
}

// RequestFlush marks pending bulk buffers for an immediate flush
func (b *MinIOBackend) RequestFlush() {
	b.flushHint.Store(true)
}

// OpenSession creates a worker-private connection and bulk buffer
func (b *MinIOBackend) OpenSession(ctx context.Context) (Session, error) {
	client, err := b.newClient()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker connection: %w", err)
	}

	sess := &minioSession{client: client}
	if b.cfg.BulkSize > 1 {
		sess.buffer = newBulkBuffer(b.cfg.BulkSize, &b.flushHint, sess.bulkDelete)
	}
	return sess, nil
}

type minioSession struct {
	client *minio.Client
	buffer *bulkBuffer
}

func (s *minioSession) Delete(ctx context.Context, container, key string) error {
	if s.buffer != nil {
		return s.buffer.add(ctx, container, key)
	}
	return s.client.RemoveObject(ctx, container, key, minio.RemoveObjectOptions{})
}

func (s *minioSession) bulkDelete(ctx context.Context, container string, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	for result := range s.client.RemoveObjects(ctx, container, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("bulk delete %s/%s: %w", container, result.ObjectName, result.Err)
		}
	}
	return nil
}

func (s *minioSession) Flush(ctx context.Context) error {
	if s.buffer == nil {
		return nil
	}
	return s.buffer.flush(ctx)
}

func (s *minioSession) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
