package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend defines the capability contract every storage provider implements.
// The engine consumes only this interface; providers own their retry and
// pagination details.
type Backend interface {
	// Login establishes credentials on the controller thread. A failed login
	// aborts the whole run.
	Login(ctx context.Context) error

	// ListContainers returns the names of containers whose name starts with
	// any of the given prefixes, in provider listing order. An empty prefix
	// set matches everything.
	ListContainers(ctx context.Context, prefixes []string) ([]string, error)

	// ListObjects returns one page of object keys for the container. An
	// empty page signals exhaustion; the caller decides whether to recheck.
	// Pagination state is kept per container inside the backend.
	ListObjects(ctx context.Context, container string) ([]string, error)

	// ResetCursor clears the pagination marker for the container so the
	// next ListObjects call starts over.
	ResetCursor(container string)

	// DeleteContainer removes an emptied container.
	DeleteContainer(ctx context.Context, container string) error

	// BulkSize reports the provider's bulk delete grouping threshold.
	// Values <= 1 disable batching.
	BulkSize() int

	// RequestFlush asks that the next buffered delete on any session flush
	// its pending batch. Called by the enumerator once it has handed over
	// the last page of a container.
	RequestFlush()

	// OpenSession acquires the per-worker deletion handle. Each worker owns
	// exactly one session and closes it when it stops.
	OpenSession(ctx context.Context) (Session, error)
}

// Session is a worker-private deletion handle: a provider connection plus,
// when bulk batching is enabled, a pending buffer of keys awaiting a flush.
// Sessions are never shared between workers.
type Session interface {
	// Delete removes one object, or buffers it for a later bulk request.
	Delete(ctx context.Context, container, key string) error

	// Flush issues any pending bulk deletes immediately.
	Flush(ctx context.Context) error

	// Close flushes pending deletes and releases the connection. Called
	// exactly once per worker lifetime, including on abnormal shutdown.
	Close(ctx context.Context) error
}

// Config contains provider configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
	PageSize  int
	BulkSize  int
}

// Factory constructs a backend from provider configuration.
type Factory func(cfg Config) (Backend, error)

var registry = map[string]Factory{}

// Register adds a backend factory under the given name. Called from provider
// init functions.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Open constructs the named backend.
func Open(name string, cfg Config) (Backend, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return factory(cfg)
}

// MatchPrefixes reports whether name starts with any of the prefixes.
// An empty prefix list, or an empty prefix, matches everything.
func MatchPrefixes(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
