package storage

import (
	"context"
	"sync/atomic"
)

// bulkDeleteFunc issues one provider bulk delete call for a single
// container's worth of keys.
type bulkDeleteFunc func(ctx context.Context, container string, keys []string) error

// bulkBuffer is the worker-local pending buffer behind a Session when bulk
// batching is enabled. Keys are grouped by container and flushed once the
// total count reaches the bulk size, when a forced flush has been requested,
// or when the owning session closes. Not safe for concurrent use; each
// worker owns its own buffer.
type bulkBuffer struct {
	size      int
	count     int
	pending   map[string][]string
	flushHint *atomic.Bool
	deleteFn  bulkDeleteFunc
}

func newBulkBuffer(size int, flushHint *atomic.Bool, deleteFn bulkDeleteFunc) *bulkBuffer {
	return &bulkBuffer{
		size:      size,
		pending:   make(map[string][]string),
		flushHint: flushHint,
		deleteFn:  deleteFn,
	}
}

// add buffers one key and flushes when the batch is full or a forced flush
// is pending. The flush hint is consumed by whichever worker observes it
// first.
func (b *bulkBuffer) add(ctx context.Context, container, key string) error {
	b.pending[container] = append(b.pending[container], key)
	b.count++

	if b.count >= b.size || b.flushHint.CompareAndSwap(true, false) {
		return b.flush(ctx)
	}
	return nil
}

// flush issues one bulk delete per container group and clears the buffer.
func (b *bulkBuffer) flush(ctx context.Context) error {
	if b.count == 0 {
		return nil
	}
	for container, keys := range b.pending {
		if err := b.deleteFn(ctx, container, keys); err != nil {
			return err
		}
	}
	b.count = 0
	b.pending = make(map[string][]string)
	return nil
}
