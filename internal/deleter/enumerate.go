package deleter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// enumerateContainer pages through one container's object listing and feeds
// tasks into the queue. Producer-side memory stays bounded: tasks are
// flushed in small batches and the enumerator throttles itself against the
// queue depth so listing never outruns deletion by more than the queue
// capacity.
func (d *Deleter) enumerateContainer(ctx context.Context, container string) error {
	threshold := d.cfg.MaxThreads / 2
	if threshold < 1 {
		threshold = 1
	}

	batch := make([]Task, 0, threshold+1)
	emptyPages := 0

	for !d.finished.Load() && ctx.Err() == nil {
		keys, err := d.listObjects(ctx, container)
		if err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", container, err)
		}

		if len(keys) == 0 {
			// Eventually consistent listings can momentarily lag actual
			// state. Restart the listing once before concluding the
			// container is exhausted; only a second consecutive empty page
			// ends enumeration.
			emptyPages++
			if emptyPages == 1 {
				d.backend.ResetCursor(container)
				continue
			}
			break
		}
		emptyPages = 0

		for _, key := range keys {
			batch = append(batch, Task{Container: container, Key: key})
			if len(batch) > threshold {
				if err := d.queue.Enqueue(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}

		for d.queue.Len() > threshold && !d.finished.Load() && ctx.Err() == nil {
			time.Sleep(queueThrottleInterval)
		}

		if len(batch) > 0 {
			if err := d.queue.Enqueue(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	// Last page handed over: ask the sessions to flush buffered deletes so
	// nothing for this container lingers in a bulk buffer.
	d.backend.RequestFlush()
	return nil
}

// listObjects requests one listing page with a bounded retry count.
func (d *Deleter) listObjects(ctx context.Context, container string) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= 1+d.cfg.ListRetries; attempt++ {
		keys, err := d.backend.ListObjects(ctx, container)
		if err == nil {
			return keys, nil
		}
		lastErr = err
		d.logger.Warn("Object listing failed",
			zap.String("container", container),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, lastErr
}
