package deleter

import (
	"context"
	"fmt"
	"time"

	"objsweep/internal/journal"

	"go.uber.org/zap"
)

// worker pulls tasks from the queue and deletes them through its private
// backend session until the finished flag is set. An unrecoverable delete
// error aborts the whole run: the engine has no way to re-enqueue a lost
// task, so surfacing beats skipping.
func (d *Deleter) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	logger := d.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	if d.metrics != nil {
		d.metrics.WorkerStarted()
		defer d.metrics.WorkerStopped()
	}

	sess, err := d.backend.OpenSession(ctx)
	if err != nil {
		d.fail(fmt.Errorf("worker %d: failed to open session: %w", id, err))
		return
	}
	defer func() {
		// The final flush must run even when the run context is already
		// cancelled, otherwise buffered bulk deletes are silently dropped.
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			d.fail(fmt.Errorf("worker %d: final flush failed: %w", id, err))
		}
		logger.Debug("Worker stopped")
	}()

	for !d.finished.Load() {
		task, ok := d.queue.TryDequeue()
		if !ok {
			time.Sleep(workerPollInterval)
			continue
		}

		logger.Debug("Deleting object",
			zap.String("container", task.Container),
			zap.String("key", task.Key),
		)

		start := time.Now()
		if err := sess.Delete(ctx, task.Container, task.Key); err != nil {
			if d.metrics != nil {
				d.metrics.IncFailed()
			}
			d.recordFailure(journal.Failure{
				Kind:      journal.KindObject,
				Container: task.Container,
				Key:       task.Key,
				Message:   err.Error(),
			})
			d.fail(fmt.Errorf("delete %s/%s: %w", task.Container, task.Key, err))
			return
		}

		if d.metrics != nil {
			d.metrics.IncDeleted()
			d.metrics.ObserveDeleteDuration(time.Since(start))
		}
	}
}
