package deleter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"objsweep/internal/config"
	"objsweep/internal/journal"
	"objsweep/internal/metrics"
	"objsweep/internal/storage"

	"go.uber.org/zap"
)

const (
	// workerPollInterval is how long an idle worker sleeps before checking
	// the queue again.
	workerPollInterval = 100 * time.Millisecond

	// queueThrottleInterval is how long the enumerator sleeps while waiting
	// for workers to drain the queue below the throttle threshold.
	queueThrottleInterval = time.Second

	// drainPollInterval is how often the drain barrier checks for an empty
	// queue.
	drainPollInterval = 100 * time.Millisecond
)

// Deleter orchestrates a deletion run: login, container enumeration, the
// worker pool draining the queue, the drain barrier, and finally container
// deletion. All shared run state lives here; workers only read the finished
// flag and the queue.
type Deleter struct {
	cfg     config.Sweep
	backend storage.Backend
	queue   *Queue
	logger  *zap.Logger
	metrics *metrics.Collector
	journal journal.Store

	finished atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	errMu  sync.Mutex
	runErr error
}

// New creates a deleter. The metrics collector and journal store may be nil.
func New(cfg config.Sweep, backend storage.Backend, logger *zap.Logger,
	collector *metrics.Collector, store journal.Store) *Deleter {
	return &Deleter{
		cfg:     cfg,
		backend: backend,
		queue:   NewQueue(cfg.QueueSize),
		logger:  logger,
		metrics: collector,
		journal: store,
	}
}

// Run executes the full deletion run. It returns a non-nil error when login
// or container enumeration fails, when any worker hits an unrecoverable
// delete error, when the run is cancelled, or when any container could not
// be deleted after its retries.
func (d *Deleter) Run(ctx context.Context) error {
	start := time.Now()

	rctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	d.logger.Info("Logging in...")
	if err := d.backend.Login(rctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	d.logger.Info("Fetching containers...", zap.Strings("prefixes", d.cfg.Prefixes))
	containers, err := d.backend.ListContainers(rctx, d.cfg.Prefixes)
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	// One thread slot stays with the enumerator; the rest become workers.
	workers := d.cfg.MaxThreads - 1
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(rctx, i)
	}

	if d.metrics != nil {
		go d.reportQueueDepth(rctx)
	}

	for _, container := range containers {
		if d.finished.Load() || rctx.Err() != nil {
			break
		}
		d.logger.Info("Processing container", zap.String("container", container))
		if err := d.enumerateContainer(rctx, container); err != nil {
			d.fail(err)
			break
		}
		d.logger.Info("Finished processing container", zap.String("container", container))
	}

	// Drain barrier: every enqueued task must be consumed before any
	// container delete is attempted.
	for d.queue.Len() > 0 && !d.finished.Load() && rctx.Err() == nil {
		time.Sleep(drainPollInterval)
	}

	d.Stop()

	objects := d.queue.Enqueued()

	if err := d.err(); err != nil {
		d.finishJournal(objects, 0, false)
		return err
	}
	if err := ctx.Err(); err != nil {
		d.finishJournal(objects, 0, false)
		return err
	}

	failed := d.deleteContainers(ctx, containers)

	if len(containers) == 0 {
		d.logger.Info("There are no containers!")
	} else {
		d.logger.Info("Deletion run complete",
			zap.Int64("objects", objects),
			zap.Int("containers", len(containers)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	d.finishJournal(objects, int64(len(containers)-failed), failed == 0)

	if failed > 0 {
		return fmt.Errorf("%d container(s) could not be deleted", failed)
	}
	return nil
}

// Stop sets the finished flag and joins every worker. Safe to call more
// than once; later calls are no-ops. Workers finish their in-flight delete
// before observing the flag.
func (d *Deleter) Stop() {
	d.stopOnce.Do(func() {
		d.finished.Store(true)
		d.wg.Wait()
	})
}

// deleteContainers serially deletes the now-empty containers with a bounded
// retry count each. A container whose retries are exhausted is reported and
// skipped; the remaining containers are still processed.
func (d *Deleter) deleteContainers(ctx context.Context, containers []string) int {
	failed := 0
	for _, container := range containers {
		d.logger.Info("Deleting container", zap.String("container", container))

		var lastErr error
		deleted := false
		for attempt := 1; attempt <= 1+d.cfg.ContainerRetries; attempt++ {
			if err := d.backend.DeleteContainer(ctx, container); err != nil {
				lastErr = err
				d.logger.Warn("Container delete failed",
					zap.String("container", container),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			deleted = true
			break
		}

		if deleted {
			if d.metrics != nil {
				d.metrics.IncContainerDeleted()
			}
			continue
		}

		failed++
		if d.metrics != nil {
			d.metrics.IncContainerFailed()
		}
		d.recordFailure(journal.Failure{
			Kind:      journal.KindContainer,
			Container: container,
			Message:   lastErr.Error(),
		})
		d.logger.Error("Giving up on container",
			zap.String("container", container),
			zap.Error(lastErr),
		)
	}
	return failed
}

// fail records the first unrecoverable error, flips the finished flag, and
// cancels the run context so a blocked enqueue unwinds. The whole run
// aborts rather than silently losing the failing worker.
func (d *Deleter) fail(err error) {
	d.errMu.Lock()
	if d.runErr == nil {
		d.runErr = err
	}
	d.errMu.Unlock()

	d.finished.Store(true)
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Deleter) err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

func (d *Deleter) recordFailure(failure journal.Failure) {
	if d.journal == nil {
		return
	}
	if err := d.journal.RecordFailure(failure); err != nil {
		d.logger.Warn("Failed to record failure in journal", zap.Error(err))
	}
}

func (d *Deleter) finishJournal(objects, containers int64, succeeded bool) {
	if d.journal == nil {
		return
	}
	if err := d.journal.FinishRun(objects, containers, succeeded); err != nil {
		d.logger.Warn("Failed to finalize journal", zap.Error(err))
	}
}

func (d *Deleter) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.metrics.SetQueueDepth(d.queue.Len())
		case <-ctx.Done():
			return
		}
	}
}
