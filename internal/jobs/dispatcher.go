// Package jobs defines background tasks such as artifact prefetching.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/diffpilot/diffpilot/internal/core"
)

// dispatcher implements core.JobDispatcher and manages a pool of worker
// goroutines processing prefetch events.
type dispatcher struct {
	job        core.Job
	jobQueue   chan *core.PrefetchEvent
	maxWorkers int
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewDispatcher initializes a dispatcher with a worker pool.
// If maxWorkers is 0 or negative, it defaults to 1.
func NewDispatcher(job core.Job, maxWorkers int, logger *slog.Logger) core.JobDispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	d := &dispatcher{
		job:        job,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan *core.PrefetchEvent, 100),
		logger:     logger,
	}
	d.startWorkers()
	return d
}

// startWorkers launches maxWorkers goroutines to process jobs from the queue.
func (d *dispatcher) startWorkers() {
	for i := range d.maxWorkers {
		d.wg.Add(1)
		go d.startWorker(i)
	}
}

// startWorker processes events from the queue until it's closed.
func (d *dispatcher) startWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Debug("starting prefetch worker", "id", workerID)

	for event := range d.jobQueue {
		d.processEvent(workerID, event)
	}

	d.logger.Debug("shutting down prefetch worker", "id", workerID)
}

func (d *dispatcher) processEvent(workerID int, event *core.PrefetchEvent) {
	d.logger.Debug("worker processing prefetch",
		"worker_id", workerID,
		"review_id", event.ReviewID,
	)

	if err := d.job.Run(context.Background(), event); err != nil {
		d.logger.Warn("prefetch job failed",
			"review_id", event.ReviewID,
			"error", err,
		)
	}
}

// Dispatch queues a prefetch event for processing by a worker.
func (d *dispatcher) Dispatch(_ context.Context, event *core.PrefetchEvent) error {
	select {
	case d.jobQueue <- event:
		return nil
	default:
		return fmt.Errorf("job queue is full, cannot accept new prefetch job")
	}
}

// Stop gracefully shuts down the dispatcher, waiting for all workers to
// finish.
func (d *dispatcher) Stop() {
	d.logger.Debug("stopping dispatcher and waiting for jobs to finish")
	close(d.jobQueue)
	d.wg.Wait()
}
