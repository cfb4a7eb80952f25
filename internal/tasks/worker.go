package tasks

import (
	"context"
	"fmt"
	"time"
)

// WorkerService drains the sync queue one job at a time.
//
// It implements suture.Service. A queue read error is returned so the supervisor restarts the worker with backoff.
type WorkerService struct {
	coord *Coordinator
	name  string
}

// NewWorkerService creates the n-th worker of a pool.
func NewWorkerService(coord *Coordinator, n int) *WorkerService {
	return &WorkerService{coord: coord, name: fmt.Sprintf("sync-worker-%d", n)}
}

// Serve runs jobs until ctx is cancelled, sleeping between polls when the queue is empty.
func (w *WorkerService) Serve(ctx context.Context) error {
	logger := w.coord.logger.With("worker", w.name)
	logger.Info("worker started")

	interval := w.coord.opts.PollInterval
	if interval <= 0 {
		interval = DefaultOptions().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: %w", w.name, err)
		}

		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return ctx.Err()
		case <-w.coord.wake:
		case <-ticker.C:
		}
	}
}

// drain runs jobs until none is runnable.
func (w *WorkerService) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		ran, err := w.coord.RunNext(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (w *WorkerService) String() string {
	return w.name
}
