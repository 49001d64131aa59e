package importer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/tapestry/internal/store"
)

// DefaultPollInterval is how often a Worker looks for pending jobs when it
// is not woken up explicitly.
const DefaultPollInterval = 5 * time.Second

// Worker runs pending import jobs one at a time.
type Worker struct {
	r        *Reconstructor
	jobs     store.JobStore
	interval time.Duration
	logger   *slog.Logger
	kick     chan struct{}
}

// NewWorker creates a worker polling jobs every interval.
func NewWorker(r *Reconstructor, jobs store.JobStore, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		r:        r,
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Notify wakes the worker up without waiting for the next poll.
func (w *Worker) Notify() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("worker: started", slog.Duration("interval", w.interval))
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("worker: stopped")
			return nil
		case <-ticker.C:
		case <-w.kick:
		}
	}
}

// drain runs pending jobs until none is left.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		pending, err := w.jobs.PendingJobs(ctx, 10)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("worker: list pending failed", slog.String("error", err.Error()))
			}
			return
		}
		if len(pending) == 0 {
			return
		}
		for _, job := range pending {
			if ctx.Err() != nil {
				return
			}
			_, err := w.r.Run(ctx, job.ID)
			switch {
			case err == nil, errors.Is(err, ErrNotClaimed):
			case CodeOf(err) != "":
				// Recorded on the job by Run.
			default:
				w.logger.Error("worker: job error", slog.String("job", job.ID), slog.String("error", err.Error()))
				return
			}
		}
	}
}
