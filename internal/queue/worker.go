package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorekeep/lorekeep/internal/metrics"
)

// Handler processes one job payload. A nil return acknowledges the job; an
// error triggers the retry policy.
type Handler func(ctx context.Context, payload []byte) error

// Worker polls the queue and dispatches claimed jobs to registered handlers.
type Worker struct {
	queue        *Queue
	handlers     map[string]Handler
	queueNames   []string
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewWorker creates a Worker polling at the given interval.
func NewWorker(q *Queue, pollInterval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:        q,
		handlers:     make(map[string]Handler),
		pollInterval: pollInterval,
		metrics:      m,
		logger:       logger,
	}
}

// Register binds a handler to a queue name. Must be called before Run.
func (w *Worker) Register(queueName string, h Handler) {
	w.handlers[queueName] = h
	w.queueNames = append(w.queueNames, queueName)
}

// Run polls until ctx is cancelled, draining all due jobs on each tick.
// Always returns nil on cancellation so it composes with errgroup shutdown.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("worker has no registered handlers")
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("queue worker started", "queues", w.queueNames, "poll_interval", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopped")
			return nil
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain claims and processes jobs until the queues are empty or ctx ends.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Claim(ctx, w.queueNames)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("failed to claim job", "error", err)
			}
			return
		}
		if job == nil {
			return
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	// Acks must land even when the run context was cancelled mid-handler,
	// otherwise a shutdown strands the job as running until its lease
	// expires.
	ackCtx := context.WithoutCancel(ctx)

	handler, ok := w.handlers[job.Queue]
	if !ok {
		// Claim is restricted to registered queues, so this means the
		// registry changed underneath us.
		w.logger.Error("no handler for claimed job", "queue", job.Queue, "job_id", job.ID)
		_ = w.queue.Fail(ackCtx, job, fmt.Errorf("no handler registered for queue %q", job.Queue))
		return
	}

	start := time.Now()
	if err := handler(ctx, job.Payload); err != nil {
		w.metrics.ObserveQueueAttempt(job.Queue, metrics.OutcomeFailed)
		if failErr := w.queue.Fail(ackCtx, job, err); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	w.metrics.ObserveQueueAttempt(job.Queue, metrics.OutcomeSucceeded)
	if err := w.queue.Complete(ackCtx, job.ID); err != nil {
		w.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
		return
	}
	w.logger.Debug("job processed", "queue", job.Queue, "job_id", job.ID, "took", time.Since(start))
}
