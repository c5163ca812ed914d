// Package queue implements a PostgreSQL-backed job queue with at-least-once
// delivery. Jobs are claimed with FOR UPDATE SKIP LOCKED so multiple workers
// can consume concurrently; failed attempts are rescheduled with exponential
// backoff until the attempt budget is exhausted, then parked as dead. A claim
// holds the job under a lease: running jobs whose lease expired (the worker
// crashed without acking) become claimable again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job statuses.
const (
	statusQueued    = "queued"
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusDead      = "dead"
)

// Queue names used by the ingestion pipeline.
const (
	// QueueCrawl carries whole crawl jobs.
	QueueCrawl = "crawl"

	// QueueTraining carries per-source embedding jobs.
	QueueTraining = "training"
)

// Job is one claimed delivery.
type Job struct {
	ID          uuid.UUID
	Queue       string
	Payload     []byte
	Attempts    int
	MaxAttempts int
}

// Config tunes retry behavior.
type Config struct {
	// MaxAttempts is the default attempt budget per job. Default 3.
	MaxAttempts int

	// BackoffBase is the delay before the second attempt; it doubles for
	// each subsequent attempt. Default 3s.
	BackoffBase time.Duration

	// LeaseTimeout is how long a claimed job may run unacknowledged before
	// it becomes claimable again. Must exceed the longest expected handler
	// run, or a slow job gets delivered twice. Default 5m.
	LeaseTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 3 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 5 * time.Minute
	}
}

// Queue enqueues and claims durable jobs.
type Queue struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger *slog.Logger
}

// New creates a Queue.
func New(pool *pgxpool.Pool, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Queue{pool: pool, cfg: cfg, logger: logger}
}

// Option configures a single enqueue call.
type Option func(*enqueueOptions)

type enqueueOptions struct {
	maxAttempts int
	delay       time.Duration
}

// WithMaxAttempts overrides the attempt budget for one job.
func WithMaxAttempts(n int) Option {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

// WithDelay schedules the first attempt after the given delay.
func WithDelay(d time.Duration) Option {
	return func(o *enqueueOptions) { o.delay = d }
}

// Enqueue durably inserts a job. The insert is synchronous: when Enqueue
// returns nil the job is committed and will eventually be delivered at
// least once.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, opts ...Option) (uuid.UUID, error) {
	options := enqueueOptions{maxAttempts: q.cfg.MaxAttempts}
	for _, opt := range opts {
		opt(&options)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	id := uuid.New()
	_, err = q.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, payload, status, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, queueName, body, statusQueued, options.maxAttempts, time.Now().Add(options.delay))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue %s job: %w", queueName, err)
	}

	q.logger.Debug("job enqueued", "queue", queueName, "job_id", id)
	return id, nil
}

// Claim atomically takes the next due job from any of the given queues,
// bumping its attempt counter. Running jobs whose lease expired are claimed
// like queued ones, so a crashed worker cannot strand its job. Returns nil
// when no job is due.
func (q *Queue) Claim(ctx context.Context, queues []string) (*Job, error) {
	leaseCutoff := time.Now().Add(-q.cfg.LeaseTimeout)
	row := q.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $2, attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ANY($1) AND run_at <= now()
			  AND (status = $3 OR (status = $2 AND updated_at < $4))
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, attempts, max_attempts`,
		queues, statusRunning, statusQueued, leaseCutoff)

	var job Job
	err := row.Scan(&job.ID, &job.Queue, &job.Payload, &job.Attempts, &job.MaxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// Complete marks a delivered job as succeeded.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`,
		id, statusSucceeded)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. While the attempt budget lasts the job is
// rescheduled with exponential backoff; afterwards it is parked as dead so
// the failure stays visible.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	msg := cause.Error()

	if job.Attempts >= job.MaxAttempts {
		_, err := q.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, last_error = $3, updated_at = now()
			WHERE id = $1`,
			job.ID, statusDead, msg)
		if err != nil {
			return fmt.Errorf("failed to park dead job: %w", err)
		}
		q.logger.Error("job exhausted retries",
			"queue", job.Queue, "job_id", job.ID, "attempts", job.Attempts, "error", msg)
		return nil
	}

	delay := BackoffDelay(q.cfg.BackoffBase, job.Attempts)
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = $3, run_at = $4, updated_at = now()
		WHERE id = $1`,
		job.ID, statusQueued, msg, time.Now().Add(delay))
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}

	q.logger.Warn("job attempt failed, rescheduled",
		"queue", job.Queue, "job_id", job.ID, "attempt", job.Attempts, "retry_in", delay, "error", msg)
	return nil
}

// BackoffDelay returns the delay before the next attempt: base doubled for
// every completed attempt after the first.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
