package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CrawlJobStore persists crawl jobs and enforces their state machine in SQL:
// every transition is a conditional UPDATE whose WHERE clause names the
// states it may leave, so racing workers cannot resurrect a terminal job.
type CrawlJobStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCrawlJobStore creates a CrawlJobStore.
func NewCrawlJobStore(pool *pgxpool.Pool, logger *slog.Logger) *CrawlJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrawlJobStore{pool: pool, logger: logger}
}

const crawlJobColumns = `id, chatbot_id, url, max_depth, page_limit, status,
	pages_found, pages_crawled, pages_failed, COALESCE(error, ''), created_at, updated_at`

// Create inserts a new job in the queued state.
func (s *CrawlJobStore) Create(ctx context.Context, job *CrawlJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_jobs (id, chatbot_id, url, max_depth, page_limit, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.ChatbotID, job.URL, job.MaxDepth, job.PageLimit, CrawlStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to create crawl job: %w", err)
	}
	job.Status = CrawlStatusQueued
	s.logger.Debug("crawl job created", "job_id", job.ID, "url", job.URL)
	return nil
}

// Get loads a job by id.
func (s *CrawlJobStore) Get(ctx context.Context, id uuid.UUID) (*CrawlJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+crawlJobColumns+` FROM crawl_jobs WHERE id = $1`, id)
	return scanCrawlJob(row)
}

// List returns a chatbot's jobs, newest first.
func (s *CrawlJobStore) List(ctx context.Context, chatbotID uuid.UUID) ([]*CrawlJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+crawlJobColumns+` FROM crawl_jobs WHERE chatbot_id = $1 ORDER BY created_at DESC`,
		chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*CrawlJob
	for rows.Next() {
		job, err := scanCrawlJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Status reads only the job's current status. The traversal loop calls this
// periodically to detect external cancellation.
func (s *CrawlJobStore) Status(ctx context.Context, id uuid.UUID) (CrawlStatus, error) {
	var status CrawlStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM crawl_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read crawl job status: %w", err)
	}
	return status, nil
}

// MarkProcessing moves a job into processing. Queued and failed jobs may
// enter (failed covers queue-level retries re-running the whole job);
// completed and cancelled jobs are left untouched and false is returned.
func (s *CrawlJobStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs SET status = $2, error = NULL, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4, $5)`,
		id, CrawlStatusProcessing, CrawlStatusQueued, CrawlStatusProcessing, CrawlStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to mark crawl job processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCompleted finishes a processing job. A job cancelled mid-flight keeps
// its cancelled status; the update simply does not apply.
func (s *CrawlJobStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, CrawlStatusCompleted, CrawlStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark crawl job completed: %w", err)
	}
	return nil
}

// MarkFailed records an unrecoverable error. Both queued jobs (the enqueue
// never happened) and processing jobs (the traversal failed) may fail;
// counters accumulated so far are preserved.
func (s *CrawlJobStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs SET status = $2, error = $3, updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)`,
		id, CrawlStatusFailed, cause, CrawlStatusQueued, CrawlStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark crawl job failed: %w", err)
	}
	return nil
}

// Cancel transitions a queued or processing job to cancelled. Cancelling a
// job in any terminal state returns ErrInvalidState.
func (s *CrawlJobStore) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, CrawlStatusCancelled, CrawlStatusQueued, CrawlStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to cancel crawl job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job is not queued or processing", ErrInvalidState)
	}
	s.logger.Info("crawl job cancelled", "job_id", id)
	return nil
}

// AddCounters adds deltas to the job's progress counters so external
// observers see progress before completion. Increment-based on purpose:
// concurrent attempt workers must not overwrite each other's counts.
func (s *CrawlJobStore) AddCounters(ctx context.Context, id uuid.UUID, found, crawled, failed int) error {
	if found == 0 && crawled == 0 && failed == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs
		SET pages_found = pages_found + $2,
		    pages_crawled = pages_crawled + $3,
		    pages_failed = pages_failed + $4,
		    updated_at = now()
		WHERE id = $1`,
		id, found, crawled, failed)
	if err != nil {
		return fmt.Errorf("failed to update crawl counters: %w", err)
	}
	return nil
}

func scanCrawlJob(row pgx.Row) (*CrawlJob, error) {
	var job CrawlJob
	err := row.Scan(&job.ID, &job.ChatbotID, &job.URL, &job.MaxDepth, &job.PageLimit,
		&job.Status, &job.PagesFound, &job.PagesCrawled, &job.PagesFailed,
		&job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan crawl job: %w", err)
	}
	return &job, nil
}
