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

// PageStore persists crawled pages.
type PageStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPageStore creates a PageStore.
func NewPageStore(pool *pgxpool.Pool, logger *slog.Logger) *PageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageStore{pool: pool, logger: logger}
}

const pageColumns = `id, job_id, url, COALESCE(title, ''), status, COALESCE(content, ''),
	COALESCE(content_hash, ''), selected, COALESCE(error, ''), created_at`

// Create inserts a page outcome. Pages are immutable after creation except
// for the selected flag.
func (s *PageStore) Create(ctx context.Context, page *CrawledPage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawled_pages (id, job_id, url, title, status, content, content_hash, selected, error)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''))`,
		page.ID, page.JobID, page.URL, page.Title, page.Status,
		page.Content, page.ContentHash, page.Selected, page.Error)
	if err != nil {
		return fmt.Errorf("failed to create crawled page: %w", err)
	}
	return nil
}

// Get loads a page by id.
func (s *PageStore) Get(ctx context.Context, id uuid.UUID) (*CrawledPage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM crawled_pages WHERE id = $1`, id)
	return scanPage(row)
}

// ListByJob returns all pages of a job in discovery order.
func (s *PageStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*CrawledPage, error) {
	return s.list(ctx,
		`SELECT `+pageColumns+` FROM crawled_pages WHERE job_id = $1 ORDER BY created_at`, jobID)
}

// ListPending returns a job's successfully crawled pages not yet selected
// for training.
func (s *PageStore) ListPending(ctx context.Context, jobID uuid.UUID) ([]*CrawledPage, error) {
	return s.list(ctx, `
		SELECT `+pageColumns+` FROM crawled_pages
		WHERE job_id = $1 AND status = 'succeeded' AND NOT selected
		ORDER BY created_at`, jobID)
}

// Select marks the given pages of a job as selected for training. All ids
// must reference succeeded pages belonging to the job, otherwise nothing is
// changed and ErrInvalidState is returned.
func (s *PageStore) Select(ctx context.Context, jobID uuid.UUID, pageIDs []uuid.UUID) error {
	if len(pageIDs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin page selection: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var matching int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM crawled_pages
		WHERE job_id = $1 AND id = ANY($2) AND status = 'succeeded'`,
		jobID, pageIDs).Scan(&matching)
	if err != nil {
		return fmt.Errorf("failed to validate page selection: %w", err)
	}
	if matching != len(pageIDs) {
		return fmt.Errorf("%w: %d of %d pages do not belong to job %s or did not succeed",
			ErrInvalidState, len(pageIDs)-matching, len(pageIDs), jobID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE crawled_pages SET selected = TRUE
		WHERE job_id = $1 AND id = ANY($2)`,
		jobID, pageIDs)
	if err != nil {
		return fmt.Errorf("failed to select pages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit page selection: %w", err)
	}
	s.logger.Debug("pages selected for training", "job_id", jobID, "count", len(pageIDs))
	return nil
}

func (s *PageStore) list(ctx context.Context, query string, args ...any) ([]*CrawledPage, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawled pages: %w", err)
	}
	defer rows.Close()

	var pages []*CrawledPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func scanPage(row pgx.Row) (*CrawledPage, error) {
	var page CrawledPage
	err := row.Scan(&page.ID, &page.JobID, &page.URL, &page.Title, &page.Status,
		&page.Content, &page.ContentHash, &page.Selected, &page.Error, &page.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan crawled page: %w", err)
	}
	return &page, nil
}
