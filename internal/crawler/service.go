package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/queue"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/vector"
)

// DefaultPageLimit bounds crawls that do not specify their own limit.
const DefaultPageLimit = 50

// Jobs is the full crawl-job persistence consumed by the service.
type Jobs interface {
	JobStore
	Create(ctx context.Context, job *store.CrawlJob) error
	Get(ctx context.Context, id uuid.UUID) (*store.CrawlJob, error)
	List(ctx context.Context, chatbotID uuid.UUID) ([]*store.CrawlJob, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Pages is the crawled-page persistence consumed by the service.
type Pages interface {
	PageWriter
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*store.CrawledPage, error)
	ListPending(ctx context.Context, jobID uuid.UUID) ([]*store.CrawledPage, error)
	Select(ctx context.Context, jobID uuid.UUID, pageIDs []uuid.UUID) error
}

// Enqueuer submits durable jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts ...queue.Option) (uuid.UUID, error)
}

// TrainingEnqueuer schedules embedding work for a training source.
type TrainingEnqueuer interface {
	EnqueueSource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID) error
}

// Runner runs one crawl job attempt.
type Runner interface {
	Run(ctx context.Context, job *store.CrawlJob) error
}

// crawlPayload is the durable message carried on the crawl queue.
type crawlPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// Service owns the crawl-job lifecycle: creating and enqueueing jobs,
// cancelling them, exposing their pages, and running attempts delivered by
// the queue.
type Service struct {
	jobs     Jobs
	pages    Pages
	engine   Runner
	enqueuer Enqueuer
	training TrainingEnqueuer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(jobs Jobs, pages Pages, engine Runner, enqueuer Enqueuer, training TrainingEnqueuer, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     jobs,
		pages:    pages,
		engine:   engine,
		enqueuer: enqueuer,
		training: training,
		metrics:  m,
		logger:   logger,
	}
}

// Start validates the root URL, persists a queued crawl job and enqueues it.
// The job record and the queue entry are written separately; if the enqueue
// fails the job is marked failed rather than left dangling.
func (s *Service) Start(ctx context.Context, chatbotID uuid.UUID, rawURL string, pageLimit, maxDepth int) (*store.CrawlJob, error) {
	root, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if maxDepth < 0 {
		maxDepth = store.UnboundedDepth
	}

	job := &store.CrawlJob{
		ID:        uuid.New(),
		ChatbotID: chatbotID,
		URL:       root,
		PageLimit: pageLimit,
		MaxDepth:  maxDepth,
		Status:    store.CrawlStatusQueued,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create crawl job: %w", err)
	}

	if _, err := s.enqueuer.Enqueue(ctx, queue.QueueCrawl, crawlPayload{JobID: job.ID}); err != nil {
		if markErr := s.jobs.MarkFailed(ctx, job.ID, "failed to enqueue"); markErr != nil {
			s.logger.Error("failed to mark unenqueued job", "job_id", job.ID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to enqueue crawl job: %w", err)
	}

	s.logger.Info("crawl job queued",
		"job_id", job.ID, "chatbot_id", chatbotID, "root", root, "page_limit", pageLimit, "max_depth", maxDepth)
	return job, nil
}

// Cancel requests cooperative cancellation of an active job. Returns
// store.ErrInvalidState when the job already finished.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.jobs.Cancel(ctx, id); err != nil {
		return err
	}
	s.logger.Info("crawl job cancellation requested", "job_id", id)
	return nil
}

// GetJob returns one crawl job.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*store.CrawlJob, error) {
	return s.jobs.Get(ctx, id)
}

// ListJobs returns a chatbot's crawl jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, chatbotID uuid.UUID) ([]*store.CrawlJob, error) {
	return s.jobs.List(ctx, chatbotID)
}

// GetPages returns all recorded pages of a job.
func (s *Service) GetPages(ctx context.Context, jobID uuid.UUID) ([]*store.CrawledPage, error) {
	return s.pages.ListByJob(ctx, jobID)
}

// GetPendingPages returns a job's successfully crawled pages that have not
// been selected for training yet.
func (s *Service) GetPendingPages(ctx context.Context, jobID uuid.UUID) ([]*store.CrawledPage, error) {
	return s.pages.ListPending(ctx, jobID)
}

// SelectPages marks the given pages as selected for training and schedules
// one embedding job per page. Every page must belong to the job and have
// crawled successfully, otherwise nothing is selected and
// store.ErrInvalidState is returned.
func (s *Service) SelectPages(ctx context.Context, jobID uuid.UUID, pageIDs []uuid.UUID) error {
	if len(pageIDs) == 0 {
		return nil
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.pages.Select(ctx, jobID, pageIDs); err != nil {
		return err
	}

	for _, pageID := range pageIDs {
		if err := s.training.EnqueueSource(ctx, job.ChatbotID, vector.SourceTypePage, pageID); err != nil {
			return fmt.Errorf("failed to schedule training for page %s: %w", pageID, err)
		}
	}

	s.logger.Info("pages selected for training", "job_id", jobID, "count", len(pageIDs))
	return nil
}

// HandleCrawlJob processes one crawl delivery from the queue. A job whose
// record is gone or already terminal is acknowledged without work so stale
// deliveries drain quietly; run failures propagate to trigger the retry
// policy.
func (s *Service) HandleCrawlJob(ctx context.Context, payload []byte) error {
	var msg crawlPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("malformed crawl payload: %w", err)
	}

	job, err := s.jobs.Get(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("crawl job record missing, dropping delivery", "job_id", msg.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	started, err := s.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to mark crawl job processing: %w", err)
	}
	if !started {
		s.logger.Info("crawl job no longer runnable, dropping delivery",
			"job_id", job.ID, "status", job.Status)
		return nil
	}

	runErr := s.engine.Run(ctx, job)
	switch {
	case runErr == nil:
		if err := s.jobs.MarkCompleted(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to mark crawl job completed: %w", err)
		}
		s.metrics.ObserveCrawlJob(metrics.OutcomeSucceeded)
		return nil

	case errors.Is(runErr, ErrCancelled):
		// Cancel already moved the row to its terminal state.
		s.metrics.ObserveCrawlJob(metrics.OutcomeSkipped)
		return nil

	default:
		if err := s.jobs.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
			s.logger.Error("failed to mark crawl job failed", "job_id", job.ID, "error", err)
		}
		s.metrics.ObserveCrawlJob(metrics.OutcomeFailed)
		return runErr
	}
}
