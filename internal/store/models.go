// Package store persists crawl jobs, crawled pages and training sources in
// PostgreSQL. All writes are scoped by source-identity keys so concurrent
// workers never need cross-job locking; crawl counters are updated with
// increments rather than read-modify-write.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState indicates an operation not allowed in the record's
	// current state, such as cancelling a completed crawl job.
	ErrInvalidState = errors.New("invalid state for operation")
)

// CrawlStatus is the lifecycle state of a crawl job.
// Transitions are one-directional: queued -> processing -> completed |
// failed | cancelled. A terminal job never re-enters processing, except that
// a failed job may be re-run by a queue retry attempt.
type CrawlStatus string

const (
	CrawlStatusQueued     CrawlStatus = "queued"
	CrawlStatusProcessing CrawlStatus = "processing"
	CrawlStatusCompleted  CrawlStatus = "completed"
	CrawlStatusFailed     CrawlStatus = "failed"
	CrawlStatusCancelled  CrawlStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlStatusCompleted || s == CrawlStatusFailed || s == CrawlStatusCancelled
}

// PageStatus is the outcome of a single page fetch.
type PageStatus string

const (
	PageStatusSucceeded PageStatus = "succeeded"
	PageStatusFailed    PageStatus = "failed"
)

// TrainingStatus tracks the embedding lifecycle of a source.
type TrainingStatus string

const (
	TrainingStatusPending    TrainingStatus = "pending"
	TrainingStatusProcessing TrainingStatus = "processing"
	TrainingStatusTrained    TrainingStatus = "trained"
	TrainingStatusFailed     TrainingStatus = "failed"
)

// CrawlJob is one crawl request. UnboundedDepth (-1) disables the depth limit.
// Counters are monotonically non-decreasing while the job is active.
type CrawlJob struct {
	ID           uuid.UUID
	ChatbotID    uuid.UUID
	URL          string
	MaxDepth     int
	PageLimit    int
	Status       CrawlStatus
	PagesFound   int
	PagesCrawled int
	PagesFailed  int
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UnboundedDepth disables the crawl depth limit.
const UnboundedDepth = -1

// CrawledPage is one fetch outcome belonging to exactly one CrawlJob.
// Immutable once created except for the Selected flag.
type CrawledPage struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	URL         string
	Title       string
	Status      PageStatus
	Content     string
	ContentHash string
	Selected    bool
	Error       string
	CreatedAt   time.Time
}

// QnaPair is a question/answer training source.
type QnaPair struct {
	ID             uuid.UUID
	ChatbotID      uuid.UUID
	Question       string
	Answer         string
	Active         bool
	TrainingStatus TrainingStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TextTraining is the free-text training block; at most one exists per chatbot.
type TextTraining struct {
	ID             uuid.UUID
	ChatbotID      uuid.UUID
	Content        string
	TrainingStatus TrainingStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
