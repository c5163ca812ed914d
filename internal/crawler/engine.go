package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/store"
)

// ErrCancelled indicates a crawl stopped because its job was cancelled.
var ErrCancelled = errors.New("crawl cancelled")

// JobStore is the crawl-job persistence the engine needs: polling for
// cancellation and flushing counter increments.
type JobStore interface {
	Status(ctx context.Context, id uuid.UUID) (store.CrawlStatus, error)
	AddCounters(ctx context.Context, id uuid.UUID, found, crawled, failed int) error
}

// PageWriter records fetch outcomes.
type PageWriter interface {
	Create(ctx context.Context, page *store.CrawledPage) error
}

// PageFetcher fetches and extracts a single page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// Engine runs one crawl job as a sequential breadth-first traversal from the
// job's root URL. Pages are fetched one at a time; within a single job there
// is no fetch concurrency, which keeps the visited set and counters free of
// locks. Concurrency happens across jobs, each on its own Run call.
type Engine struct {
	fetcher    PageFetcher
	jobs       JobStore
	pages      PageWriter
	checkEvery int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewEngine creates an Engine. checkEvery controls how many pages are
// processed between cancellation polls and counter flushes; values below 1
// fall back to 10.
func NewEngine(fetcher PageFetcher, jobs JobStore, pages PageWriter, checkEvery int, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if checkEvery < 1 {
		checkEvery = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		fetcher:    fetcher,
		jobs:       jobs,
		pages:      pages,
		checkEvery: checkEvery,
		metrics:    m,
		logger:     logger,
	}
}

type frontierItem struct {
	url   string
	depth int
}

// counters accumulates increments between flushes. The database row is only
// ever updated with deltas, so a retried job attempt adds to, and never
// rewinds, the totals already recorded.
type counters struct {
	found   int
	crawled int
	failed  int
}

func (c counters) empty() bool { return c.found == 0 && c.crawled == 0 && c.failed == 0 }

// Run crawls the job until the frontier is exhausted, the page limit is
// reached, the job is cancelled, or a storage write fails. Returns
// ErrCancelled for cooperative cancellation; any other error marks the
// attempt as failed.
func (e *Engine) Run(ctx context.Context, job *store.CrawlJob) error {
	root, err := Normalize(job.URL)
	if err != nil {
		return fmt.Errorf("crawl job %s has unusable root: %w", job.ID, err)
	}
	rootURL, err := url.Parse(root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	logger := e.logger.With("job_id", job.ID, "root", root)
	logger.Info("crawl started", "page_limit", job.PageLimit, "max_depth", job.MaxDepth)

	seen := map[string]struct{}{root: {}}
	frontier := []frontierItem{{url: root, depth: 0}}
	var pending counters
	processed := 0
	crawled := 0

	flush := func() error {
		if pending.empty() {
			return nil
		}
		if err := e.jobs.AddCounters(ctx, job.ID, pending.found, pending.crawled, pending.failed); err != nil {
			return fmt.Errorf("failed to flush crawl counters: %w", err)
		}
		pending = counters{}
		return nil
	}

	for len(frontier) > 0 {
		// The limit bounds successful pages; failed and empty fetches do
		// not consume the budget.
		if job.PageLimit > 0 && crawled >= job.PageLimit {
			logger.Info("page limit reached", "crawled", crawled)
			break
		}
		if processed > 0 && processed%e.checkEvery == 0 {
			if err := flush(); err != nil {
				return err
			}
			status, err := e.jobs.Status(ctx, job.ID)
			if err != nil {
				return fmt.Errorf("failed to poll job status: %w", err)
			}
			if status == store.CrawlStatusCancelled {
				logger.Info("crawl cancelled", "processed", processed)
				return ErrCancelled
			}
		}
		if err := ctx.Err(); err != nil {
			_ = flush()
			return err
		}

		item := frontier[0]
		frontier = frontier[1:]
		processed++
		pending.found++

		page, err := e.fetcher.Fetch(ctx, item.url)
		if err != nil {
			if ctx.Err() != nil {
				_ = flush()
				return ctx.Err()
			}
			pending.failed++
			e.metrics.ObservePage(metrics.OutcomeFailed)
			logger.Warn("page fetch failed", "url", item.url, "error", err)

			record := &store.CrawledPage{
				ID:     uuid.New(),
				JobID:  job.ID,
				URL:    item.url,
				Status: store.PageStatusFailed,
				Error:  err.Error(),
			}
			if err := e.pages.Create(ctx, record); err != nil {
				return fmt.Errorf("failed to record failed page: %w", err)
			}
			continue
		}

		// Redirects may land elsewhere; suppress revisits of the target too.
		seen[page.URL] = struct{}{}

		if page.Text == "" {
			// Nothing worth training on, but links still drive discovery.
			e.metrics.ObservePage(metrics.OutcomeSkipped)
		} else {
			record := &store.CrawledPage{
				ID:          uuid.New(),
				JobID:       job.ID,
				URL:         item.url,
				Title:       page.Title,
				Status:      store.PageStatusSucceeded,
				Content:     page.Text,
				ContentHash: page.ContentHash,
			}
			if err := e.pages.Create(ctx, record); err != nil {
				return fmt.Errorf("failed to record page: %w", err)
			}
			pending.crawled++
			crawled++
			e.metrics.ObservePage(metrics.OutcomeSucceeded)
		}

		if job.MaxDepth != store.UnboundedDepth && item.depth >= job.MaxDepth {
			continue
		}
		for _, link := range page.Links {
			linkURL, err := url.Parse(link)
			if err != nil || !SameOrigin(rootURL, linkURL) {
				continue
			}
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			frontier = append(frontier, frontierItem{url: link, depth: item.depth + 1})
		}
	}

	if err := flush(); err != nil {
		return err
	}
	logger.Info("crawl finished", "processed", processed)
	return nil
}
