package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/log"
	"github.com/lorekeep/lorekeep/internal/store"
)

// siteFetcher serves pages from an in-memory site map keyed by normalized URL.
type siteFetcher struct {
	pages   map[string]*Page
	fetched []string
}

func (f *siteFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	f.fetched = append(f.fetched, pageURL)
	page, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("%w: 404 for %s", ErrBadStatus, pageURL)
	}
	return page, nil
}

// fakeJobStore records counter flushes and serves a scripted status sequence.
type fakeJobStore struct {
	statuses    []store.CrawlStatus
	statusCalls int
	found       int
	crawled     int
	failed      int
	flushes     int
}

func (s *fakeJobStore) Status(ctx context.Context, id uuid.UUID) (store.CrawlStatus, error) {
	s.statusCalls++
	if len(s.statuses) == 0 {
		return store.CrawlStatusProcessing, nil
	}
	status := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return status, nil
}

func (s *fakeJobStore) AddCounters(ctx context.Context, id uuid.UUID, found, crawled, failed int) error {
	s.flushes++
	s.found += found
	s.crawled += crawled
	s.failed += failed
	return nil
}

type fakePageWriter struct {
	pages     []*store.CrawledPage
	createErr error
}

func (w *fakePageWriter) Create(ctx context.Context, page *store.CrawledPage) error {
	if w.createErr != nil {
		return w.createErr
	}
	w.pages = append(w.pages, page)
	return nil
}

func sitePage(url, text string, links ...string) *Page {
	return &Page{URL: url, Title: url, Text: text, ContentHash: "hash-" + url, Links: links}
}

func newTestJob(rootURL string, pageLimit, maxDepth int) *store.CrawlJob {
	return &store.CrawlJob{
		ID:        uuid.New(),
		ChatbotID: uuid.New(),
		URL:       rootURL,
		PageLimit: pageLimit,
		MaxDepth:  maxDepth,
		Status:    store.CrawlStatusProcessing,
	}
}

func TestRunCrawlsBreadthFirstWithinOrigin(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]*Page{
		"https://example.com/": sitePage("https://example.com/", "home",
			"https://example.com/a", "https://example.com/b", "https://other.com/x"),
		"https://example.com/a": sitePage("https://example.com/a", "page a",
			"https://example.com/", "https://example.com/c"),
		"https://example.com/b": sitePage("https://example.com/b", "page b"),
		"https://example.com/c": sitePage("https://example.com/c", "page c"),
	}}
	jobs := &fakeJobStore{}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com", 50, store.UnboundedDepth))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	wantOrder := []string{"https://example.com/", "https://example.com/a", "https://example.com/b", "https://example.com/c"}
	if len(fetcher.fetched) != len(wantOrder) {
		t.Fatalf("fetched %v, want %v", fetcher.fetched, wantOrder)
	}
	for i, url := range wantOrder {
		if fetcher.fetched[i] != url {
			t.Errorf("fetch %d = %q, want %q (breadth-first order)", i, fetcher.fetched[i], url)
		}
	}
	for _, url := range fetcher.fetched {
		if url == "https://other.com/x" {
			t.Error("crawl followed a cross-origin link")
		}
	}
	if jobs.found != 4 || jobs.crawled != 4 || jobs.failed != 0 {
		t.Errorf("counters = (%d, %d, %d), want (4, 4, 0)", jobs.found, jobs.crawled, jobs.failed)
	}
}

func TestRunHonorsPageLimit(t *testing.T) {
	pages := map[string]*Page{}
	// A chain long enough to exceed the limit.
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://example.com/p%d", i)
		pages[url] = sitePage(url, "content", fmt.Sprintf("https://example.com/p%d", i+1))
	}
	fetcher := &siteFetcher{pages: pages}
	jobs := &fakeJobStore{}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com/p0", 5, store.UnboundedDepth))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(fetcher.fetched) != 5 {
		t.Errorf("fetched %d pages, want 5 (page limit)", len(fetcher.fetched))
	}
}

func TestRunPageLimitCountsOnlyCrawledPages(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]*Page{
		"https://example.com/": sitePage("https://example.com/", "root",
			"https://example.com/broken1", "https://example.com/broken2",
			"https://example.com/good1", "https://example.com/good2",
			"https://example.com/good3"),
		"https://example.com/good1": sitePage("https://example.com/good1", "one"),
		"https://example.com/good2": sitePage("https://example.com/good2", "two"),
		"https://example.com/good3": sitePage("https://example.com/good3", "three"),
	}}
	jobs := &fakeJobStore{}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com", 3, store.UnboundedDepth))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Failed fetches must not consume the budget: the root and two good
	// pages fill the limit of 3 despite two broken links in between.
	if jobs.crawled != 3 || jobs.failed != 2 {
		t.Errorf("counters = crawled %d failed %d, want crawled 3 failed 2", jobs.crawled, jobs.failed)
	}
	for _, url := range fetcher.fetched {
		if url == "https://example.com/good3" {
			t.Error("crawl exceeded the page limit after filling it")
		}
	}
}

func TestRunHonorsDepthLimit(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]*Page{
		"https://example.com/":      sitePage("https://example.com/", "root", "https://example.com/d1"),
		"https://example.com/d1":    sitePage("https://example.com/d1", "depth 1", "https://example.com/d2"),
		"https://example.com/d2":    sitePage("https://example.com/d2", "depth 2", "https://example.com/d3"),
		"https://example.com/d3":    sitePage("https://example.com/d3", "depth 3"),
	}}
	jobs := &fakeJobStore{}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com", 50, 1))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(fetcher.fetched) != 2 {
		t.Errorf("fetched %v, want root plus depth 1 only", fetcher.fetched)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	pages := map[string]*Page{}
	for i := 0; i < 30; i++ {
		url := fmt.Sprintf("https://example.com/p%d", i)
		pages[url] = sitePage(url, "content", fmt.Sprintf("https://example.com/p%d", i+1))
	}
	fetcher := &siteFetcher{pages: pages}
	jobs := &fakeJobStore{statuses: []store.CrawlStatus{store.CrawlStatusCancelled}}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com/p0", 100, store.UnboundedDepth))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	// The poll fires after 10 processed pages, so exactly 10 were fetched
	// and their counters were flushed before stopping.
	if len(fetcher.fetched) != 10 {
		t.Errorf("fetched %d pages before cancellation, want 10", len(fetcher.fetched))
	}
	if jobs.found != 10 || jobs.crawled != 10 {
		t.Errorf("counters = (%d, %d), want flushed (10, 10)", jobs.found, jobs.crawled)
	}
}

func TestRunRecordsFailedFetches(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]*Page{
		"https://example.com/": sitePage("https://example.com/", "root",
			"https://example.com/missing", "https://example.com/ok"),
		"https://example.com/ok": sitePage("https://example.com/ok", "fine"),
	}}
	jobs := &fakeJobStore{}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com", 50, store.UnboundedDepth))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var failedPage *store.CrawledPage
	for _, page := range writer.pages {
		if page.Status == store.PageStatusFailed {
			failedPage = page
		}
	}
	if failedPage == nil {
		t.Fatal("failed fetch was not recorded")
	}
	if failedPage.URL != "https://example.com/missing" || failedPage.Error == "" {
		t.Errorf("failed page = %+v, want URL and error recorded", failedPage)
	}
	if jobs.found != 3 || jobs.crawled != 2 || jobs.failed != 1 {
		t.Errorf("counters = (%d, %d, %d), want (3, 2, 1)", jobs.found, jobs.crawled, jobs.failed)
	}
}

func TestRunSkipsEmptyPagesButFollowsLinks(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]*Page{
		"https://example.com/":     sitePage("https://example.com/", "", "https://example.com/deep"),
		"https://example.com/deep": sitePage("https://example.com/deep", "real content"),
	}}
	jobs := &fakeJobStore{}
	writer := &fakePageWriter{}
	engine := NewEngine(fetcher, jobs, writer, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com", 50, store.UnboundedDepth))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(writer.pages) != 1 || writer.pages[0].URL != "https://example.com/deep" {
		t.Errorf("recorded pages = %+v, want only the non-empty page", writer.pages)
	}
	if jobs.found != 2 || jobs.crawled != 1 {
		t.Errorf("counters = (%d, %d), want found=2 crawled=1", jobs.found, jobs.crawled)
	}
}

func TestRunFailsOnStorageError(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]*Page{
		"https://example.com/": sitePage("https://example.com/", "content"),
	}}
	writeErr := errors.New("disk full")
	engine := NewEngine(fetcher, &fakeJobStore{}, &fakePageWriter{createErr: writeErr}, 10, nil, log.NewNop())

	err := engine.Run(context.Background(), newTestJob("https://example.com", 50, store.UnboundedDepth))
	if !errors.Is(err, writeErr) {
		t.Errorf("Run() error = %v, want wrapped storage error", err)
	}
}

func TestRunRejectsInvalidRoot(t *testing.T) {
	engine := NewEngine(&siteFetcher{}, &fakeJobStore{}, &fakePageWriter{}, 10, nil, log.NewNop())
	err := engine.Run(context.Background(), newTestJob("ftp://example.com", 50, store.UnboundedDepth))
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("Run() error = %v, want ErrInvalidURL", err)
	}
}
