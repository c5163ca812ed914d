package crawler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// Fetch errors.
var (
	// ErrNotHTML indicates the response was not an HTML document.
	ErrNotHTML = errors.New("response is not HTML")

	// ErrBadStatus indicates a non-2xx HTTP response.
	ErrBadStatus = errors.New("unexpected HTTP status")
)

// maxBodyBytes caps how much of a response body is read. Pages larger than
// this are truncated rather than rejected.
const maxBodyBytes = 4 << 20

// Chrome and boilerplate elements removed before text extraction.
const strippedSelectors = "script, style, nav, header, footer, iframe, svg, noscript"

// Page is one fetched and extracted page.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentHash string
	Links       []string
}

// FetcherConfig tunes the HTTP client and politeness limits.
type FetcherConfig struct {
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
}

func (c *FetcherConfig) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "LorekeepBot/1.0 (+https://lorekeep.dev/bot)"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 4
	}
}

// Fetcher downloads pages, extracts their visible text and discovers
// normalized same-document links. Requests are throttled by a shared rate
// limiter so concurrent jobs stay polite. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Fetch retrieves the page at the given normalized URL. All discovered links
// are returned normalized and absolute; the caller decides which to follow.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d for %s", ErrBadStatus, resp.StatusCode, pageURL)
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: %s has content type %q", ErrNotHTML, pageURL, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", pageURL, err)
	}

	// Redirects can land on a different URL than requested.
	finalURL := resp.Request.URL
	page, err := extract(finalURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}

	f.logger.Debug("page fetched",
		"url", page.URL, "title", page.Title, "text_len", len(page.Text), "links", len(page.Links))
	return page, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// extract pulls the title, visible text and links out of an HTML document.
func extract(pageURL *url.URL, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	doc.Find(strippedSelectors).Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	text := collapseWhitespace(doc.Find("body").Text())
	hash := sha256.Sum256([]byte(text))

	normURL, err := normalizeURL(pageURL)
	if err != nil {
		return nil, err
	}

	return &Page{
		URL:         normURL,
		Title:       title,
		Text:        text,
		ContentHash: hex.EncodeToString(hash[:]),
		Links:       extractLinks(pageURL, body),
	}, nil
}

// extractLinks walks the raw document for anchor hrefs, resolving and
// normalizing each against the page URL. Links are extracted from the
// unstripped document so navigation links still drive discovery. Duplicates
// within the page are collapsed.
func extractLinks(pageURL *url.URL, body []byte) []string {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				link, ok := ResolveLink(pageURL, attr.Val)
				if !ok {
					break
				}
				if _, dup := seen[link]; !dup {
					seen[link] = struct{}{}
					links = append(links, link)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
