package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL indicates a URL that cannot serve as a crawl seed.
var ErrInvalidURL = errors.New("invalid URL")

// Normalize canonicalizes an absolute http(s) URL for use as a dedup key and
// stored page key: lowercased scheme and host, fragment removed, trailing
// slash removed from non-root paths, root path normalized to "/".
// Normalize is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return normalizeURL(u)
}

func normalizeURL(u *url.URL) (string, error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q is not http(s)", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	clean := *u
	clean.Scheme = strings.ToLower(clean.Scheme)
	clean.Host = strings.ToLower(clean.Host)
	clean.Fragment = ""
	clean.RawFragment = ""

	switch clean.Path {
	case "", "/":
		clean.Path = "/"
	default:
		clean.Path = strings.TrimSuffix(clean.Path, "/")
	}
	clean.RawPath = ""

	return clean.String(), nil
}

// ResolveLink resolves href against base and normalizes the result. The
// second return value is false when the link is malformed or not http(s);
// such links are skipped during discovery rather than treated as errors.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	norm, err := normalizeURL(abs)
	if err != nil {
		return "", false
	}
	return norm, true
}

// SameOrigin reports whether two URLs share scheme and host (including port).
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
