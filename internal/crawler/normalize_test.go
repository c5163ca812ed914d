package crawler

import (
	"net/url"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root without slash", "https://example.com", "https://example.com/"},
		{"root with slash", "https://example.com/", "https://example.com/"},
		{"strips fragment", "https://example.com/docs#intro", "https://example.com/docs"},
		{"strips trailing slash", "https://example.com/docs/", "https://example.com/docs"},
		{"keeps query", "https://example.com/search?q=go", "https://example.com/search?q=go"},
		{"lowercases host", "https://EXAMPLE.com/Docs", "https://example.com/Docs"},
		{"keeps port", "http://example.com:8080/a/", "http://example.com:8080/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://example.com",
		"https://example.com/a/b/",
		"https://example.com/a?x=1#frag",
		"HTTP://Example.COM:80/path/",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)) error: %v", in, err)
		}
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{"", "ftp://example.com/file", "mailto:x@example.com", "/relative/only", "://bad"} {
		if _, err := Normalize(in); err == nil {
			t.Errorf("Normalize(%q) succeeded, want error", in)
		}
	}
}

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/index.html")

	tests := []struct {
		href   string
		want   string
		wantOK bool
	}{
		{"/about", "https://example.com/about", true},
		{"guide/", "https://example.com/docs/guide", true},
		{"https://other.org/x", "https://other.org/x", true},
		{"#section", "https://example.com/docs/index.html", true},
		{"javascript:void(0)", "", false},
		{"mailto:a@b.c", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ResolveLink(base, tt.href)
		if ok != tt.wantOK {
			t.Errorf("ResolveLink(%q) ok = %v, want %v", tt.href, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ResolveLink(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	a, _ := url.Parse("https://example.com/a")
	b, _ := url.Parse("https://EXAMPLE.com/b")
	c, _ := url.Parse("https://other.org/a")
	d, _ := url.Parse("http://example.com/a")
	e, _ := url.Parse("https://example.com:8443/a")

	if !SameOrigin(a, b) {
		t.Error("same host with different case should match")
	}
	if SameOrigin(a, c) {
		t.Error("different hosts must not match")
	}
	if SameOrigin(a, d) {
		t.Error("different schemes must not match")
	}
	if SameOrigin(a, e) {
		t.Error("different ports must not match")
	}
}
