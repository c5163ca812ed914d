package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/log"
	"github.com/lorekeep/lorekeep/internal/vector"
)

type fakeSearcher struct {
	matches   []vector.Match
	searchErr error
	gotTopK   int
}

func (f *fakeSearcher) Search(ctx context.Context, chatbotID uuid.UUID, query string, topK int) ([]vector.Match, error) {
	f.gotTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func newTestComposer(s Searcher) *Composer {
	return NewComposer(s, 5, 0.3, nil, log.NewNop())
}

func TestRetrieveFiltersByRelevanceFloor(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{
		{Content: "clearly relevant", Score: 0.82},
		{Content: "barely above", Score: 0.31},
		{Content: "barely below", Score: 0.29},
		{Content: "noise", Score: 0.05},
	}}
	composer := newTestComposer(searcher)

	contexts, err := composer.Retrieve(context.Background(), uuid.New(), "question")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(contexts) != 2 {
		t.Fatalf("kept %d contexts, want 2", len(contexts))
	}
	if contexts[0].Content != "clearly relevant" || contexts[1].Content != "barely above" {
		t.Errorf("contexts = %+v", contexts)
	}
}

func TestRetrieveExcludesExactFloor(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{{Content: "on the line", Score: 0.3}}}
	contexts, err := newTestComposer(searcher).Retrieve(context.Background(), uuid.New(), "q")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(contexts) != 0 {
		t.Errorf("score exactly at the floor must be excluded, got %+v", contexts)
	}
}

func TestRetrieveHonorsZeroFloor(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{
		{Content: "faint but wanted", Score: 0.05},
		{Content: "orthogonal", Score: 0},
	}}
	composer := NewComposer(searcher, 5, 0, nil, log.NewNop())

	contexts, err := composer.Retrieve(context.Background(), uuid.New(), "q")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(contexts) != 1 || contexts[0].Content != "faint but wanted" {
		t.Errorf("contexts = %+v, want the low-score match kept under a zero floor", contexts)
	}
}

func TestRetrievePropagatesSearchError(t *testing.T) {
	searchErr := errors.New("db down")
	_, err := newTestComposer(&fakeSearcher{searchErr: searchErr}).Retrieve(context.Background(), uuid.New(), "q")
	if !errors.Is(err, searchErr) {
		t.Errorf("Retrieve() error = %v, want wrapped search error", err)
	}
}

func TestRetrievePassesTopK(t *testing.T) {
	searcher := &fakeSearcher{}
	composer := NewComposer(searcher, 7, 0.3, nil, log.NewNop())
	if _, err := composer.Retrieve(context.Background(), uuid.New(), "q"); err != nil {
		t.Fatal(err)
	}
	if searcher.gotTopK != 7 {
		t.Errorf("topK = %d, want 7", searcher.gotTopK)
	}
}

func TestAugmentNumbersSources(t *testing.T) {
	composer := newTestComposer(&fakeSearcher{})
	prompt := composer.Augment("You are a support bot.", []Context{
		{Content: "We ship worldwide."},
		{Content: "Returns accepted for 30 days."},
	})

	for _, want := range []string{
		"--- BEGIN CONTEXT ---",
		"[Source 1]\nWe ship worldwide.",
		"[Source 2]\nReturns accepted for 30 days.",
		"--- END CONTEXT ---",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "You are a support bot.") {
		t.Error("base prompt must come after the context block")
	}
	if idx := strings.Index(prompt, "--- BEGIN CONTEXT ---"); idx < len("Use") {
		t.Error("preamble must precede the context block")
	}
}

func TestAugmentWithoutContextsReturnsBasePrompt(t *testing.T) {
	composer := newTestComposer(&fakeSearcher{})
	base := "You are a support bot."
	if got := composer.Augment(base, nil); got != base {
		t.Errorf("Augment(base, nil) = %q, want base prompt unchanged", got)
	}
}

func TestRetrieveAndAugment(t *testing.T) {
	searcher := &fakeSearcher{matches: []vector.Match{
		{Content: "We ship worldwide within 3 days.", Score: 0.9},
		{Content: "irrelevant footer text", Score: 0.12},
	}}
	composer := newTestComposer(searcher)

	prompt, contexts, err := composer.RetrieveAndAugment(
		context.Background(), uuid.New(), "How fast is shipping?", "Answer politely.")
	if err != nil {
		t.Fatalf("RetrieveAndAugment() error: %v", err)
	}
	if len(contexts) != 1 {
		t.Fatalf("contexts = %+v, want 1", contexts)
	}
	if !strings.Contains(prompt, "We ship worldwide within 3 days.") {
		t.Error("relevant context missing from prompt")
	}
	if strings.Contains(prompt, "irrelevant footer text") {
		t.Error("low-score match leaked into prompt")
	}
}
