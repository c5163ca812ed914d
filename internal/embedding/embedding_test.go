package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/lorekeep/lorekeep/internal/log"
)

// fakeEmbedder returns a deterministic vector per input and records batch
// sizes for batching assertions.
type fakeEmbedder struct {
	batchSizes []int
	embedErr   error
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

func (f *fakeEmbedder) Register(r api.Registry) {}

func (f *fakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.batchSizes = append(f.batchSizes, len(req.Input))

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := doc.Content[0].Text
		// Encode the input length so order can be verified positionally.
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: []float32{float32(len(text)), 1},
		})
	}
	return resp, nil
}

func TestEmbedTextsPreservesOrder(t *testing.T) {
	fake := &fakeEmbedder{}
	client := NewClient(fake, log.NewNop())

	texts := []string{"a", "bb", "ccc"}
	vectors, err := client.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedTexts() error: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vector %d = %v, not aligned with input %q", i, vectors[i], text)
		}
	}
}

func TestEmbedTextsBatches(t *testing.T) {
	fake := &fakeEmbedder{}
	client := NewClient(fake, log.NewNop())

	texts := make([]string, BatchSize*2+3)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	vectors, err := client.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedTexts() error: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}

	wantBatches := []int{BatchSize, BatchSize, 3}
	if len(fake.batchSizes) != len(wantBatches) {
		t.Fatalf("got %d batches %v, want %v", len(fake.batchSizes), fake.batchSizes, wantBatches)
	}
	for i, size := range wantBatches {
		if fake.batchSizes[i] != size {
			t.Errorf("batch %d size = %d, want %d", i, fake.batchSizes[i], size)
		}
	}
}

func TestEmbedTextsRejectsEmpty(t *testing.T) {
	client := NewClient(&fakeEmbedder{}, log.NewNop())

	for _, texts := range [][]string{{""}, {"ok", "   "}, {"ok", "\n\t", "also ok"}} {
		if _, err := client.EmbedTexts(context.Background(), texts); !errors.Is(err, ErrEmptyText) {
			t.Errorf("EmbedTexts(%q) error = %v, want ErrEmptyText", texts, err)
		}
	}
}

func TestEmbedTextsNilInput(t *testing.T) {
	client := NewClient(&fakeEmbedder{}, log.NewNop())
	vectors, err := client.EmbedTexts(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedTexts(nil) error: %v", err)
	}
	if vectors != nil {
		t.Errorf("EmbedTexts(nil) = %v, want nil", vectors)
	}
}

func TestEmbedTextsPropagatesProviderError(t *testing.T) {
	providerErr := errors.New("rate limited")
	client := NewClient(&fakeEmbedder{embedErr: providerErr}, log.NewNop())

	_, err := client.EmbedTexts(context.Background(), []string{"x"})
	if !errors.Is(err, providerErr) {
		t.Errorf("error = %v, want wrapped provider error", err)
	}
}

func TestEmbedQuery(t *testing.T) {
	client := NewClient(&fakeEmbedder{}, log.NewNop())
	vec, err := client.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if len(vec) == 0 {
		t.Error("EmbedQuery() returned empty vector")
	}
}
