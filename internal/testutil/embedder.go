package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder is a deterministic ai.Embedder: each text maps to a fixed
// pseudo-random unit-ish vector derived from its content hash, so equal
// texts always embed identically and tests need no API key.
type FakeEmbedder struct {
	Dim      int
	EmbedErr error
	Calls    int
}

// NewFakeEmbedder creates a FakeEmbedder producing vectors of dim components.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &FakeEmbedder{Dim: dim}
}

// Name implements ai.Embedder.
func (f *FakeEmbedder) Name() string { return "testutil/fake-embedder" }

// Register implements ai.Embedder.
func (f *FakeEmbedder) Register(r api.Registry) {}

// Embed implements ai.Embedder.
func (f *FakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.Calls++
	if f.EmbedErr != nil {
		return nil, f.EmbedErr
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		for _, part := range doc.Content {
			text += part.Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: vectorFor(text, f.Dim),
		})
	}
	return resp, nil
}

func vectorFor(text string, dim int) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		word := binary.LittleEndian.Uint32(seed[(i*4)%28:])
		// Spread components over [-1, 1), perturbed by position.
		vec[i] = float32(int32(word+uint32(i)*2654435761)) / (1 << 31)
	}
	return vec
}
