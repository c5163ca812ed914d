// Package embedding turns text into fixed-dimension vectors using a Genkit
// embedder. Requests are batched to respect provider rate limits; batch
// order is preserved so callers can zip inputs to outputs positionally.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// Dim is the vector dimension produced by the configured embedder model
// (text-embedding-004). The pgvector schema must match it.
const Dim = 768

// BatchSize caps the number of texts sent to the provider per request.
const BatchSize = 20

// ErrEmptyText indicates a text that is empty after whitespace
// normalization. Callers must filter or chunk inputs so empty strings never
// reach the provider.
var ErrEmptyText = errors.New("cannot embed empty text")

// Client wraps an ai.Embedder with batching.
type Client struct {
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewClient creates a Client.
func NewClient(embedder ai.Embedder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{embedder: embedder, logger: logger}
}

// EmbedTexts embeds all texts and returns their vectors in input order.
// Transient provider failures are returned as-is; retry policy belongs to
// the job queue, not this layer.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyText, i)
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := start + BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at %d: %w", start, err)
		}
		vectors = append(vectors, batch...)
	}

	c.logger.Debug("texts embedded", "count", len(texts))
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]*ai.Document, len(texts))
	for i, text := range texts {
		input[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned for input %d", i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
