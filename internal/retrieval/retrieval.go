// Package retrieval turns a user question into augmented prompt context. It
// searches the chatbot's vectors, keeps only matches above the relevance
// floor and renders them as a numbered context block ahead of the base
// system prompt. When nothing relevant is found the base prompt passes
// through untouched so the model answers from its own instructions.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/vector"
)

// Defaults for retrieval tuning.
const (
	// DefaultTopK is how many nearest neighbours are fetched before
	// filtering.
	DefaultTopK = 5

	// DefaultRelevanceFloor is the minimum cosine similarity a match must
	// exceed to be used as context.
	DefaultRelevanceFloor = 0.3
)

const contextPreamble = "Use the following context to answer the user's question. " +
	"If the context does not contain the answer, say you do not know instead of guessing."

// Searcher answers nearest-neighbour queries.
type Searcher interface {
	Search(ctx context.Context, chatbotID uuid.UUID, query string, topK int) ([]vector.Match, error)
}

// Context is one retrieved passage used to ground an answer.
type Context struct {
	Content    string
	Score      float64
	SourceType string
	SourceID   uuid.UUID
}

// Composer retrieves context and builds augmented prompts.
type Composer struct {
	searcher Searcher
	topK     int
	floor    float64
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewComposer creates a Composer. Non-positive topK and negative floor fall
// back to the defaults; a floor of exactly 0 is kept, filtering only
// zero-score matches.
func NewComposer(searcher Searcher, topK int, floor float64, m *metrics.Metrics, logger *slog.Logger) *Composer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if floor < 0 {
		floor = DefaultRelevanceFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{searcher: searcher, topK: topK, floor: floor, metrics: m, logger: logger}
}

// Retrieve searches the chatbot's knowledge and returns the matches strictly
// above the relevance floor, best first. An empty result is not an error.
func (c *Composer) Retrieve(ctx context.Context, chatbotID uuid.UUID, query string) ([]Context, error) {
	matches, err := c.searcher.Search(ctx, chatbotID, query, c.topK)
	if err != nil {
		return nil, fmt.Errorf("context retrieval failed: %w", err)
	}

	var contexts []Context
	for _, m := range matches {
		if m.Score <= c.floor {
			continue
		}
		contexts = append(contexts, Context{
			Content:    m.Content,
			Score:      m.Score,
			SourceType: m.SourceType,
			SourceID:   m.SourceID,
		})
	}

	c.metrics.ObserveRetrieval(len(contexts))
	c.logger.Debug("context retrieved",
		"chatbot_id", chatbotID, "candidates", len(matches), "kept", len(contexts))
	return contexts, nil
}

// Augment renders the contexts into a prompt preamble ahead of basePrompt.
// With no contexts the base prompt is returned unchanged.
func (c *Composer) Augment(basePrompt string, contexts []Context) string {
	if len(contexts) == 0 {
		return basePrompt
	}

	var sb strings.Builder
	sb.WriteString(contextPreamble)
	sb.WriteString("\n\n--- BEGIN CONTEXT ---\n")
	for i, cx := range contexts {
		fmt.Fprintf(&sb, "[Source %d]\n%s\n\n", i+1, cx.Content)
	}
	sb.WriteString("--- END CONTEXT ---\n\n")
	sb.WriteString(basePrompt)
	return sb.String()
}

// RetrieveAndAugment runs retrieval and prompt composition in one step,
// returning the augmented prompt and the contexts that back it. A retrieval
// failure fails the whole call; callers must not silently answer without
// knowledge they were asked to use.
func (c *Composer) RetrieveAndAugment(ctx context.Context, chatbotID uuid.UUID, query, basePrompt string) (string, []Context, error) {
	contexts, err := c.Retrieve(ctx, chatbotID, query)
	if err != nil {
		return "", nil, err
	}
	return c.Augment(basePrompt, contexts), contexts, nil
}
