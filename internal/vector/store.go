// Package vector stores and searches embedding vectors in PostgreSQL with
// pgvector. Vectors are keyed by the (chatbot, source type, source id)
// triple; deleting a source's training data removes every vector under its
// triple. Scores are cosine similarity (1 - cosine distance); no relevance
// filtering happens here, thresholding belongs to the retrieval layer.
package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/lorekeep/lorekeep/internal/chunk"
	"github.com/lorekeep/lorekeep/internal/metrics"
)

// Source type discriminators for the embeddings table.
const (
	// SourceTypeQna marks vectors derived from a question/answer pair.
	SourceTypeQna = "qna"

	// SourceTypeText marks vectors derived from the free-text block.
	SourceTypeText = "text"

	// SourceTypePage marks vectors derived from a selected crawled page.
	SourceTypePage = "crawled_page"
)

// Record is one chunk's stored vector.
type Record struct {
	ID         uuid.UUID
	ChatbotID  uuid.UUID
	SourceType string
	SourceID   uuid.UUID
	Content    string
	Embedding  pgvector.Vector
	ChunkIndex int
	ChunkTotal int
}

// Match is one search result ranked by cosine similarity.
type Match struct {
	Content    string
	Score      float64
	SourceType string
	SourceID   uuid.UUID
	ChunkIndex int
	ChunkTotal int
}

// Querier is the persistence interface consumed by Store. Interfaces are
// defined by the consumer; the pgx implementation lives in pg.go.
type Querier interface {
	InsertEmbeddings(ctx context.Context, records []Record) error
	DeleteBySource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID) (int64, error)
	SearchNearest(ctx context.Context, chatbotID uuid.UUID, query pgvector.Vector, limit int) ([]Match, error)
}

// Embedder produces vectors for chunked texts and queries.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Store is the vector store adapter: it chunks, embeds and persists source
// texts, and answers nearest-neighbour queries scoped to a chatbot.
// Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder Embedder
	splitter *chunk.Splitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Store.
func New(queries Querier, embedder Embedder, splitter *chunk.Splitter, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if splitter == nil {
		splitter = chunk.NewSplitter(chunk.DefaultSize, chunk.DefaultOverlap)
	}
	return &Store{
		queries:  queries,
		embedder: embedder,
		splitter: splitter,
		metrics:  m,
		logger:   logger,
	}
}

// StoreSource chunks text, embeds the chunks in batches and persists one
// record per chunk under the source triple. Returns the number of vectors
// stored; text that produces no chunks stores nothing and returns 0.
func (s *Store) StoreSource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID, text string) (int, error) {
	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d chunks for %s/%s: %w", len(chunks), sourceType, sourceID, err)
	}

	records := make([]Record, len(chunks))
	for i, content := range chunks {
		records[i] = Record{
			ID:         uuid.New(),
			ChatbotID:  chatbotID,
			SourceType: sourceType,
			SourceID:   sourceID,
			Content:    content,
			Embedding:  pgvector.NewVector(vectors[i]),
			ChunkIndex: i,
			ChunkTotal: len(chunks),
		}
	}

	if err := s.queries.InsertEmbeddings(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to insert %d embeddings for %s/%s: %w", len(records), sourceType, sourceID, err)
	}

	s.metrics.AddEmbeddingsStored(len(records))
	s.logger.Debug("source embedded",
		"chatbot_id", chatbotID, "source_type", sourceType, "source_id", sourceID, "chunks", len(records))
	return len(records), nil
}

// DeleteBySource removes all vectors under the source triple. Safe to call
// when no vectors exist; returns the number deleted.
func (s *Store) DeleteBySource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID) (int64, error) {
	deleted, err := s.queries.DeleteBySource(ctx, chatbotID, sourceType, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings for %s/%s: %w", sourceType, sourceID, err)
	}
	if deleted > 0 {
		s.logger.Debug("source embeddings deleted",
			"chatbot_id", chatbotID, "source_type", sourceType, "source_id", sourceID, "count", deleted)
	}
	return deleted, nil
}

// Search embeds the query once and returns the topK highest-scoring matches
// for the chatbot, best first.
func (s *Store) Search(ctx context.Context, chatbotID uuid.UUID, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.queries.SearchNearest(ctx, chatbotID, pgvector.NewVector(queryVec), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return matches, nil
}
