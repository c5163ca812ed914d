package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGQuerier implements Querier on a pgx connection pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a PGQuerier.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

// InsertEmbeddings writes all records in one batch round trip.
func (q *PGQuerier) InsertEmbeddings(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO embeddings (id, chatbot_id, source_type, source_id, content, embedding, chunk_index, chunk_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.ChatbotID, rec.SourceType, rec.SourceID,
			rec.Content, rec.Embedding, rec.ChunkIndex, rec.ChunkTotal)
	}

	results := q.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("embedding insert failed: %w", err)
		}
	}
	return nil
}

// DeleteBySource removes all vectors under the source triple.
func (q *PGQuerier) DeleteBySource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM embeddings
		WHERE chatbot_id = $1 AND source_type = $2 AND source_id = $3`,
		chatbotID, sourceType, sourceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SearchNearest ranks the chatbot's vectors by cosine distance to the query
// vector. Score is 1 - distance, so higher is more similar.
func (q *PGQuerier) SearchNearest(ctx context.Context, chatbotID uuid.UUID, query pgvector.Vector, limit int) ([]Match, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT content, source_type, source_id, chunk_index, chunk_total,
		       1 - (embedding <=> $2) AS score
		FROM embeddings
		WHERE chatbot_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		chatbotID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Content, &m.SourceType, &m.SourceID, &m.ChunkIndex, &m.ChunkTotal, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
