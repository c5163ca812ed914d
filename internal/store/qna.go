package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QnaStore persists question/answer training pairs.
type QnaStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewQnaStore creates a QnaStore.
func NewQnaStore(pool *pgxpool.Pool, logger *slog.Logger) *QnaStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &QnaStore{pool: pool, logger: logger}
}

const qnaColumns = `id, chatbot_id, question, answer, active, training_status, created_at, updated_at`

// Create inserts a pair in the pending state.
func (s *QnaStore) Create(ctx context.Context, pair *QnaPair) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qna_pairs (id, chatbot_id, question, answer, active, training_status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pair.ID, pair.ChatbotID, pair.Question, pair.Answer, pair.Active, TrainingStatusPending)
	if err != nil {
		return fmt.Errorf("failed to create qna pair: %w", err)
	}
	pair.TrainingStatus = TrainingStatusPending
	return nil
}

// CreateBatch inserts several pairs in one transaction. Either all rows are
// created or none.
func (s *QnaStore) CreateBatch(ctx context.Context, pairs []*QnaPair) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin qna batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, pair := range pairs {
		_, err := tx.Exec(ctx, `
			INSERT INTO qna_pairs (id, chatbot_id, question, answer, active, training_status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pair.ID, pair.ChatbotID, pair.Question, pair.Answer, pair.Active, TrainingStatusPending)
		if err != nil {
			return fmt.Errorf("failed to create qna pair %s: %w", pair.ID, err)
		}
		pair.TrainingStatus = TrainingStatusPending
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit qna batch: %w", err)
	}
	return nil
}

// Get loads a pair scoped to its chatbot.
func (s *QnaStore) Get(ctx context.Context, chatbotID, id uuid.UUID) (*QnaPair, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+qnaColumns+` FROM qna_pairs WHERE id = $1 AND chatbot_id = $2`, id, chatbotID)
	return scanQna(row)
}

// List returns a chatbot's pairs, newest first.
func (s *QnaStore) List(ctx context.Context, chatbotID uuid.UUID) ([]*QnaPair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+qnaColumns+` FROM qna_pairs WHERE chatbot_id = $1 ORDER BY created_at DESC`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list qna pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*QnaPair
	for rows.Next() {
		pair, err := scanQna(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// Update rewrites question, answer and active flag. The training status is
// reset by the caller when content actually changed.
func (s *QnaStore) Update(ctx context.Context, pair *QnaPair) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qna_pairs
		SET question = $3, answer = $4, active = $5, training_status = $6, updated_at = now()
		WHERE id = $1 AND chatbot_id = $2`,
		pair.ID, pair.ChatbotID, pair.Question, pair.Answer, pair.Active, pair.TrainingStatus)
	if err != nil {
		return fmt.Errorf("failed to update qna pair: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a pair. Callers delete the pair's vectors first so a crash
// between the two steps cannot leave vectors pointing at nothing.
func (s *QnaStore) Delete(ctx context.Context, chatbotID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM qna_pairs WHERE id = $1 AND chatbot_id = $2`, id, chatbotID)
	if err != nil {
		return fmt.Errorf("failed to delete qna pair: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTrainingStatus updates only the training status.
func (s *QnaStore) SetTrainingStatus(ctx context.Context, chatbotID, id uuid.UUID, status TrainingStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qna_pairs SET training_status = $3, updated_at = now()
		WHERE id = $1 AND chatbot_id = $2`,
		id, chatbotID, status)
	if err != nil {
		return fmt.Errorf("failed to set qna training status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanQna(row pgx.Row) (*QnaPair, error) {
	var pair QnaPair
	err := row.Scan(&pair.ID, &pair.ChatbotID, &pair.Question, &pair.Answer,
		&pair.Active, &pair.TrainingStatus, &pair.CreatedAt, &pair.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan qna pair: %w", err)
	}
	return &pair, nil
}
