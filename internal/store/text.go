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

// TextStore persists the free-text training block. The chatbot_id unique
// constraint guarantees at most one block per chatbot.
type TextStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTextStore creates a TextStore.
func NewTextStore(pool *pgxpool.Pool, logger *slog.Logger) *TextStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextStore{pool: pool, logger: logger}
}

const textColumns = `id, chatbot_id, content, training_status, created_at, updated_at`

// Upsert creates or replaces the chatbot's text block, resetting the
// training status to pending. Returns the stored record.
func (s *TextStore) Upsert(ctx context.Context, chatbotID uuid.UUID, content string) (*TextTraining, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO text_training (id, chatbot_id, content, training_status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chatbot_id) DO UPDATE
		SET content = EXCLUDED.content, training_status = EXCLUDED.training_status, updated_at = now()
		RETURNING `+textColumns,
		uuid.New(), chatbotID, content, TrainingStatusPending)
	return scanText(row)
}

// Get loads the chatbot's text block.
func (s *TextStore) Get(ctx context.Context, chatbotID uuid.UUID) (*TextTraining, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+textColumns+` FROM text_training WHERE chatbot_id = $1`, chatbotID)
	return scanText(row)
}

// Delete removes the chatbot's text block. Callers delete vectors first.
func (s *TextStore) Delete(ctx context.Context, chatbotID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM text_training WHERE chatbot_id = $1`, chatbotID)
	if err != nil {
		return fmt.Errorf("failed to delete text training: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTrainingStatus updates only the training status.
func (s *TextStore) SetTrainingStatus(ctx context.Context, chatbotID uuid.UUID, status TrainingStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE text_training SET training_status = $2, updated_at = now()
		WHERE chatbot_id = $1`,
		chatbotID, status)
	if err != nil {
		return fmt.Errorf("failed to set text training status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanText(row pgx.Row) (*TextTraining, error) {
	var text TextTraining
	err := row.Scan(&text.ID, &text.ChatbotID, &text.Content,
		&text.TrainingStatus, &text.CreatedAt, &text.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan text training: %w", err)
	}
	return &text, nil
}
