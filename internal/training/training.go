// Package training orchestrates the knowledge sources a chatbot learns from:
// question/answer pairs, the free-text block and selected crawled pages.
// Mutations persist the source, then schedule an embedding job on the durable
// queue; the job handler re-reads the source, replaces its vectors and
// settles the training status. Re-embedding always deletes a source's old
// vectors before writing new ones so no stale chunks survive a retrain.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/queue"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/vector"
)

// ErrEmptySource indicates a training source with no usable content.
var ErrEmptySource = errors.New("training source is empty")

// trainPayload is the durable message carried on the training queue.
type trainPayload struct {
	ChatbotID  uuid.UUID `json:"chatbot_id"`
	SourceType string    `json:"source_type"`
	SourceID   uuid.UUID `json:"source_id"`
}

// QnaStore is the Q&A persistence consumed by the service.
type QnaStore interface {
	Create(ctx context.Context, pair *store.QnaPair) error
	CreateBatch(ctx context.Context, pairs []*store.QnaPair) error
	Get(ctx context.Context, chatbotID, id uuid.UUID) (*store.QnaPair, error)
	List(ctx context.Context, chatbotID uuid.UUID) ([]*store.QnaPair, error)
	Update(ctx context.Context, pair *store.QnaPair) error
	Delete(ctx context.Context, chatbotID, id uuid.UUID) error
	SetTrainingStatus(ctx context.Context, chatbotID, id uuid.UUID, status store.TrainingStatus) error
}

// TextStore is the free-text persistence consumed by the service.
type TextStore interface {
	Upsert(ctx context.Context, chatbotID uuid.UUID, content string) (*store.TextTraining, error)
	Get(ctx context.Context, chatbotID uuid.UUID) (*store.TextTraining, error)
	Delete(ctx context.Context, chatbotID uuid.UUID) error
	SetTrainingStatus(ctx context.Context, chatbotID uuid.UUID, status store.TrainingStatus) error
}

// PageReader loads crawled pages selected for training.
type PageReader interface {
	Get(ctx context.Context, id uuid.UUID) (*store.CrawledPage, error)
}

// VectorStore embeds and persists source texts.
type VectorStore interface {
	StoreSource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID, text string) (int, error)
	DeleteBySource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID) (int64, error)
}

// Enqueuer submits durable jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts ...queue.Option) (uuid.UUID, error)
}

// Service owns training-source CRUD and the embedding job handler.
type Service struct {
	qna      QnaStore
	text     TextStore
	pages    PageReader
	vectors  VectorStore
	enqueuer Enqueuer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(qna QnaStore, text TextStore, pages PageReader, vectors VectorStore, enqueuer Enqueuer, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		qna:      qna,
		text:     text,
		pages:    pages,
		vectors:  vectors,
		enqueuer: enqueuer,
		metrics:  m,
		logger:   logger,
	}
}

// EnqueueSource schedules an embedding job for one training source.
func (s *Service) EnqueueSource(ctx context.Context, chatbotID uuid.UUID, sourceType string, sourceID uuid.UUID) error {
	payload := trainPayload{ChatbotID: chatbotID, SourceType: sourceType, SourceID: sourceID}
	if _, err := s.enqueuer.Enqueue(ctx, queue.QueueTraining, payload); err != nil {
		return fmt.Errorf("failed to enqueue training for %s/%s: %w", sourceType, sourceID, err)
	}
	return nil
}

// QnaInput is one pair to create.
type QnaInput struct {
	Question string
	Answer   string
	Active   bool
}

func (in QnaInput) validate() error {
	if strings.TrimSpace(in.Question) == "" || strings.TrimSpace(in.Answer) == "" {
		return fmt.Errorf("%w: question and answer are required", ErrEmptySource)
	}
	return nil
}

// CreateQna persists a pending pair and schedules its embedding.
func (s *Service) CreateQna(ctx context.Context, chatbotID uuid.UUID, in QnaInput) (*store.QnaPair, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	pair := &store.QnaPair{
		ID:             uuid.New(),
		ChatbotID:      chatbotID,
		Question:       in.Question,
		Answer:         in.Answer,
		Active:         in.Active,
		TrainingStatus: store.TrainingStatusPending,
	}
	if err := s.qna.Create(ctx, pair); err != nil {
		return nil, fmt.Errorf("failed to create qna pair: %w", err)
	}
	if err := s.EnqueueSource(ctx, chatbotID, vector.SourceTypeQna, pair.ID); err != nil {
		return nil, err
	}
	return pair, nil
}

// BulkCreateQna persists all pairs in one transaction and schedules one
// embedding job per pair. Validation failures reject the whole batch before
// anything is written.
func (s *Service) BulkCreateQna(ctx context.Context, chatbotID uuid.UUID, inputs []QnaInput) ([]*store.QnaPair, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	pairs := make([]*store.QnaPair, len(inputs))
	for i, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		pairs[i] = &store.QnaPair{
			ID:             uuid.New(),
			ChatbotID:      chatbotID,
			Question:       in.Question,
			Answer:         in.Answer,
			Active:         in.Active,
			TrainingStatus: store.TrainingStatusPending,
		}
	}

	if err := s.qna.CreateBatch(ctx, pairs); err != nil {
		return nil, fmt.Errorf("failed to create qna batch: %w", err)
	}
	for _, pair := range pairs {
		if err := s.EnqueueSource(ctx, chatbotID, vector.SourceTypeQna, pair.ID); err != nil {
			return nil, err
		}
	}
	return pairs, nil
}

// ListQna returns a chatbot's pairs, newest first.
func (s *Service) ListQna(ctx context.Context, chatbotID uuid.UUID) ([]*store.QnaPair, error) {
	return s.qna.List(ctx, chatbotID)
}

// UpdateQna rewrites a pair. When the question or answer changed the old
// vectors are deleted and a retrain is scheduled; toggling only the active
// flag rewrites the row without touching vectors.
func (s *Service) UpdateQna(ctx context.Context, chatbotID, id uuid.UUID, in QnaInput) (*store.QnaPair, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	existing, err := s.qna.Get(ctx, chatbotID, id)
	if err != nil {
		return nil, err
	}
	contentChanged := existing.Question != in.Question || existing.Answer != in.Answer

	existing.Question = in.Question
	existing.Answer = in.Answer
	existing.Active = in.Active
	if contentChanged {
		existing.TrainingStatus = store.TrainingStatusPending
	}
	if err := s.qna.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update qna pair: %w", err)
	}

	if contentChanged {
		if _, err := s.vectors.DeleteBySource(ctx, chatbotID, vector.SourceTypeQna, id); err != nil {
			return nil, err
		}
		if err := s.EnqueueSource(ctx, chatbotID, vector.SourceTypeQna, id); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// DeleteQna removes a pair and its vectors. Vectors go first so a crash
// between the two writes leaves an orphaned row rather than orphaned vectors
// that would keep answering retrievals.
func (s *Service) DeleteQna(ctx context.Context, chatbotID, id uuid.UUID) error {
	if _, err := s.vectors.DeleteBySource(ctx, chatbotID, vector.SourceTypeQna, id); err != nil {
		return err
	}
	if err := s.qna.Delete(ctx, chatbotID, id); err != nil {
		return err
	}
	s.logger.Info("qna pair deleted", "chatbot_id", chatbotID, "qna_id", id)
	return nil
}

// UpsertText replaces the chatbot's free-text block, drops the old vectors
// and schedules a retrain.
func (s *Service) UpsertText(ctx context.Context, chatbotID uuid.UUID, content string) (*store.TextTraining, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrEmptySource)
	}

	text, err := s.text.Upsert(ctx, chatbotID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert text training: %w", err)
	}
	if _, err := s.vectors.DeleteBySource(ctx, chatbotID, vector.SourceTypeText, text.ID); err != nil {
		return nil, err
	}
	if err := s.EnqueueSource(ctx, chatbotID, vector.SourceTypeText, text.ID); err != nil {
		return nil, err
	}
	return text, nil
}

// GetText returns the chatbot's free-text block.
func (s *Service) GetText(ctx context.Context, chatbotID uuid.UUID) (*store.TextTraining, error) {
	return s.text.Get(ctx, chatbotID)
}

// DeleteText removes the free-text block and its vectors, vectors first.
func (s *Service) DeleteText(ctx context.Context, chatbotID uuid.UUID) error {
	text, err := s.text.Get(ctx, chatbotID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.vectors.DeleteBySource(ctx, chatbotID, vector.SourceTypeText, text.ID); err != nil {
		return err
	}
	if err := s.text.Delete(ctx, chatbotID); err != nil {
		return err
	}
	s.logger.Info("text training deleted", "chatbot_id", chatbotID)
	return nil
}

// HandleTrainingJob embeds one source delivered by the queue. Sources deleted
// between enqueue and delivery are acknowledged without work. Embedding
// failures propagate to trigger the retry policy after the source is marked
// failed.
func (s *Service) HandleTrainingJob(ctx context.Context, payload []byte) error {
	var msg trainPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("malformed training payload: %w", err)
	}

	src, err := s.loadSource(ctx, &msg)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("training source gone, dropping delivery",
			"chatbot_id", msg.ChatbotID, "source_type", msg.SourceType, "source_id", msg.SourceID)
		s.metrics.ObserveTrainingJob(msg.SourceType, metrics.OutcomeSkipped)
		return nil
	}
	if err != nil {
		return err
	}

	if err := src.markStatus(ctx, store.TrainingStatusProcessing); err != nil {
		return err
	}

	if err := s.retrain(ctx, &msg, src.content()); err != nil {
		if statusErr := src.markStatus(ctx, store.TrainingStatusFailed); statusErr != nil {
			s.logger.Error("failed to mark source failed", "source_id", msg.SourceID, "error", statusErr)
		}
		s.metrics.ObserveTrainingJob(msg.SourceType, metrics.OutcomeFailed)
		return err
	}

	if err := src.markStatus(ctx, store.TrainingStatusTrained); err != nil {
		return err
	}
	s.metrics.ObserveTrainingJob(msg.SourceType, metrics.OutcomeSucceeded)
	return nil
}

// retrain replaces the source's vectors with fresh ones.
func (s *Service) retrain(ctx context.Context, msg *trainPayload, text string) error {
	if _, err := s.vectors.DeleteBySource(ctx, msg.ChatbotID, msg.SourceType, msg.SourceID); err != nil {
		return err
	}
	count, err := s.vectors.StoreSource(ctx, msg.ChatbotID, msg.SourceType, msg.SourceID, text)
	if err != nil {
		return err
	}
	s.logger.Info("source trained",
		"chatbot_id", msg.ChatbotID, "source_type", msg.SourceType, "source_id", msg.SourceID, "chunks", count)
	return nil
}

// trainingSource is one loaded source variant ready to embed. Each variant
// owns its text rendering and its training-status bookkeeping.
type trainingSource interface {
	content() string
	markStatus(ctx context.Context, status store.TrainingStatus) error
}

type qnaSource struct {
	svc  *Service
	msg  *trainPayload
	pair *store.QnaPair
}

func (s *qnaSource) content() string { return FormatQna(s.pair.Question, s.pair.Answer) }

func (s *qnaSource) markStatus(ctx context.Context, status store.TrainingStatus) error {
	return s.svc.qna.SetTrainingStatus(ctx, s.msg.ChatbotID, s.msg.SourceID, status)
}

type textSource struct {
	svc   *Service
	block *store.TextTraining
}

func (s *textSource) content() string { return s.block.Content }

func (s *textSource) markStatus(ctx context.Context, status store.TrainingStatus) error {
	return s.svc.text.SetTrainingStatus(ctx, s.block.ChatbotID, status)
}

// pageSource has no training status column; selection is its only state.
type pageSource struct {
	page *store.CrawledPage
}

func (s *pageSource) content() string { return s.page.Content }

func (s *pageSource) markStatus(context.Context, store.TrainingStatus) error { return nil }

// loadSource decodes the payload's source type into its variant, performing
// the per-variant existence and staleness checks. This is the only place the
// type discriminator is inspected.
func (s *Service) loadSource(ctx context.Context, msg *trainPayload) (trainingSource, error) {
	switch msg.SourceType {
	case vector.SourceTypeQna:
		pair, err := s.qna.Get(ctx, msg.ChatbotID, msg.SourceID)
		if err != nil {
			return nil, err
		}
		return &qnaSource{svc: s, msg: msg, pair: pair}, nil

	case vector.SourceTypeText:
		block, err := s.text.Get(ctx, msg.ChatbotID)
		if err != nil {
			return nil, err
		}
		if block.ID != msg.SourceID {
			// The block was replaced after this job was enqueued; the
			// newer job owns the vectors now.
			return nil, store.ErrNotFound
		}
		return &textSource{svc: s, block: block}, nil

	case vector.SourceTypePage:
		page, err := s.pages.Get(ctx, msg.SourceID)
		if err != nil {
			return nil, err
		}
		if !page.Selected {
			return nil, store.ErrNotFound
		}
		return &pageSource{page: page}, nil

	default:
		return nil, fmt.Errorf("unknown training source type %q", msg.SourceType)
	}
}

// FormatQna renders a pair as the single text block that gets embedded.
func FormatQna(question, answer string) string {
	return fmt.Sprintf("Question: %s\nAnswer: %s", question, answer)
}
