// Package chat answers user questions grounded in the chatbot's trained
// knowledge. Each turn retrieves context, augments the system prompt and
// streams the model's answer back through a caller-supplied callback.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/retrieval"
)

// ErrEmptyQuestion indicates a chat turn with no question text.
var ErrEmptyQuestion = errors.New("question is empty")

// DefaultBasePrompt is used when the chatbot has no prompt of its own.
const DefaultBasePrompt = "You are a helpful assistant. Answer clearly and concisely."

// StreamFunc receives incremental answer text as the model produces it.
type StreamFunc func(chunk string) error

// Roles for conversation history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role string
	Text string
}

// Generator produces a model answer for a composed prompt. The genkit
// implementation lives in genkit.go; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, question string, history []Message, onChunk StreamFunc) (string, error)
}

// Composer retrieves knowledge and augments prompts.
type Composer interface {
	RetrieveAndAugment(ctx context.Context, chatbotID uuid.UUID, query, basePrompt string) (string, []retrieval.Context, error)
}

// Citation points at a knowledge source that grounded an answer.
type Citation struct {
	SourceType string
	SourceID   uuid.UUID
	Score      float64
}

// Answer is one completed chat turn.
type Answer struct {
	Text      string
	Citations []Citation
}

// Service runs retrieval-augmented chat turns.
type Service struct {
	composer  Composer
	generator Generator
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(composer Composer, generator Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{composer: composer, generator: generator, logger: logger}
}

// StreamAnswer answers one question, with history carrying the prior turns of
// the conversation. Retrieval failures fail the turn: a bot that was given
// knowledge must not silently answer without it. onChunk may be nil when the
// caller only wants the final answer.
func (s *Service) StreamAnswer(ctx context.Context, chatbotID uuid.UUID, basePrompt, question string, history []Message, onChunk StreamFunc) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if basePrompt == "" {
		basePrompt = DefaultBasePrompt
	}

	prompt, contexts, err := s.composer.RetrieveAndAugment(ctx, chatbotID, question, basePrompt)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.Generate(ctx, prompt, question, history, onChunk)
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	citations := make([]Citation, len(contexts))
	for i, cx := range contexts {
		citations[i] = Citation{SourceType: cx.SourceType, SourceID: cx.SourceID, Score: cx.Score}
	}

	s.logger.Info("chat turn answered",
		"chatbot_id", chatbotID, "contexts", len(contexts), "answer_len", len(text))
	return &Answer{Text: text, Citations: citations}, nil
}
