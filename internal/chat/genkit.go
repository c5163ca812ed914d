package chat

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator generates answers through a genkit model.
type GenkitGenerator struct {
	g           *genkit.Genkit
	modelName   string
	temperature float64
}

// NewGenkitGenerator creates a GenkitGenerator for the named model, for
// example "googleai/gemini-2.5-flash".
func NewGenkitGenerator(g *genkit.Genkit, modelName string, temperature float64) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName, temperature: temperature}
}

// Generate runs one model call, streaming chunks through onChunk when set.
// History turns precede the new question so the model sees the conversation.
func (gg *GenkitGenerator) Generate(ctx context.Context, systemPrompt, question string, history []Message, onChunk StreamFunc) (string, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, m := range history {
		part := ai.NewTextPart(m.Text)
		if m.Role == RoleAssistant {
			messages = append(messages, ai.NewModelMessage(part))
		} else {
			messages = append(messages, ai.NewUserMessage(part))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))

	opts := []ai.GenerateOption{
		ai.WithModelName(gg.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
		ai.WithConfig(map[string]any{"temperature": gg.temperature}),
	}
	if onChunk != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onChunk(chunk.Text())
		}))
	}

	response, err := genkit.Generate(ctx, gg.g, opts...)
	if err != nil {
		return "", err
	}
	return response.Text(), nil
}
