package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/docqa/docqa/internal/conversation"
	"github.com/docqa/docqa/internal/vectorstore"
)

// fallbackAnswer is returned when the model produces an empty response.
const fallbackAnswer = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

// excerptRunes caps how much of a passage is echoed back in a citation.
const excerptRunes = 200

const generalSystemPrompt = `You are a helpful assistant. Answer the user's question clearly and concisely using your own knowledge. If you are not sure about something, say so.`

const ragSystemPromptHeader = `You are a helpful assistant answering questions about the user's documents. Base your answer strictly on the context passages below. Each passage is tagged with its source in square brackets. If the context does not contain the answer, say that the documents do not cover it instead of guessing.

Context passages:
`

// Generator abstracts the model call so the composer can be tested
// without a live Genkit instance.
type Generator interface {
	Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// genkitGenerator is the production Generator backed by a Genkit instance.
type genkitGenerator struct {
	g *genkit.Genkit
}

func (gg genkitGenerator) Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
	return genkit.Generate(ctx, gg.g, opts...)
}

// NewGenkitGenerator wraps a Genkit instance as a Generator.
func NewGenkitGenerator(g *genkit.Genkit) Generator {
	return genkitGenerator{g: g}
}

// ComposerConfig contains required parameters for a Composer.
type ComposerConfig struct {
	Generator Generator
	ModelName string // Provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Logger    *slog.Logger

	Retry       RetryConfig   // zero value uses defaults
	RateLimiter *rate.Limiter // nil = no proactive limiting
}

// Composer turns a gated retrieval set plus conversation history into a
// model answer with citations.
type Composer struct {
	gen       Generator
	modelName string
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewComposer creates a Composer.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Composer{
		gen:       cfg.Generator,
		modelName: cfg.ModelName,
		retry:     cfg.Retry,
		limiter:   cfg.RateLimiter,
		logger:    cfg.Logger,
	}, nil
}

// Compose answers the question in the decided mode. It returns the answer
// text and the citations for any context passages used. Failures wrap
// ErrGenerationFailed.
func (c *Composer) Compose(ctx context.Context, question string, history []conversation.Turn, decision Decision) (string, []Source, error) {
	system := generalSystemPrompt
	var sources []Source
	if decision.Mode == ModeRAG {
		system = ragSystemPrompt(decision.Context)
		sources = citations(decision.Context)
	}

	messages := historyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))

	resp, err := c.generateWithRetry(ctx, []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		c.logger.Warn("model returned empty response, using fallback")
		return fallbackAnswer, sources, nil
	}
	return text, sources, nil
}

// ragSystemPrompt renders the retrieved passages into the system prompt,
// each tagged with its source.
func ragSystemPrompt(matches []vectorstore.Match) string {
	var b strings.Builder
	b.WriteString(ragSystemPromptHeader)
	for _, m := range matches {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", m.Passage.SourceID, m.Passage.Text)
	}
	return b.String()
}

// historyMessages converts stored turns to model messages.
func historyMessages(history []conversation.Turn) []*ai.Message {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case conversation.RoleModel:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		}
	}
	return messages
}

// citations builds the source list for an answer from the gated matches.
func citations(matches []vectorstore.Match) []Source {
	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{
			SourceID:   m.Passage.SourceID,
			ChunkIndex: m.Passage.ChunkIndex,
			Excerpt:    excerpt(m.Passage.Text),
			Score:      m.Score,
		}
	}
	return sources
}

// excerpt truncates text to excerptRunes runes for citation display.
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return string(runes[:excerptRunes]) + "…"
}
