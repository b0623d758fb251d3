package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/docqa/internal/chunker"
	"github.com/docqa/docqa/internal/conversation"
	"github.com/docqa/docqa/internal/vectorstore"
)

// ingestBatchSize is how many chunks are embedded and stored per batch
// during ingestion. Failure between batches leaves earlier batches
// stored; the result reports the exact count.
const ingestBatchSize = 5

// EngineConfig contains all required parameters for an Engine.
type EngineConfig struct {
	Retriever     *Retriever
	Composer      *Composer
	Store         vectorstore.Store
	Conversations *conversation.Store
	Splitter      *chunker.Splitter
	Logger        *slog.Logger

	// RelevanceThreshold is the minimum similarity score for retrieved
	// context to be used. Must be in [0, 1].
	RelevanceThreshold float32
}

func (cfg EngineConfig) validate() error {
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Composer == nil {
		return errors.New("composer is required")
	}
	if cfg.Store == nil {
		return errors.New("vector store is required")
	}
	if cfg.Conversations == nil {
		return errors.New("conversation store is required")
	}
	if cfg.Splitter == nil {
		return errors.New("splitter is required")
	}
	if cfg.RelevanceThreshold < 0 || cfg.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance threshold %v not in [0, 1]", cfg.RelevanceThreshold)
	}
	return nil
}

// Engine is the question-answering service: it owns the ingest and ask
// flows and the conversation state around them.
//
// All dependencies are captured immutably at construction; the Engine is
// safe for concurrent use.
type Engine struct {
	retriever     *Retriever
	composer      *Composer
	store         vectorstore.Store
	conversations *conversation.Store
	splitter      *chunker.Splitter
	threshold     float32
	logger        *slog.Logger
}

// NewEngine creates an Engine from required configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		retriever:     cfg.Retriever,
		composer:      cfg.Composer,
		store:         cfg.Store,
		conversations: cfg.Conversations,
		splitter:      cfg.Splitter,
		threshold:     cfg.RelevanceThreshold,
		logger:        cfg.Logger,
	}, nil
}

// Ask answers a question within a conversation.
//
// In rag mode the question is embedded and matched against the
// conversation's documents; context that clears the relevance threshold
// grounds the answer, otherwise the engine falls back to general mode.
// A non-empty activeSources narrows retrieval to those sources only.
// Retrieval and embedding failures also degrade to general mode: an
// unreachable index must not make questions unanswerable.
//
// The whole span is serialized per conversation, so concurrent questions
// to the same conversation cannot interleave their history turns.
// Generation failure leaves the history untouched.
func (e *Engine) Ask(ctx context.Context, conversationID, question string, mode Mode, activeSources []string) (Answer, error) {
	if question == "" {
		return Answer{}, errors.New("question is empty")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if mode == "" {
		mode = ModeRAG
	}

	lock := e.conversations.Locker(conversationID)
	lock.Lock()
	defer lock.Unlock()

	decision := Decision{Mode: ModeGeneral}
	if mode == ModeRAG {
		matches, err := e.retriever.Retrieve(ctx, question, conversationID, activeSources)
		switch {
		case err == nil:
			decision = Decide(matches, e.threshold)
		case errors.Is(err, ErrRetrievalUnavailable), errors.Is(err, ErrEmbeddingFailed):
			e.logger.Warn("retrieval degraded to general mode",
				"conversation_id", conversationID,
				"error", err,
			)
		default:
			return Answer{}, err
		}
	}

	history := e.conversations.Snapshot(conversationID)

	text, sources, err := e.composer.Compose(ctx, question, history, decision)
	if err != nil {
		return Answer{}, err
	}

	now := time.Now()
	e.conversations.Append(conversationID,
		conversation.Turn{Role: conversation.RoleUser, Content: question, CreatedAt: now},
		conversation.Turn{Role: conversation.RoleModel, Content: text, CreatedAt: now},
	)

	e.logger.Info("answered question",
		"conversation_id", conversationID,
		"mode", decision.Mode,
		"sources", len(sources),
	)

	return Answer{
		ConversationID: conversationID,
		Text:           text,
		Mode:           decision.Mode,
		Sources:        sources,
	}, nil
}

// IngestDocument decodes an uploaded file and stores its chunks for the
// conversation. Unsupported formats return chunker.ErrUnsupportedFormat.
func (e *Engine) IngestDocument(ctx context.Context, conversationID, filename string, raw []byte) (IngestResult, error) {
	text, err := chunker.Decode(raw, filename)
	if err != nil {
		return IngestResult{}, err
	}
	return e.IngestText(ctx, conversationID, filename, text)
}

// IngestText chunks, embeds, and stores raw text under sourceID for the
// conversation. Chunks are processed in fixed-size batches; if embedding
// or storage fails partway, the result still reports exactly how many
// chunks were stored before the failure.
func (e *Engine) IngestText(ctx context.Context, conversationID, sourceID, text string) (IngestResult, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if sourceID == "" {
		return IngestResult{}, errors.New("source id is empty")
	}

	chunks := e.splitter.Split(strings.TrimSpace(text))
	result := IngestResult{
		ConversationID: conversationID,
		SourceID:       sourceID,
		ChunksTotal:    len(chunks),
	}
	if len(chunks) == 0 {
		return result, fmt.Errorf("%w: %q", ErrEmptyDocument, sourceID)
	}

	for start := 0; start < len(chunks); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		passages := make([]vectorstore.Passage, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
			passages[i] = vectorstore.Passage{
				ID:             uuid.NewString(),
				SourceID:       sourceID,
				ChunkIndex:     ch.Index,
				ConversationID: conversationID,
				Text:           ch.Text,
			}
		}

		vectors, err := e.retriever.EmbedBatch(ctx, texts)
		if err != nil {
			return result, fmt.Errorf("embedding chunks %d-%d of %q (stored %d/%d): %w",
				start, end-1, sourceID, result.ChunksInserted, result.ChunksTotal, err)
		}

		if err := e.store.Upsert(ctx, passages, vectors); err != nil {
			return result, fmt.Errorf("storing chunks %d-%d of %q (stored %d/%d): %w",
				start, end-1, sourceID, result.ChunksInserted, result.ChunksTotal,
				fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err))
		}

		result.ChunksInserted += len(batch)
	}

	e.logger.Info("ingested source",
		"conversation_id", conversationID,
		"source_id", sourceID,
		"chunks", result.ChunksInserted,
	)
	return result, nil
}

// DeleteSource removes a source's chunks from the conversation's index and
// returns how many were removed.
func (e *Engine) DeleteSource(ctx context.Context, conversationID, sourceID string) (int, error) {
	removed, err := e.store.Delete(ctx, vectorstore.Filter{
		ConversationID: conversationID,
		SourceIDs:      []string{sourceID},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	e.logger.Info("deleted source",
		"conversation_id", conversationID,
		"source_id", sourceID,
		"removed", removed,
	)
	return removed, nil
}

// ListSources returns the sources visible to a conversation.
func (e *Engine) ListSources(ctx context.Context, conversationID string) ([]vectorstore.SourceInfo, error) {
	sources, err := e.store.ListSources(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	return sources, nil
}

// ClearConversation discards a conversation's dialogue history. Stored
// documents are not affected.
func (e *Engine) ClearConversation(conversationID string) {
	e.conversations.Clear(conversationID)
}

// Stats reports collection-level counters from the vector store.
func (e *Engine) Stats(ctx context.Context) (vectorstore.Stats, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return vectorstore.Stats{}, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	return stats, nil
}
