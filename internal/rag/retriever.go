package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/docqa/docqa/internal/vectorstore"
)

// Retriever embeds queries and looks up nearest passages.
type Retriever struct {
	embedder ai.Embedder
	store    vectorstore.Store
	topK     int
	logger   *slog.Logger
}

// NewRetriever creates a retriever over the given embedder and store.
func NewRetriever(embedder ai.Embedder, store vectorstore.Store, topK int, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, topK: topK, logger: logger}, nil
}

// Embed returns the embedding vector for a single text.
// Failures wrap ErrEmbeddingFailed.
func (r *Retriever) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds several texts in one request. The returned slice is
// parallel to texts. Failures wrap ErrEmbeddingFailed.
func (r *Retriever) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbeddingFailed, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbeddingFailed, i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// Retrieve embeds the question and returns the topK nearest passages
// visible to the conversation. A non-empty sourceIDs restricts matches
// to those sources; empty means every source the conversation can see.
// Store failures wrap ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, question, conversationID string, sourceIDs []string) ([]vectorstore.Match, error) {
	vector, err := r.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Query(ctx, vector, r.topK, vectorstore.Filter{
		ConversationID: conversationID,
		SourceIDs:      sourceIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	r.logger.Debug("retrieved passages",
		"conversation_id", conversationID,
		"sources", len(sourceIDs),
		"count", len(matches),
	)
	return matches, nil
}
