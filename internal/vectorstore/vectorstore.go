// Package vectorstore defines the boundary to the vector index.
//
// The interface is owned by the consumer (the retrieval pipeline), not by a
// backend: implementations live in subpackages (qdrant for production,
// memory for tests and local runs).
package vectorstore

import "context"

// Passage is the stored unit: a chunk of source text plus provenance.
// Immutable once written; deletion removes it from the index.
type Passage struct {
	// ID is the point identifier (UUID string).
	ID string

	// SourceID names the logical document this passage came from.
	SourceID string

	// ChunkIndex is the passage's position within its source.
	ChunkIndex int

	// ConversationID scopes the passage to a conversation's knowledge
	// base. Empty means globally visible.
	ConversationID string

	// Text is the passage content.
	Text string

	// Extra holds optional metadata fields beyond the typed ones.
	Extra map[string]string
}

// Match is a retrieved passage with its similarity score. Created fresh per
// query, ordered by descending score; never persisted.
type Match struct {
	Passage Passage
	Score   float32
}

// Filter restricts queries and deletions. Zero value matches everything.
type Filter struct {
	// ConversationID restricts to passages owned by a conversation.
	ConversationID string

	// SourceIDs restricts to the given sources. Empty means no source
	// restriction.
	SourceIDs []string
}

// SourceInfo describes one source's footprint in the index.
type SourceInfo struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

// Stats reports collection-level counters.
type Stats struct {
	PointCount  uint64 `json:"point_count"`
	VectorCount uint64 `json:"vector_count"`
}

// Store persists (vector, text, metadata) triples and answers
// nearest-neighbor queries, optionally filtered by metadata.
type Store interface {
	// Upsert writes passages with their embeddings. passages and vectors
	// must have equal length.
	Upsert(ctx context.Context, passages []Passage, vectors [][]float32) error

	// Query returns the topK nearest passages to vector, restricted by
	// filter, ranked by descending similarity. Ties preserve insertion
	// order so identical queries always rank identically.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)

	// Delete removes all passages matching filter and returns how many
	// were removed.
	Delete(ctx context.Context, filter Filter) (int, error)

	// ListSources returns the distinct sources visible to a conversation
	// with their chunk counts.
	ListSources(ctx context.Context, conversationID string) ([]SourceInfo, error)

	// Stats returns collection-level counters.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}
