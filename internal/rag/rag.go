// Package rag implements the retrieval-augmented question answering
// pipeline: embed the question, search the vector store, gate the results
// on relevance, and compose an answer with the model.
//
// The pipeline degrades rather than fails on the read path: if retrieval
// or embedding is unavailable, a question is still answered from model
// knowledge alone. The write path (ingestion) fails hard and reports
// exactly how much was stored.
package rag

import (
	"errors"
	"fmt"
)

// Mode selects how a question is answered.
type Mode string

const (
	// ModeRAG answers from retrieved document context.
	ModeRAG Mode = "rag"

	// ModeGeneral answers from model knowledge without document context.
	ModeGeneral Mode = "general"
)

// ParseMode validates a mode string. Empty defaults to ModeRAG.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeRAG, nil
	case ModeRAG, ModeGeneral:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeRAG, ModeGeneral)
	}
}

// Sentinel errors for pipeline operations, checked with errors.Is.
var (
	// ErrRetrievalUnavailable indicates the vector store could not be
	// queried. Read-path callers degrade to general mode on it.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrEmbeddingFailed indicates the embedder rejected or failed a
	// request. Fatal on the write path; degradable on the read path.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrGenerationFailed indicates the model call failed after retries.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmptyDocument indicates an ingested document produced no chunks.
	ErrEmptyDocument = errors.New("document contains no text")
)

// Source cites one passage that grounded an answer.
type Source struct {
	SourceID   string  `json:"source_id"`
	ChunkIndex int     `json:"chunk_index"`
	Excerpt    string  `json:"excerpt"`
	Score      float32 `json:"score"`
}

// Answer is the result of one Ask.
type Answer struct {
	// ConversationID identifies the conversation the turn was recorded
	// in. Equals the requested ID, or a fresh one if none was given.
	ConversationID string `json:"conversation_id"`

	// Text is the model's answer.
	Text string `json:"answer"`

	// Mode is the mode actually used. A rag request degrades to
	// "general" when nothing relevant was retrieved.
	Mode Mode `json:"mode"`

	// Sources cites the passages used as context. Empty in general mode.
	Sources []Source `json:"sources,omitempty"`
}

// IngestResult reports what an ingestion stored.
type IngestResult struct {
	ConversationID string `json:"conversation_id"`
	SourceID       string `json:"source_id"`
	ChunksTotal    int    `json:"chunks_total"`
	ChunksInserted int    `json:"chunks_inserted"`
}
