// Package chunker splits document text into overlapping fixed-size passages.
//
// Chunking is pure and deterministic: identical input always yields an
// identical ordered sequence of chunks, and concatenating chunk texts while
// stripping the declared overlap reconstructs the original text exactly.
package chunker

import (
	"errors"
	"fmt"
)

// Defaults match the retrieval pipeline configuration.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidParams indicates the size/overlap combination is unusable.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// Chunk is one passage candidate: text plus its position within the source.
// No embedding is attached at this stage.
type Chunk struct {
	Text  string
	Index int
}

// Splitter produces overlapping character chunks. Sizes are measured in
// runes so multi-byte text never splits mid-character.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. overlap must be smaller than size.
func New(size, overlap int) (*Splitter, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidParams, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, size)", ErrInvalidParams, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks text into overlapping passages. Text shorter than the chunk
// size yields exactly one chunk; empty text yields none. Consecutive chunks
// share exactly Overlap() runes.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.size {
		return []Chunk{{Text: text, Index: 0}}
	}

	step := s.size - s.overlap
	chunks := make([]Chunk, 0, 1+(len(runes)-s.size+step-1)/step)
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, Chunk{Text: string(runes[start:]), Index: idx})
			break
		}
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Index: idx})
	}
	return chunks
}
