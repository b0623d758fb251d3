// Package memory provides an in-memory vector store for tests and local
// runs. Search is exact cosine similarity over all stored passages.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/docqa/docqa/internal/vectorstore"
)

type entry struct {
	passage vectorstore.Passage
	vector  []float32
	seq     int // insertion order, used for deterministic tie-breaking
}

// Store is an in-memory vectorstore.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []entry
	nextSeq int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Upsert implements vectorstore.Store. Existing IDs are replaced in place.
func (s *Store) Upsert(_ context.Context, passages []vectorstore.Passage, vectors [][]float32) error {
	if len(passages) != len(vectors) {
		return fmt.Errorf("passages and vectors length mismatch: %d vs %d", len(passages), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range passages {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])

		if idx := s.indexOf(p.ID); idx >= 0 {
			s.entries[idx].passage = p
			s.entries[idx].vector = vec
			continue
		}
		s.entries = append(s.entries, entry{passage: p, vector: vec, seq: s.nextSeq})
		s.nextSeq++
	}
	return nil
}

// indexOf returns the position of the entry with the given ID, or -1.
// Caller must hold s.mu.
func (s *Store) indexOf(id string) int {
	for i := range s.entries {
		if s.entries[i].passage.ID == id {
			return i
		}
	}
	return -1
}

// Query implements vectorstore.Store.
func (s *Store) Query(_ context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		e     entry
		score float32
	}
	var candidates []scored
	for _, e := range s.entries {
		if !matches(e.passage, filter) {
			continue
		}
		candidates = append(candidates, scored{e: e, score: cosineSimilarity(vector, e.vector)})
	}

	// Descending score; equal scores keep insertion order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].e.seq < candidates[j].e.seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]vectorstore.Match, len(candidates))
	for i, c := range candidates {
		results[i] = vectorstore.Match{Passage: c.e.passage, Score: c.score}
	}
	return results, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(_ context.Context, filter vectorstore.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if matches(e.passage, filter) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// ListSources implements vectorstore.Store.
func (s *Store) ListSources(_ context.Context, conversationID string) ([]vectorstore.SourceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	var order []string
	for _, e := range s.entries {
		if conversationID != "" && e.passage.ConversationID != conversationID {
			continue
		}
		if _, seen := counts[e.passage.SourceID]; !seen {
			order = append(order, e.passage.SourceID)
		}
		counts[e.passage.SourceID]++
	}

	sources := make([]vectorstore.SourceInfo, 0, len(order))
	for _, name := range order {
		sources = append(sources, vectorstore.SourceInfo{Name: name, Chunks: counts[name]})
	}
	return sources, nil
}

// Stats implements vectorstore.Store.
func (s *Store) Stats(_ context.Context) (vectorstore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := uint64(len(s.entries))
	return vectorstore.Stats{PointCount: n, VectorCount: n}, nil
}

// Close implements vectorstore.Store.
func (*Store) Close() error { return nil }

// matches reports whether a passage satisfies the filter.
func matches(p vectorstore.Passage, f vectorstore.Filter) bool {
	if f.ConversationID != "" && p.ConversationID != f.ConversationID {
		return false
	}
	if len(f.SourceIDs) > 0 {
		found := false
		for _, id := range f.SourceIDs {
			if p.SourceID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Compile-time check that Store implements vectorstore.Store.
var _ vectorstore.Store = (*Store)(nil)
