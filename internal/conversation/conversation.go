// Package conversation holds per-conversation dialogue state.
//
// Each conversation keeps a bounded window of turns (user and model
// messages). The store is safe for concurrent use; distinct conversations
// never contend with each other.
package conversation

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// state holds one conversation. mu guards turns; gate serializes whole
// question-answer spans so interleaved askers cannot corrupt the
// alternating user/model order. The two are separate locks: Append takes
// mu while the caller may already hold gate.
type state struct {
	mu    sync.Mutex
	gate  sync.Mutex
	turns []Turn
}

// Store maps conversation IDs to their dialogue state.
type Store struct {
	mu       sync.Mutex
	states   map[string]*state
	maxTurns int
}

// NewStore creates a conversation store that keeps at most maxTurns of
// history per conversation (oldest turns evicted first).
func NewStore(maxTurns int) *Store {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Store{
		states:   make(map[string]*state),
		maxTurns: maxTurns,
	}
}

// get returns the state for id, creating it if needed.
func (s *Store) get(id string) *state {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		st = &state{}
		s.states[id] = st
	}
	return st
}

// Locker returns a lock that serializes complete ask spans for one
// conversation. Callers hold it across retrieve-generate-append so
// concurrent questions to the same conversation execute one at a time.
func (s *Store) Locker(id string) sync.Locker {
	return &s.get(id).gate
}

// Append adds turns to the conversation, then trims the history to the
// configured window, keeping the newest turns.
func (s *Store) Append(id string, turns ...Turn) {
	st := s.get(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.turns = append(st.turns, turns...)
	if excess := len(st.turns) - s.maxTurns; excess > 0 {
		st.turns = append(st.turns[:0], st.turns[excess:]...)
	}
}

// Snapshot returns a copy of the conversation's history, oldest first.
func (s *Store) Snapshot(id string) []Turn {
	st := s.get(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Turn, len(st.turns))
	copy(out, st.turns)
	return out
}

// Clear discards the conversation's history. The conversation ID remains
// valid for future turns.
func (s *Store) Clear(id string) {
	st := s.get(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.turns = nil
}

// Len reports the number of stored turns for a conversation.
func (s *Store) Len(id string) int {
	st := s.get(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.turns)
}
