// Package session holds the conversational state of one task and snapshots it to named
// checkpoints that can be listed, restored, and compared.
package session

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Turn is one exchange recorded in a session.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is the working state of one task. It is not safe for concurrent use.
type Session struct {
	ID                 string         `json:"id"`
	Task               string         `json:"task"`
	Turns              []Turn         `json:"turns,omitempty"`
	ExplorationResults []any          `json:"exploration_results,omitempty"`
	GenerationResults  []any          `json:"generation_results,omitempty"`
	Context            map[string]any `json:"context"`
	// IterationContext is shared across the turns of one task.
	IterationContext map[string]any `json:"iteration_context"`
}

// New creates an empty session for task.
func New(task string) *Session {
	return &Session{
		ID:               uuid.New().String(),
		Task:             task,
		Context:          make(map[string]any),
		IterationContext: make(map[string]any),
	}
}

// AddTurn appends a turn.
func (s *Session) AddTurn(role, content string) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: time.Now()})
}

// AddExplorationResult records an exploration output.
func (s *Session) AddExplorationResult(v any) {
	s.ExplorationResults = append(s.ExplorationResults, v)
}

// AddGenerationResult records a generated artifact.
func (s *Session) AddGenerationResult(v any) {
	s.GenerationResults = append(s.GenerationResults, v)
}

// SetContext sets a session context value. The value is stored in its JSON form, so
// it reads back the same before and after a checkpoint round trip.
func (s *Session) SetContext(key string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = canonical(value)
}

// SetIterationValue sets a value in the iteration context, stored like SetContext.
func (s *Session) SetIterationValue(key string, value any) {
	if s.IterationContext == nil {
		s.IterationContext = make(map[string]any)
	}
	s.IterationContext[key] = canonical(value)
}

// canonical returns v as encoding/json would decode it: numbers become float64, slices
// []any and structs map[string]any. Values that cannot be encoded are kept as given.
func canonical(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// IterationValue returns a value from the iteration context.
func (s *Session) IterationValue(key string) (any, bool) {
	v, ok := s.IterationContext[key]
	return v, ok
}

// TurnCount returns the number of recorded turns.
func (s *Session) TurnCount() int {
	return len(s.Turns)
}

func (s *Session) snapshot(name string, now time.Time) *Checkpoint {
	return &Checkpoint{
		Name:             name,
		Task:             s.Task,
		Context:          maps.Clone(s.Context),
		IterationContext: maps.Clone(s.IterationContext),
		TurnCount:        s.TurnCount(),
		Timestamp:        now,
	}
}
