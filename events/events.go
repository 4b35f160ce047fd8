// Package events carries iteration state transitions to observers outside the process.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event types.
const (
	TypeTransition = "transition"
	TypeCompleted  = "completed"
)

// Event describes one state change of an iteration.
type Event struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Iteration int       `json:"iteration"`
	Time      time.Time `json:"time"`
}

// Sink receives events. Implementations must be safe for sequential calls from one
// orchestrator; delivery failures are reported but never stop an iteration.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Decode parses an encoded event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Sink.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
