// Package reasoning records the chain of reasoning behind each attempt at a task and keeps
// success statistics per phase and per identified pattern.
//
// A Tracker holds a single in-progress entry. Starting a new entry before completing the
// previous one discards the previous one; each orchestrator owns its own Tracker so two
// loops never share the slot.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semloop/storage"
)

// StoreKey is the key the reasoning history is persisted under.
const StoreKey = "reasoning"

// Step is one recorded reasoning step.
type Step struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Decision is the approach chosen for an attempt.
type Decision struct {
	Type       string  `json:"type"`
	Approach   string  `json:"approach"`
	Confidence float64 `json:"confidence"`
	Complexity string  `json:"complexity,omitempty"`
}

// Entry is one reasoning chain.
type Entry struct {
	ID                   string    `json:"id"`
	TaskID               string    `json:"task_id"`
	Phase                string    `json:"phase"`
	BreadcrumbsConsulted []string  `json:"breadcrumbs_consulted,omitempty"`
	ErrorContext         []string  `json:"error_context,omitempty"`
	FilesConsidered      []string  `json:"files_considered,omitempty"`
	Steps                []Step    `json:"reasoning_steps,omitempty"`
	Patterns             []string  `json:"patterns_identified,omitempty"`
	Decision             *Decision `json:"decision,omitempty"`
	Success              bool      `json:"success"`
	Iterations           int       `json:"iterations"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time,omitzero"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.BreadcrumbsConsulted = slices.Clone(e.BreadcrumbsConsulted)
	c.ErrorContext = slices.Clone(e.ErrorContext)
	c.FilesConsidered = slices.Clone(e.FilesConsidered)
	c.Steps = slices.Clone(e.Steps)
	c.Patterns = slices.Clone(e.Patterns)
	if e.Decision != nil {
		d := *e.Decision
		c.Decision = &d
	}
	return &c
}

// PatternStat aggregates the completed entries that identified a pattern.
type PatternStat struct {
	Uses        int     `json:"uses"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats aggregates the completed history.
type Stats struct {
	Total       int                    `json:"total"`
	Successes   int                    `json:"successes"`
	SuccessRate float64                `json:"success_rate"`
	Discarded   int                    `json:"discarded"`
	Patterns    map[string]PatternStat `json:"patterns"`
}

// PatternFailure describes a pattern that tends to fail.
type PatternFailure struct {
	Pattern     string  `json:"pattern"`
	Uses        int     `json:"uses"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

// Tracker records reasoning entries.
type Tracker struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *Entry
	history []*Entry
	stats   Stats
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists history to store.
func WithStore(store storage.Store) Option {
	return func(t *Tracker) { t.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		logger: slog.Default(),
		now:    time.Now,
		stats:  Stats{Patterns: make(map[string]PatternStat)},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start opens a new current entry and returns its id. An entry already in progress is
// discarded.
func (t *Tracker) Start(taskID, phase string, breadcrumbs, errorContext, files []string) string {
	entry := &Entry{
		ID:                   uuid.New().String(),
		TaskID:               taskID,
		Phase:                phase,
		BreadcrumbsConsulted: slices.Clone(breadcrumbs),
		ErrorContext:         slices.Clone(errorContext),
		FilesConsidered:      slices.Clone(files),
		StartTime:            t.now(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.logger.Warn("Discarding unfinished reasoning entry",
			"id", t.current.ID, "task", t.current.TaskID, "phase", t.current.Phase)
		t.stats.Discarded++
	}
	t.current = entry
	return entry.ID
}

// Current returns a copy of the in-progress entry.
func (t *Tracker) Current() (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, false
	}
	return t.current.clone(), true
}

// AddStep appends a reasoning step to the current entry.
func (t *Tracker) AddStep(text string) error {
	return t.mutate(func(e *Entry) {
		e.Steps = append(e.Steps, Step{Text: text, At: t.now()})
	})
}

// AddPattern records a pattern on the current entry. Patterns form a set.
func (t *Tracker) AddPattern(pattern string) error {
	return t.mutate(func(e *Entry) {
		if pattern != "" && !slices.Contains(e.Patterns, pattern) {
			e.Patterns = append(e.Patterns, pattern)
		}
	})
}

// SetDecision sets the decision on the current entry. Confidence is clamped to [0, 1].
func (t *Tracker) SetDecision(d Decision) error {
	d.Confidence = min(max(d.Confidence, 0), 1)
	return t.mutate(func(e *Entry) { e.Decision = &d })
}

func (t *Tracker) mutate(fn func(*Entry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ErrNoCurrent
	}
	fn(t.current)
	return nil
}

// Complete closes the current entry, moves it to history, and updates the statistics.
func (t *Tracker) Complete(id string, success bool, iterations int) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil, ErrNoCurrent
	}
	if t.current.ID != id {
		return nil, fmt.Errorf("%w: got %s, current %s", ErrIDMismatch, id, t.current.ID)
	}
	entry := t.current
	t.current = nil
	entry.Success = success
	entry.Iterations = iterations
	entry.EndTime = t.now()
	t.history = append(t.history, entry)
	t.account(entry)
	return entry.clone(), nil
}

func (t *Tracker) account(e *Entry) {
	t.stats.Total++
	if e.Success {
		t.stats.Successes++
	}
	t.stats.SuccessRate = float64(t.stats.Successes) / float64(t.stats.Total)
	for _, p := range e.Patterns {
		ps := t.stats.Patterns[p]
		ps.Uses++
		if e.Success {
			ps.Successes++
		}
		ps.SuccessRate = float64(ps.Successes) / float64(ps.Uses)
		t.stats.Patterns[p] = ps
	}
}

// History returns copies of all completed entries in completion order.
func (t *Tracker) History() []*Entry {
	return t.filter(func(*Entry) bool { return true })
}

// QueryByPhase returns completed entries for phase.
func (t *Tracker) QueryByPhase(phase string) []*Entry {
	return t.filter(func(e *Entry) bool { return e.Phase == phase })
}

// QueryByPattern returns completed entries that identified pattern.
func (t *Tracker) QueryByPattern(pattern string) []*Entry {
	return t.filter(func(e *Entry) bool { return slices.Contains(e.Patterns, pattern) })
}

func (t *Tracker) filter(keep func(*Entry) bool) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Entry
	for _, e := range t.history {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	return out
}

// FailedPatterns returns patterns used at least minUses times that failed at least once,
// most failures first.
func (t *Tracker) FailedPatterns(minUses int) []PatternFailure {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []PatternFailure
	for name, ps := range t.stats.Patterns {
		failures := ps.Uses - ps.Successes
		if ps.Uses < minUses || failures == 0 {
			continue
		}
		out = append(out, PatternFailure{
			Pattern:     name,
			Uses:        ps.Uses,
			Failures:    failures,
			FailureRate: float64(failures) / float64(ps.Uses),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Stats returns a copy of the aggregate statistics.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats
	s.Patterns = make(map[string]PatternStat, len(t.stats.Patterns))
	for k, v := range t.stats.Patterns {
		s.Patterns[k] = v
	}
	return s
}

type snapshot struct {
	History   []*Entry `json:"history"`
	Discarded int      `json:"discarded"`
}

// Load replaces history with the persisted one and recomputes statistics. A missing
// history is not an error. The in-progress entry is left untouched.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	var snap snapshot
	if err := t.store.Load(ctx, StoreKey, &snap); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load reasoning history: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	t.stats = Stats{Patterns: make(map[string]PatternStat), Discarded: snap.Discarded}
	for _, e := range snap.History {
		if e == nil {
			continue
		}
		t.history = append(t.history, e)
		t.account(e)
	}
	return nil
}

// Save persists the completed history.
func (t *Tracker) Save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.RLock()
	snap := snapshot{Discarded: t.stats.Discarded, History: make([]*Entry, 0, len(t.history))}
	for _, e := range t.history {
		snap.History = append(snap.History, e.clone())
	}
	t.mu.RUnlock()

	if err := t.store.Save(ctx, StoreKey, snap); err != nil {
		return fmt.Errorf("save reasoning history: %w", err)
	}
	return nil
}
