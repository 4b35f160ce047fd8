// Package errortracker deduplicates compiler and runtime errors by fingerprint, finds
// similar past errors, and remembers how they were resolved.
package errortracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semloop/storage"
)

// StoreKey is the key the error database is persisted under.
const StoreKey = "errors"

// maxContexts bounds the context list kept per record.
const maxContexts = 20

// Record is one distinct (normalized) error.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	Message     string    `json:"message"`
	Normalized  string    `json:"normalized"`
	Count       int       `json:"count"`
	Contexts    []string  `json:"contexts,omitempty"`
	Resolved    bool      `json:"resolved"`
	Resolution  string    `json:"resolution,omitempty"`
	FixRef      string    `json:"fix_ref,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	// Seq orders occurrences; it breaks ties between records seen within the same instant.
	Seq uint64 `json:"seq"`
}

func (r *Record) clone() Record {
	c := *r
	c.Contexts = append([]string(nil), r.Contexts...)
	return c
}

// Match is a record together with its similarity to a query.
type Match struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Stats summarizes the database.
type Stats struct {
	Total     int      `json:"total"`
	Resolved  int      `json:"resolved"`
	Instances int      `json:"instances"`
	Recurring []Record `json:"recurring,omitempty"`
}

// Config configures a Tracker.
type Config struct {
	// SimilarityThreshold is the minimum word overlap for FindSimilar (default 0.30).
	SimilarityThreshold float64
	// DefaultLimit caps FindSimilar when no limit is given (default 5).
	DefaultLimit int
	// SuggestionLimit caps ResolutionSuggestions (default 5).
	SuggestionLimit int
	// Store persists the database; nil keeps it in memory only.
	Store  storage.Store
	Logger *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Tracker is the error database.
type Tracker struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*Record
	words   map[string]map[string]struct{}
	seq     uint64
}

type snapshot struct {
	Version string    `json:"version"`
	Seq     uint64    `json:"seq"`
	Records []*Record `json:"records"`
}

// New creates an empty tracker.
func New(config Config) *Tracker {
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.30
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 5
	}
	if config.SuggestionLimit <= 0 {
		config.SuggestionLimit = 5
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		config:  config,
		logger:  logger,
		records: make(map[string]*Record),
		words:   make(map[string]map[string]struct{}),
	}
}

// Track records one occurrence of message and returns its fingerprint.
func (t *Tracker) Track(message, context string) string {
	normalized := Normalize(message)
	fp := fingerprintNormalized(normalized)
	now := t.config.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	rec, ok := t.records[fp]
	if !ok {
		rec = &Record{
			Fingerprint: fp,
			Message:     message,
			Normalized:  normalized,
			FirstSeen:   now,
		}
		t.records[fp] = rec
		t.words[fp] = words(normalized)
		t.logger.Debug("New error fingerprint", "fingerprint", fp)
	}
	rec.Count++
	rec.LastSeen = now
	rec.Seq = t.seq
	if context != "" {
		rec.Contexts = append(rec.Contexts, context)
		if len(rec.Contexts) > maxContexts {
			rec.Contexts = rec.Contexts[len(rec.Contexts)-maxContexts:]
		}
	}
	return fp
}

// FindSimilar returns stored errors whose word overlap with message is at least the
// configured threshold, most similar first, ties broken by most recent occurrence.
// limit <= 0 uses the configured default.
func (t *Tracker) FindSimilar(message string, limit int) []Match {
	if limit <= 0 {
		limit = t.config.DefaultLimit
	}
	matches := t.similar(message)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (t *Tracker) similar(message string) []Match {
	query := words(Normalize(message))

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []Match
	for fp, rec := range t.records {
		score := Overlap(query, t.words[fp])
		if score >= t.config.SimilarityThreshold {
			matches = append(matches, Match{Record: rec.clone(), Similarity: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Record.Seq > matches[j].Record.Seq
	})
	return matches
}

// ResolutionSuggestions returns up to SuggestionLimit distinct resolutions of similar,
// resolved errors, ordered by similarity then frequency.
func (t *Tracker) ResolutionSuggestions(message string) []string {
	var resolved []Match
	for _, m := range t.similar(message) {
		if m.Record.Resolved && m.Record.Resolution != "" {
			resolved = append(resolved, m)
		}
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].Similarity != resolved[j].Similarity {
			return resolved[i].Similarity > resolved[j].Similarity
		}
		return resolved[i].Record.Count > resolved[j].Record.Count
	})

	var out []string
	seen := make(map[string]bool)
	for _, m := range resolved {
		if seen[m.Record.Resolution] {
			continue
		}
		seen[m.Record.Resolution] = true
		out = append(out, m.Record.Resolution)
		if len(out) == t.config.SuggestionLimit {
			break
		}
	}
	return out
}

// MarkResolved records how an error was fixed. Repeated calls overwrite the resolution.
func (t *Tracker) MarkResolved(fingerprint, resolution, fixRef string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[fingerprint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFingerprint, fingerprint)
	}
	rec.Resolved = true
	rec.Resolution = resolution
	rec.FixRef = fixRef
	return nil
}

// Get returns a copy of the record for fingerprint.
func (t *Tracker) Get(fingerprint string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[fingerprint]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of distinct errors.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Records returns copies of all records, most recent first.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.clone())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out
}

// Stats summarizes the database. Recurring lists the five most frequent unresolved errors.
func (t *Tracker) Stats() Stats {
	var s Stats
	var unresolved []Record
	for _, rec := range t.Records() {
		s.Total++
		s.Instances += rec.Count
		if rec.Resolved {
			s.Resolved++
		} else if rec.Count > 1 {
			unresolved = append(unresolved, rec)
		}
	}
	sort.SliceStable(unresolved, func(i, j int) bool { return unresolved[i].Count > unresolved[j].Count })
	if len(unresolved) > 5 {
		unresolved = unresolved[:5]
	}
	s.Recurring = unresolved
	return s
}

// Load replaces the in-memory database with the persisted one. A missing database is not
// an error.
func (t *Tracker) Load(ctx context.Context) error {
	if t.config.Store == nil {
		return nil
	}
	var snap snapshot
	if err := t.config.Store.Load(ctx, StoreKey, &snap); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load error database: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*Record, len(snap.Records))
	t.words = make(map[string]map[string]struct{}, len(snap.Records))
	t.seq = snap.Seq
	for _, rec := range snap.Records {
		// Re-derive from the message so normalization changes never orphan records.
		rec.Normalized = Normalize(rec.Message)
		rec.Fingerprint = fingerprintNormalized(rec.Normalized)
		if existing, ok := t.records[rec.Fingerprint]; ok {
			existing.Count += rec.Count
			continue
		}
		t.records[rec.Fingerprint] = rec
		t.words[rec.Fingerprint] = words(rec.Normalized)
		if rec.Seq > t.seq {
			t.seq = rec.Seq
		}
	}
	t.logger.Debug("Loaded error database", "records", len(t.records))
	return nil
}

// Save persists the database.
func (t *Tracker) Save(ctx context.Context) error {
	if t.config.Store == nil {
		return nil
	}
	t.mu.RLock()
	snap := snapshot{Version: "1", Seq: t.seq, Records: make([]*Record, 0, len(t.records))}
	for _, rec := range t.records {
		c := rec.clone()
		snap.Records = append(snap.Records, &c)
	}
	t.mu.RUnlock()
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].Seq < snap.Records[j].Seq })

	if err := t.config.Store.Save(ctx, StoreKey, snap); err != nil {
		return fmt.Errorf("save error database: %w", err)
	}
	return nil
}
