// Package learning keeps per-phase outcome statistics and turns them into retry and time
// recommendations for new tasks.
package learning

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semloop/config"
)

// PatternStats aggregates the completed iterations of one phase.
// TotalAttempts is always >= Successes.
type PatternStats struct {
	Successes        int      `json:"successes"`
	TotalAttempts    int      `json:"total_attempts"`
	AvgRetries       float64  `json:"avg_retries"`
	AvgTime          float64  `json:"avg_time"`
	CommonApproaches []string `json:"common_approaches"`
}

// SuccessRate is Successes over TotalAttempts, or 0 when nothing was recorded.
func (p PatternStats) SuccessRate() float64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.TotalAttempts)
}

func (p PatternStats) clone() PatternStats {
	p.CommonApproaches = slices.Clone(p.CommonApproaches)
	return p
}

// normalized is a clone whose approaches are sorted and unique, the form Record and
// Merge expect of stored statistics.
func (p PatternStats) normalized() PatternStats {
	p.CommonApproaches = normalizeApproaches(p.CommonApproaches)
	return p
}

func normalizeApproaches(list []string) []string {
	if list == nil {
		return nil
	}
	out := slices.Clone(list)
	slices.Sort(out)
	return slices.Compact(out)
}

// Recommendation is the learned guidance for a phase at a given complexity.
type Recommendation struct {
	Phase              string   `json:"phase"`
	Complexity         string   `json:"complexity"`
	SuggestedRetries   int      `json:"suggested_retries"`
	EstimatedTime      float64  `json:"estimated_time"`
	SuccessProbability float64  `json:"success_probability"`
	CommonApproaches   []string `json:"common_approaches,omitempty"`
	// Known is false when the phase has no history and defaults were used.
	Known bool `json:"known"`
}

// Learner holds the phase statistics.
type Learner struct {
	config config.LearningConfig
	logger *slog.Logger

	mu       sync.RWMutex
	patterns map[string]*PatternStats
}

// New creates an empty learner. Missing multipliers and defaults fall back to
// config.DefaultConfig.
func New(cfg config.LearningConfig, logger *slog.Logger) *Learner {
	defaults := config.DefaultConfig().Learning
	if len(cfg.Multipliers) == 0 {
		cfg.Multipliers = defaults.Multipliers
	}
	if cfg.DefaultSuccessProbability == 0 {
		cfg.DefaultSuccessProbability = defaults.DefaultSuccessProbability
	}
	if cfg.DefaultAvgRetries == 0 {
		cfg.DefaultAvgRetries = defaults.DefaultAvgRetries
	}
	if cfg.DefaultAvgTime == 0 {
		cfg.DefaultAvgTime = defaults.DefaultAvgTime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		config:   cfg,
		logger:   logger,
		patterns: make(map[string]*PatternStats),
	}
}

// Record folds one completed iteration into the phase's statistics.
func (l *Learner) Record(phase string, success bool, retries int, duration time.Duration, approach string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.patterns[phase]
	if !ok {
		p = &PatternStats{}
		l.patterns[phase] = p
	}
	p.TotalAttempts++
	if success {
		p.Successes++
	}
	n := float64(p.TotalAttempts)
	p.AvgRetries = (p.AvgRetries*(n-1) + float64(retries)) / n
	p.AvgTime = (p.AvgTime*(n-1) + duration.Seconds()) / n
	p.CommonApproaches = addApproach(p.CommonApproaches, approach)
}

func addApproach(list []string, approach string) []string {
	if approach == "" {
		return list
	}
	i, found := slices.BinarySearch(list, approach)
	if found {
		return list
	}
	return slices.Insert(list, i, approach)
}

// Recommend returns guidance for phase at complexity. Unknown complexity levels use MEDIUM.
func (l *Learner) Recommend(phase, complexity string) Recommendation {
	mult, ok := l.config.Multipliers[complexity]
	if !ok {
		complexity = "MEDIUM"
		mult, ok = l.config.Multipliers[complexity]
		if !ok {
			mult = config.Multiplier{Retry: 1, Time: 1}
		}
	}

	rec := Recommendation{
		Phase:              phase,
		Complexity:         complexity,
		SuccessProbability: l.config.DefaultSuccessProbability,
	}
	avgRetries := l.config.DefaultAvgRetries
	avgTime := l.config.DefaultAvgTime

	l.mu.RLock()
	if p, ok := l.patterns[phase]; ok && p.TotalAttempts > 0 {
		rec.Known = true
		avgRetries = p.AvgRetries
		avgTime = p.AvgTime
		rec.SuccessProbability = p.SuccessRate()
		rec.CommonApproaches = slices.Clone(p.CommonApproaches)
	}
	l.mu.RUnlock()

	rec.SuggestedRetries = int(math.Round(avgRetries * mult.Retry))
	rec.EstimatedTime = avgTime * mult.Time
	return rec
}

// Get returns a copy of the statistics for phase.
func (l *Learner) Get(phase string) (PatternStats, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.patterns[phase]
	if !ok {
		return PatternStats{}, false
	}
	return p.clone(), true
}

// Phases returns the recorded phases in name order.
func (l *Learner) Phases() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.patterns))
	for phase := range l.patterns {
		out = append(out, phase)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the phase map.
func (l *Learner) Snapshot() map[string]PatternStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]PatternStats, len(l.patterns))
	for phase, p := range l.patterns {
		out[phase] = p.clone()
	}
	return out
}

// Replace swaps the phase map wholesale.
func (l *Learner) Replace(patterns map[string]PatternStats) {
	next := make(map[string]*PatternStats, len(patterns))
	for phase, p := range patterns {
		c := p.normalized()
		next[phase] = &c
	}
	l.mu.Lock()
	l.patterns = next
	l.mu.Unlock()
}

// MergeAll folds patterns into the phase map: absent phases are inserted, present ones
// combined with Merge.
func (l *Learner) MergeAll(patterns map[string]PatternStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for phase, incoming := range patterns {
		if local, ok := l.patterns[phase]; ok {
			merged := Merge(*local, incoming)
			l.patterns[phase] = &merged
			continue
		}
		c := incoming.normalized()
		l.patterns[phase] = &c
	}
}

// Totals returns the attempt and success counts across all phases.
func (l *Learner) Totals() (attempts, successes int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.patterns {
		attempts += p.TotalAttempts
		successes += p.Successes
	}
	return attempts, successes
}

// Merge combines two statistics for the same phase. Counts add; averages are weighted by
// attempt count; approaches are unioned.
func Merge(a, b PatternStats) PatternStats {
	out := PatternStats{
		Successes:     a.Successes + b.Successes,
		TotalAttempts: a.TotalAttempts + b.TotalAttempts,
	}
	if out.TotalAttempts > 0 {
		wa, wb := float64(a.TotalAttempts), float64(b.TotalAttempts)
		total := float64(out.TotalAttempts)
		out.AvgRetries = (a.AvgRetries*wa + b.AvgRetries*wb) / total
		out.AvgTime = (a.AvgTime*wa + b.AvgTime*wb) / total
	}
	approaches := normalizeApproaches(a.CommonApproaches)
	for _, ap := range b.CommonApproaches {
		approaches = addApproach(approaches, ap)
	}
	out.CommonApproaches = approaches
	return out
}

func (p PatternStats) validate(phase string) error {
	if p.TotalAttempts < 0 || p.Successes < 0 || p.Successes > p.TotalAttempts {
		return fmt.Errorf("phase %s: successes %d out of range for %d attempts",
			phase, p.Successes, p.TotalAttempts)
	}
	return nil
}
