package orchestrator

import (
	"math"
	"sort"
	"strings"

	"github.com/c360studio/semloop/config"
)

// RetryPolicy computes how many retries a failed iteration gets from the errors it produced.
type RetryPolicy struct {
	BaseRetries   int
	Adaptive      bool
	MinRetries    int
	MaxRetries    int
	DefaultWeight int
	categories    []category
}

type category struct {
	name     string
	weight   int
	keywords []string
}

// NewRetryPolicy builds a policy from configuration.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		BaseRetries:   cfg.BaseRetries,
		Adaptive:      cfg.AdaptiveEnabled(),
		MinRetries:    cfg.MinRetries,
		MaxRetries:    cfg.MaxRetries,
		DefaultWeight: cfg.DefaultWeight,
	}
	if p.DefaultWeight <= 0 {
		p.DefaultWeight = 2
	}
	for name, keywords := range cfg.Keywords {
		weight, ok := cfg.Weights[name]
		if !ok {
			weight = p.DefaultWeight
		}
		lowered := make([]string, len(keywords))
		for i, k := range keywords {
			lowered[i] = strings.ToLower(k)
		}
		p.categories = append(p.categories, category{name: name, weight: weight, keywords: lowered})
	}
	sort.Slice(p.categories, func(i, j int) bool { return p.categories[i].name < p.categories[j].name })
	return p
}

// Classify scores one error message: the highest weight among the categories whose keywords
// it contains, or DefaultWeight when none match.
func (p RetryPolicy) Classify(message string) int {
	msg := strings.ToLower(message)
	score := 0
	for _, c := range p.categories {
		for _, k := range c.keywords {
			if strings.Contains(msg, k) {
				score = max(score, c.weight)
				break
			}
		}
	}
	if score == 0 {
		return p.DefaultWeight
	}
	return score
}

// Score is the maximum Classify over errs, or DefaultWeight for an empty list.
func (p RetryPolicy) Score(errs []string) int {
	if len(errs) == 0 {
		return p.DefaultWeight
	}
	score := 0
	for _, e := range errs {
		score = max(score, p.Classify(e))
	}
	return score
}

// BudgetForScore is round(score*base/2) clamped to [MinRetries, MaxRetries]. It is
// non-decreasing in score. Without adaptive retries it is BaseRetries.
func (p RetryPolicy) BudgetForScore(score int) int {
	if !p.Adaptive {
		return p.BaseRetries
	}
	budget := int(math.Round(float64(score*p.BaseRetries) / 2))
	if budget < p.MinRetries {
		budget = p.MinRetries
	}
	if p.MaxRetries > 0 && budget > p.MaxRetries {
		budget = p.MaxRetries
	}
	return budget
}

// Budget is BudgetForScore(Score(errs)).
func (p RetryPolicy) Budget(errs []string) int {
	return p.BudgetForScore(p.Score(errs))
}
