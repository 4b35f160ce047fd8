// Package breadcrumb parses AI_* annotation blocks out of source files and indexes them as a
// relationship graph that supplies context to every iteration phase.
package breadcrumb

import (
	"fmt"
	"time"
)

// Status is the development status declared by AI_STATUS.
type Status string

const (
	StatusNotStarted  Status = "NOT_STARTED"
	StatusPartial     Status = "PARTIAL"
	StatusImplemented Status = "IMPLEMENTED"
	StatusFixed       Status = "FIXED"
)

// Done reports whether the status counts as finished work.
func (s Status) Done() bool {
	return s == StatusImplemented || s == StatusFixed
}

// Complexity is the effort level declared by AI_COMPLEXITY.
type Complexity string

const (
	ComplexityLow      Complexity = "LOW"
	ComplexityMedium   Complexity = "MEDIUM"
	ComplexityHigh     Complexity = "HIGH"
	ComplexityCritical Complexity = "CRITICAL"
)

// DefaultPriority is assigned when AI_PRIORITY is absent.
const DefaultPriority = 5

// Key identifies a breadcrumb by its location.
type Key struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.File, k.Line)
}

// Breadcrumb is one parsed annotation block. Breadcrumbs are immutable once parsed; a
// re-scan produces a new graph rather than mutating existing entries.
type Breadcrumb struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	EndLine int    `json:"end_line"`
	// Symbol is the declaration that follows the block, when it could be resolved.
	Symbol string `json:"symbol,omitempty"`

	Phase      string     `json:"phase"`
	Status     Status     `json:"status"`
	Marker     string     `json:"marker,omitempty"`
	Pattern    string     `json:"pattern,omitempty"`
	Strategy   string     `json:"strategy,omitempty"`
	Ref        string     `json:"ref,omitempty"`
	Priority   int        `json:"priority"`
	Complexity Complexity `json:"complexity,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`
	Blocks       []string `json:"blocks,omitempty"`

	AssignedTo string     `json:"assigned_to,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	Timeout    *time.Time `json:"timeout,omitempty"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
}

// Key returns the breadcrumb's index key.
func (b *Breadcrumb) Key() Key {
	return Key{File: b.File, Line: b.Line}
}

// EffectiveComplexity returns the declared complexity, or MEDIUM when it is absent.
func (b *Breadcrumb) EffectiveComplexity() Complexity {
	if b.Complexity == "" {
		return ComplexityMedium
	}
	return b.Complexity
}

// Claimed reports whether the breadcrumb is assigned and its claim has not timed out.
func (b *Breadcrumb) Claimed(now time.Time) bool {
	if b.AssignedTo == "" {
		return false
	}
	return b.Timeout == nil || now.Before(*b.Timeout)
}

// Warning records a non-fatal problem found while parsing.
type Warning struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Field != "" {
		return fmt.Sprintf("%s:%d: %s: %s", w.File, w.Line, w.Field, w.Message)
	}
	return fmt.Sprintf("%s:%d: %s", w.File, w.Line, w.Message)
}

// EdgeType is the kind of a relationship edge.
type EdgeType string

const (
	EdgeDependsOn EdgeType = "DEPENDS_ON"
	EdgeBlocks    EdgeType = "BLOCKS"
)

// Edge is a directed relationship from a breadcrumb to a phase name. Targets are resolved
// lazily because one phase name may map to several breadcrumbs.
type Edge struct {
	Source Key      `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// ParseResult holds the breadcrumbs and warnings extracted from one file.
type ParseResult struct {
	File        string
	Breadcrumbs []*Breadcrumb
	Warnings    []Warning
}
