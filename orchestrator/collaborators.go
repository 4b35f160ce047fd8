package orchestrator

import (
	"context"
	"time"

	"github.com/c360studio/semloop/breadcrumb"
	"github.com/c360studio/semloop/learning"
)

// Query is what the explorer is asked to investigate.
type Query struct {
	Text string `json:"text"`
	// Phases and Files come from the task's breadcrumb and its related breadcrumbs.
	Phases []string `json:"phases,omitempty"`
	Files  []string `json:"files,omitempty"`
}

// Exploration is the explorer's answer.
type Exploration struct {
	Insights []string `json:"insights"`
	Files    []string `json:"files"`
}

// ReasonRequest carries everything known before choosing a strategy.
type ReasonRequest struct {
	Task        Task                    `json:"task"`
	Exploration Exploration             `json:"exploration"`
	PriorErrors []string                `json:"prior_errors,omitempty"`
	Patterns    []string                `json:"patterns,omitempty"`
	Suggestions []string                `json:"suggestions,omitempty"`
	Guidance    learning.Recommendation `json:"guidance"`
	Attempt     int                     `json:"attempt"`
}

// Strategy is the reasoner's answer.
type Strategy struct {
	Strategy   string   `json:"strategy"`
	Confidence float64  `json:"confidence"`
	Steps      []string `json:"steps,omitempty"`
	Patterns   []string `json:"patterns,omitempty"`
}

// Artifact is the generated output. Its shape is agreed between generator, reviewer and
// compiler; the loop only passes it along.
type Artifact any

// Attempt is a previous generation and the errors it produced.
type Attempt struct {
	Number   int      `json:"number"`
	Strategy string   `json:"strategy"`
	Errors   []string `json:"errors"`
}

// GenerateRequest asks for an artifact implementing a strategy.
type GenerateRequest struct {
	Task        Task                     `json:"task"`
	Strategy    Strategy                 `json:"strategy"`
	Breadcrumbs []*breadcrumb.Breadcrumb `json:"breadcrumbs,omitempty"`
	History     []Attempt                `json:"history,omitempty"`
}

// Review is the reviewer's verdict.
type Review struct {
	Pass  bool     `json:"pass"`
	Notes []string `json:"notes,omitempty"`
}

// CompileResult is the compiler's verdict.
type CompileResult struct {
	Success  bool          `json:"success"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Explorer gathers context for a task.
type Explorer interface {
	Explore(ctx context.Context, query Query) (Exploration, error)
}

// Reasoner chooses a strategy.
type Reasoner interface {
	Reason(ctx context.Context, req ReasonRequest) (Strategy, error)
}

// Generator produces an artifact.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Artifact, error)
}

// Reviewer inspects an artifact. A failing review does not stop compilation.
type Reviewer interface {
	Review(ctx context.Context, artifact Artifact) (Review, error)
}

// Compiler is the authoritative check of an artifact.
type Compiler interface {
	Compile(ctx context.Context, artifact Artifact) (CompileResult, error)
}

// Collaborators bundles the five phase implementations.
type Collaborators struct {
	Explorer  Explorer
	Reasoner  Reasoner
	Generator Generator
	Reviewer  Reviewer
	Compiler  Compiler
}

// ExplorerFunc adapts a function to Explorer.
type ExplorerFunc func(ctx context.Context, query Query) (Exploration, error)

// Explore implements Explorer.
func (f ExplorerFunc) Explore(ctx context.Context, query Query) (Exploration, error) {
	return f(ctx, query)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, req ReasonRequest) (Strategy, error)

// Reason implements Reasoner.
func (f ReasonerFunc) Reason(ctx context.Context, req ReasonRequest) (Strategy, error) {
	return f(ctx, req)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Artifact, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Artifact, error) {
	return f(ctx, req)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, artifact Artifact) (Review, error)

// Review implements Reviewer.
func (f ReviewerFunc) Review(ctx context.Context, artifact Artifact) (Review, error) {
	return f(ctx, artifact)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, artifact Artifact) (CompileResult, error)

// Compile implements Compiler.
func (f CompilerFunc) Compile(ctx context.Context, artifact Artifact) (CompileResult, error) {
	return f(ctx, artifact)
}
