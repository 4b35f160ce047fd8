// Package orchestrator drives one task at a time through the exploration, reasoning,
// generation, review, compilation and learning phases, retrying failed compilations within
// an adaptive budget and feeding every outcome back into the learning components.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semloop/breadcrumb"
	"github.com/c360studio/semloop/config"
	"github.com/c360studio/semloop/errortracker"
	"github.com/c360studio/semloop/events"
	"github.com/c360studio/semloop/learning"
	"github.com/c360studio/semloop/reasoning"
	"github.com/c360studio/semloop/session"
)

const defaultPhase = "GENERAL"

// Task is one unit of work for the loop.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	// Phase keys the learned statistics; defaults to the breadcrumb's phase.
	Phase string `json:"phase,omitempty"`
	// Complexity defaults to the breadcrumb's effective complexity.
	Complexity string                 `json:"complexity,omitempty"`
	Breadcrumb *breadcrumb.Breadcrumb `json:"breadcrumb,omitempty"`
	// Approach is recorded as a common approach when no strategy was produced.
	Approach string `json:"approach,omitempty"`
}

func (t Task) phase() string {
	switch {
	case t.Phase != "":
		return t.Phase
	case t.Breadcrumb != nil && t.Breadcrumb.Phase != "":
		return t.Breadcrumb.Phase
	default:
		return defaultPhase
	}
}

func (t Task) complexity() string {
	switch {
	case t.Complexity != "":
		return t.Complexity
	case t.Breadcrumb != nil:
		return string(t.Breadcrumb.EffectiveComplexity())
	default:
		return string(breadcrumb.ComplexityMedium)
	}
}

// IterationResult is always returned by Run, whatever happened inside the phases.
type IterationResult struct {
	TaskID      string  `json:"task_id"`
	Iteration   int     `json:"iteration"`
	Success     bool    `json:"success"`
	FinalState  State   `json:"final_state"`
	RetryCount  int     `json:"retry_count"`
	RetryBudget int     `json:"retry_budget"`
	Strategy    string  `json:"strategy,omitempty"`
	Confidence  float64 `json:"confidence"`
	// PhaseTimings accumulates seconds per phase across retries.
	PhaseTimings map[State]float64 `json:"phase_timings"`
	// Errors are the compiler errors of the last attempt.
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	// PhaseFailures are recovered collaborator failures.
	PhaseFailures []string      `json:"phase_failures,omitempty"`
	ReviewNotes   []string      `json:"review_notes,omitempty"`
	Fingerprints  []string      `json:"fingerprints,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// GraphSource yields the breadcrumb graph current at the start of each iteration.
// breadcrumb.Watcher satisfies it.
type GraphSource interface {
	Current() *breadcrumb.Graph
}

type staticGraph struct{ g *breadcrumb.Graph }

func (s staticGraph) Current() *breadcrumb.Graph { return s.g }

// StaticGraph adapts a fixed graph to GraphSource.
func StaticGraph(g *breadcrumb.Graph) GraphSource {
	return staticGraph{g: g}
}

// Dependencies are the components an Orchestrator works with. Collaborators are required;
// trackers default to fresh in-memory instances; the rest are optional.
type Dependencies struct {
	Collaborators

	Graph     GraphSource
	Errors    *errortracker.Tracker
	Reasoning *reasoning.Tracker
	Learner   *learning.Learner
	Sessions  *session.Manager
	Events    events.Sink
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Orchestrator runs tasks through the iteration loop. Run calls are serialized.
type Orchestrator struct {
	config *config.Config
	policy RetryPolicy
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time

	runMu sync.Mutex

	mu          sync.Mutex
	iteration   int
	successful  int
	history     []IterationRecord
	lastSession *session.Session
}

// New validates the configuration and collaborators and creates an orchestrator.
func New(cfg *config.Config, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	missing := []string{}
	if deps.Explorer == nil {
		missing = append(missing, "explorer")
	}
	if deps.Reasoner == nil {
		missing = append(missing, "reasoner")
	}
	if deps.Generator == nil {
		missing = append(missing, "generator")
	}
	if deps.Reviewer == nil {
		missing = append(missing, "reviewer")
	}
	if deps.Compiler == nil {
		missing = append(missing, "compiler")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing collaborators: %s", ErrConfig, strings.Join(missing, ", "))
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Graph == nil {
		deps.Graph = StaticGraph(breadcrumb.NewGraph())
	}
	if deps.Errors == nil {
		deps.Errors = errortracker.New(errortracker.Config{
			SimilarityThreshold: cfg.Errors.SimilarityThreshold,
			SuggestionLimit:     cfg.Errors.SuggestionLimit,
			Logger:              logger,
		})
	}
	if deps.Reasoning == nil {
		deps.Reasoning = reasoning.NewTracker(reasoning.WithLogger(logger))
	}
	if deps.Learner == nil {
		deps.Learner = learning.New(cfg.Learning, logger)
	}

	return &Orchestrator{
		config: cfg,
		policy: NewRetryPolicy(cfg.Retry),
		deps:   deps,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
	}, nil
}

// Policy returns the retry policy in use.
func (o *Orchestrator) Policy() RetryPolicy {
	return o.policy
}

// Learner returns the pattern learner.
func (o *Orchestrator) Learner() *learning.Learner {
	return o.deps.Learner
}

// Errors returns the error tracker.
func (o *Orchestrator) Errors() *errortracker.Tracker {
	return o.deps.Errors
}

// Reasoning returns the reasoning tracker.
func (o *Orchestrator) Reasoning() *reasoning.Tracker {
	return o.deps.Reasoning
}

// LastSession returns the session of the most recent Run.
func (o *Orchestrator) LastSession() *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSession
}

// run holds the per-iteration working state.
type run struct {
	task       Task
	phase      string
	complexity string
	state      State
	result     *IterationResult
	session    *session.Session
	graph      *breadcrumb.Graph
	related    []*breadcrumb.Breadcrumb

	exploration Exploration
	strategy    Strategy
	reasoningID string
	artifact    Artifact
	compile     CompileResult
	priorErrors []string
	attempts    []Attempt
}

// Run drives task to DONE or FAILED. Collaborator errors and panics are absorbed into the
// result; Run itself never fails.
func (o *Orchestrator) Run(ctx context.Context, task Task) *IterationResult {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.mu.Lock()
	o.iteration++
	iteration := o.iteration
	o.mu.Unlock()

	start := o.now()
	r := &run{
		task:       task,
		phase:      task.phase(),
		complexity: task.complexity(),
		state:      StateExploration,
		session:    session.New(task.Description),
		graph:      o.deps.Graph.Current(),
		result: &IterationResult{
			TaskID:       task.ID,
			Iteration:    iteration,
			PhaseTimings: make(map[State]float64),
		},
	}
	if r.graph != nil && task.Breadcrumb != nil {
		r.related = r.graph.FindRelated(task.Breadcrumb)
	}
	r.session.SetIterationValue("task_id", task.ID)
	r.session.SetIterationValue("phase", r.phase)
	r.session.SetIterationValue("complexity", r.complexity)

	log := o.logger.With("task", task.ID, "iteration", iteration, "phase", r.phase)
	log.Info("Starting iteration")
	o.emit(ctx, events.Event{Type: events.TypeTransition, TaskID: task.ID, To: string(r.state), Iteration: iteration})

	for !r.state.Terminal() {
		if err := ctx.Err(); err != nil {
			r.result.PhaseFailures = append(r.result.PhaseFailures, fmt.Sprintf("%s: %v", r.state, err))
			o.move(ctx, r, StateFailed)
			break
		}
		phaseStart := o.now()
		current := r.state
		next := o.step(ctx, r, log)
		elapsed := o.now().Sub(phaseStart).Seconds()
		r.result.PhaseTimings[current] += elapsed
		o.deps.Metrics.phase(current, elapsed)
		o.move(ctx, r, next)
	}

	o.finish(ctx, r, start, log)
	return r.result
}

// move applies a transition, falling back to FAILED if the machine forbids it.
func (o *Orchestrator) move(ctx context.Context, r *run, to State) {
	from := r.state
	if err := Transition(from, to); err != nil {
		o.logger.Error("Bookkeeping error", "task", r.task.ID, "error", err)
		to = StateFailed
	}
	r.state = to
	o.emit(ctx, events.Event{
		Type:      events.TypeTransition,
		TaskID:    r.task.ID,
		From:      string(from),
		To:        string(to),
		Iteration: r.result.Iteration,
	})
}

func (o *Orchestrator) emit(ctx context.Context, e events.Event) {
	if o.deps.Events == nil {
		return
	}
	e.Time = o.now().UTC()
	if State(e.To).Terminal() {
		// A cancelled run still reports how it ended.
		ctx = context.WithoutCancel(ctx)
	}
	if err := o.deps.Events.Publish(ctx, e); err != nil {
		o.logger.Warn("Event publish failed", "type", e.Type, "task", e.TaskID, "error", err)
	}
}

// step runs the current phase and returns the next state.
func (o *Orchestrator) step(ctx context.Context, r *run, log *slog.Logger) State {
	switch r.state {
	case StateExploration:
		o.explore(ctx, r)
		return StateReasoning
	case StateReasoning:
		o.reason(ctx, r)
		return StateGeneration
	case StateGeneration:
		o.generate(ctx, r)
		return StateReview
	case StateReview:
		o.review(ctx, r, log)
		return StateCompilation
	case StateCompilation:
		o.compileArtifact(ctx, r)
		return StateLearning
	case StateLearning:
		return o.learn(r, log)
	case StateRetry:
		o.retry(ctx, r, log)
		return StateGeneration
	default:
		return StateFailed
	}
}

// guard runs fn, converting an error or panic into a recorded phase failure.
func (o *Orchestrator) guard(r *run, fn func() error) (ok bool) {
	state := r.state
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("Collaborator panicked",
				"task", r.task.ID, "phase", state, "panic", rec, "stack", string(debug.Stack()))
			o.phaseFailed(r, state, fmt.Errorf("panic: %v", rec))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		o.logger.Warn("Collaborator failed", "task", r.task.ID, "phase", state, "error", err)
		o.phaseFailed(r, state, err)
		return false
	}
	return true
}

func (o *Orchestrator) phaseFailed(r *run, state State, err error) {
	r.result.PhaseFailures = append(r.result.PhaseFailures, fmt.Sprintf("%s: %v", state, err))
	o.deps.Metrics.collaboratorFailure(state)
}

func (o *Orchestrator) explore(ctx context.Context, r *run) {
	q := Query{Text: r.task.Description}
	crumbs := r.related
	if r.task.Breadcrumb != nil {
		crumbs = append([]*breadcrumb.Breadcrumb{r.task.Breadcrumb}, crumbs...)
	}
	seenFile := map[string]bool{}
	for _, bc := range crumbs {
		q.Phases = append(q.Phases, bc.Phase)
		if !seenFile[bc.File] {
			seenFile[bc.File] = true
			q.Files = append(q.Files, bc.File)
		}
	}
	if len(q.Phases) > 0 {
		q.Text = fmt.Sprintf("%s (related: %s)", q.Text, strings.Join(q.Phases, ", "))
	}

	var exp Exploration
	if o.guard(r, func() error {
		var err error
		exp, err = o.deps.Explorer.Explore(ctx, q)
		return err
	}) {
		r.exploration = exp
	}
	r.session.AddExplorationResult(r.exploration)
	r.session.AddTurn("explorer", strings.Join(r.exploration.Insights, "\n"))
}

func (o *Orchestrator) patterns(r *run) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if bc := r.task.Breadcrumb; bc != nil {
		add(bc.Pattern)
		add(bc.Strategy)
	}
	for _, bc := range r.related {
		add(bc.Pattern)
	}
	return out
}

// reason opens a reasoning entry for this attempt and asks the reasoner for a strategy.
func (o *Orchestrator) reason(ctx context.Context, r *run) {
	var consulted []string
	if r.task.Breadcrumb != nil {
		consulted = append(consulted, r.task.Breadcrumb.Key().String())
	}
	for _, bc := range r.related {
		consulted = append(consulted, bc.Key().String())
	}
	r.reasoningID = o.deps.Reasoning.Start(r.task.ID, r.phase, consulted, r.priorErrors, r.exploration.Files)

	patterns := o.patterns(r)
	var suggestions []string
	for _, e := range r.priorErrors {
		suggestions = append(suggestions, o.deps.Errors.ResolutionSuggestions(e)...)
	}
	req := ReasonRequest{
		Task:        r.task,
		Exploration: r.exploration,
		PriorErrors: r.priorErrors,
		Patterns:    patterns,
		Suggestions: dedupe(suggestions),
		Guidance:    o.deps.Learner.Recommend(r.phase, r.complexity),
		Attempt:     r.result.RetryCount + 1,
	}

	var strat Strategy
	if o.guard(r, func() error {
		var err error
		strat, err = o.deps.Reasoner.Reason(ctx, req)
		return err
	}) {
		r.strategy = strat
	} else {
		r.strategy = Strategy{}
	}

	for _, step := range r.strategy.Steps {
		o.reasoningUpdate(r, o.deps.Reasoning.AddStep(step))
	}
	if r.strategy.Strategy != "" {
		o.reasoningUpdate(r, o.deps.Reasoning.AddStep(r.strategy.Strategy))
	}
	for _, p := range append(patterns, r.strategy.Patterns...) {
		o.reasoningUpdate(r, o.deps.Reasoning.AddPattern(p))
	}
	o.reasoningUpdate(r, o.deps.Reasoning.SetDecision(reasoning.Decision{
		Type:       decisionType(r),
		Approach:   r.approach(),
		Confidence: r.strategy.Confidence,
		Complexity: r.complexity,
	}))

	r.result.Strategy = r.strategy.Strategy
	r.result.Confidence = r.strategy.Confidence
	r.session.SetIterationValue("strategy", r.strategy.Strategy)
	r.session.AddTurn("reasoner", r.strategy.Strategy)
}

func decisionType(r *run) string {
	if len(r.priorErrors) > 0 {
		return "retry"
	}
	return "initial"
}

func (r *run) approach() string {
	if r.strategy.Strategy != "" {
		return r.strategy.Strategy
	}
	return r.task.Approach
}

func (o *Orchestrator) reasoningUpdate(r *run, err error) {
	if err != nil {
		o.logger.Warn("Reasoning entry not updated", "task", r.task.ID, "error", err)
	}
}

func (o *Orchestrator) generate(ctx context.Context, r *run) {
	req := GenerateRequest{
		Task:        r.task,
		Strategy:    r.strategy,
		Breadcrumbs: append([]*breadcrumb.Breadcrumb(nil), r.related...),
		History:     append([]Attempt(nil), r.attempts...),
	}
	if r.task.Breadcrumb != nil {
		req.Breadcrumbs = append([]*breadcrumb.Breadcrumb{r.task.Breadcrumb}, req.Breadcrumbs...)
	}

	var artifact Artifact
	if o.guard(r, func() error {
		var err error
		artifact, err = o.deps.Generator.Generate(ctx, req)
		return err
	}) {
		r.artifact = artifact
	} else {
		r.artifact = nil
	}
	r.session.AddGenerationResult(r.artifact)
}

func (o *Orchestrator) review(ctx context.Context, r *run, log *slog.Logger) {
	var rev Review
	if !o.guard(r, func() error {
		var err error
		rev, err = o.deps.Reviewer.Review(ctx, r.artifact)
		return err
	}) {
		return
	}
	r.result.ReviewNotes = append(r.result.ReviewNotes, rev.Notes...)
	if !rev.Pass {
		log.Info("Review did not pass, continuing to compilation", "notes", len(rev.Notes))
	}
	r.session.AddTurn("reviewer", strings.Join(rev.Notes, "\n"))
}

func (o *Orchestrator) compileArtifact(ctx context.Context, r *run) {
	var res CompileResult
	if !o.guard(r, func() error {
		var err error
		res, err = o.deps.Compiler.Compile(ctx, r.artifact)
		return err
	}) {
		res = CompileResult{Errors: []string{r.result.PhaseFailures[len(r.result.PhaseFailures)-1]}}
	}
	if !res.Success && len(res.Errors) == 0 {
		res.Errors = []string{"compilation failed without diagnostics"}
	}
	if res.Success {
		res.Errors = nil
	}
	r.compile = res
	r.result.Errors = append([]string(nil), res.Errors...)
	r.result.Warnings = append([]string(nil), res.Warnings...)
}

// learn records the attempt outcome and decides between DONE, RETRY and FAILED.
func (o *Orchestrator) learn(r *run, log *slog.Logger) State {
	attempt := r.result.RetryCount + 1
	if r.compile.Success {
		o.completeReasoning(r, true, attempt)
		return StateDone
	}

	var fps []string
	where := fmt.Sprintf("task=%s phase=%s attempt=%d", r.task.ID, r.phase, attempt)
	for _, e := range r.compile.Errors {
		fps = append(fps, o.deps.Errors.Track(e, where))
	}
	r.result.Fingerprints = dedupe(append(r.result.Fingerprints, fps...))

	// The budget only grows within a run, so a milder error class on a later attempt
	// cannot leave RetryCount above the reported budget.
	budget := max(r.result.RetryBudget, o.policy.Budget(r.compile.Errors))
	r.result.RetryBudget = budget
	o.deps.Metrics.budget(budget)
	o.completeReasoning(r, false, attempt)

	r.attempts = append(r.attempts, Attempt{Number: attempt, Strategy: r.strategy.Strategy, Errors: r.compile.Errors})
	r.session.SetIterationValue("errors", toAny(r.compile.Errors))
	r.session.SetIterationValue("retry_budget", budget)

	if r.result.RetryCount < budget {
		log.Info("Compilation failed, retrying",
			"errors", len(r.compile.Errors), "retry", r.result.RetryCount+1, "budget", budget)
		return StateRetry
	}
	log.Warn("Compilation failed, retry budget exhausted", "retries", r.result.RetryCount, "budget", budget)
	return StateFailed
}

func (o *Orchestrator) completeReasoning(r *run, success bool, iterations int) {
	if r.reasoningID == "" {
		return
	}
	if _, err := o.deps.Reasoning.Complete(r.reasoningID, success, iterations); err != nil {
		o.logger.Warn("Reasoning entry not completed", "task", r.task.ID, "error", err)
	}
	r.reasoningID = ""
}

// retry checkpoints the session, then re-reasons with the errors of the failed attempt.
func (o *Orchestrator) retry(ctx context.Context, r *run, log *slog.Logger) {
	r.result.RetryCount++
	o.deps.Metrics.retry()
	r.priorErrors = append([]string(nil), r.compile.Errors...)
	r.session.SetIterationValue("attempt", r.result.RetryCount+1)

	if o.deps.Sessions != nil {
		name := fmt.Sprintf("%s-attempt-%d", checkpointName(r.task.ID), r.result.RetryCount)
		if _, err := o.deps.Sessions.SaveCheckpoint(r.session, name); err != nil {
			log.Warn("Checkpoint not saved", "name", name, "error", err)
		}
	}

	o.reason(ctx, r)
}

func checkpointName(taskID string) string {
	if taskID == "" {
		return "task"
	}
	return strings.NewReplacer("/", "_", `\`, "_", string(filepath.Separator), "_").Replace(taskID)
}

// finish applies the terminal side effects: pattern statistics, history, auto-save.
func (o *Orchestrator) finish(ctx context.Context, r *run, start time.Time, log *slog.Logger) {
	res := r.result
	res.FinalState = r.state
	res.Success = r.state == StateDone
	res.Duration = o.now().Sub(start)

	// A cancelled iteration may still hold an open reasoning entry.
	o.completeReasoning(r, res.Success, res.RetryCount+1)

	o.deps.Learner.Record(r.phase, res.Success, res.RetryCount, res.Duration, r.approach())
	o.deps.Metrics.iteration(res.Success)
	r.session.SetIterationValue("success", res.Success)
	r.session.SetIterationValue("final_state", string(res.FinalState))

	o.mu.Lock()
	if res.Success {
		o.successful++
	}
	o.history = append(o.history, recordOf(res, r.phase, o.now()))
	o.lastSession = r.session
	iteration := o.iteration
	o.mu.Unlock()

	o.emit(ctx, events.Event{Type: events.TypeCompleted, TaskID: r.task.ID, To: string(res.FinalState), Iteration: res.Iteration})
	log.Info("Iteration finished",
		"success", res.Success, "retries", res.RetryCount, "duration", res.Duration)

	if n := o.config.Persistence.AutoSaveInterval; n > 0 && iteration%n == 0 {
		if err := o.Persist(ctx); err != nil {
			log.Warn("Auto-save failed", "error", err)
		}
	}
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func toAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
