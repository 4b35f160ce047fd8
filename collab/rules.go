package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/semloop/orchestrator"
)

// Plan is the artifact produced by PlanGenerator.
type Plan struct {
	TaskID   string   `json:"task_id"`
	Strategy string   `json:"strategy"`
	Steps    []string `json:"steps"`
	Files    []string `json:"files,omitempty"`
}

// RuleReasoner derives a strategy from learned guidance, known resolutions and the errors
// of the previous attempt.
type RuleReasoner struct{}

// Reason implements orchestrator.Reasoner.
func (RuleReasoner) Reason(_ context.Context, req orchestrator.ReasonRequest) (orchestrator.Strategy, error) {
	var steps []string
	approach := req.Task.Approach
	if approach == "" && len(req.Guidance.CommonApproaches) > 0 {
		approach = req.Guidance.CommonApproaches[0]
	}
	if approach == "" {
		approach = "incremental change"
	}

	for _, s := range req.Suggestions {
		steps = append(steps, "apply known fix: "+s)
	}
	for _, e := range req.PriorErrors {
		steps = append(steps, "address: "+e)
	}
	if bc := req.Task.Breadcrumb; bc != nil {
		for _, dep := range bc.Dependencies {
			steps = append(steps, "respect dependency "+dep)
		}
	}
	for _, insight := range req.Exploration.Insights {
		steps = append(steps, "consider "+insight)
	}

	confidence := req.Guidance.SuccessProbability
	if len(req.Suggestions) > 0 {
		confidence = min(1, confidence+0.1)
	}
	if req.Attempt > 1 {
		confidence = max(0, confidence-0.05*float64(req.Attempt-1))
	}

	strategy := fmt.Sprintf("%s for %s", approach, req.Task.Description)
	if req.Attempt > 1 {
		strategy = fmt.Sprintf("%s (attempt %d)", strategy, req.Attempt)
	}
	return orchestrator.Strategy{
		Strategy:   strategy,
		Confidence: confidence,
		Steps:      steps,
		Patterns:   req.Patterns,
	}, nil
}

// PlanGenerator turns a strategy into a Plan.
type PlanGenerator struct{}

// Generate implements orchestrator.Generator.
func (PlanGenerator) Generate(_ context.Context, req orchestrator.GenerateRequest) (orchestrator.Artifact, error) {
	plan := Plan{
		TaskID:   req.Task.ID,
		Strategy: req.Strategy.Strategy,
		Steps:    append([]string(nil), req.Strategy.Steps...),
	}
	seen := map[string]bool{}
	for _, bc := range req.Breadcrumbs {
		if !seen[bc.File] {
			seen[bc.File] = true
			plan.Files = append(plan.Files, bc.File)
		}
	}
	if len(plan.Steps) == 0 {
		plan.Steps = []string{req.Strategy.Strategy}
	}
	return plan, nil
}

// PlanReviewer checks that a Plan has a strategy and concrete steps.
type PlanReviewer struct{}

// Review implements orchestrator.Reviewer.
func (PlanReviewer) Review(_ context.Context, artifact orchestrator.Artifact) (orchestrator.Review, error) {
	plan, ok := artifact.(Plan)
	if !ok {
		return orchestrator.Review{Notes: []string{fmt.Sprintf("unexpected artifact %T", artifact)}}, nil
	}
	var notes []string
	if strings.TrimSpace(plan.Strategy) == "" {
		notes = append(notes, "plan has no strategy")
	}
	if len(plan.Steps) == 0 || (len(plan.Steps) == 1 && plan.Steps[0] == plan.Strategy) {
		notes = append(notes, "plan has no concrete steps")
	}
	return orchestrator.Review{Pass: len(notes) == 0, Notes: notes}, nil
}

var (
	_ orchestrator.Reasoner  = RuleReasoner{}
	_ orchestrator.Generator = PlanGenerator{}
	_ orchestrator.Reviewer  = PlanReviewer{}
	_ orchestrator.Compiler  = (*CommandCompiler)(nil)
	_ orchestrator.Compiler  = (*ScriptedCompiler)(nil)
)
