package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semloop/learning"
	"github.com/c360studio/semloop/storage"
)

// IterationRecord is the persisted outcome of one iteration.
type IterationRecord struct {
	Iteration   int       `json:"iteration"`
	TaskID      string    `json:"task_id"`
	Phase       string    `json:"phase"`
	Success     bool      `json:"success"`
	FinalState  State     `json:"final_state"`
	RetryCount  int       `json:"retry_count"`
	RetryBudget int       `json:"retry_budget"`
	Duration    float64   `json:"duration"`
	Errors      []string  `json:"errors,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func recordOf(res *IterationResult, phase string, at time.Time) IterationRecord {
	return IterationRecord{
		Iteration:   res.Iteration,
		TaskID:      res.TaskID,
		Phase:       phase,
		Success:     res.Success,
		FinalState:  res.FinalState,
		RetryCount:  res.RetryCount,
		RetryBudget: res.RetryBudget,
		Duration:    res.Duration.Seconds(),
		Errors:      append([]string(nil), res.Errors...),
		Timestamp:   at.UTC(),
	}
}

// IterationState is the on-disk iteration state.
type IterationState struct {
	CurrentIteration     int                              `json:"current_iteration"`
	SuccessfulIterations int                              `json:"successful_iterations"`
	IterationHistory     []IterationRecord                `json:"iteration_history"`
	LearnedPatterns      map[string]learning.PatternStats `json:"learned_patterns"`
	ProjectName          string                           `json:"project_name"`
	Timestamp            time.Time                        `json:"timestamp"`
}

// State returns a snapshot of the iteration counters, history and learned patterns.
func (o *Orchestrator) State() IterationState {
	o.mu.Lock()
	st := IterationState{
		CurrentIteration:     o.iteration,
		SuccessfulIterations: o.successful,
		IterationHistory:     append([]IterationRecord(nil), o.history...),
		ProjectName:          o.config.ProjectName,
		Timestamp:            o.now().UTC(),
	}
	o.mu.Unlock()
	st.LearnedPatterns = o.deps.Learner.Snapshot()
	return st
}

// StatePath is the configured iteration state file.
func (o *Orchestrator) StatePath() string {
	return o.config.StatePath(o.config.Persistence.StateFile)
}

// SaveState writes the iteration state to path.
func (o *Orchestrator) SaveState(path string) error {
	st := o.State()
	if err := storage.WriteJSONFile(path, st); err != nil {
		return fmt.Errorf("save iteration state: %w", err)
	}
	o.logger.Debug("Saved iteration state", "path", path, "iteration", st.CurrentIteration)
	return nil
}

// LoadState restores counters, history and learned patterns from path. Because the file
// was asked for explicitly, a missing or unreadable file is an error.
func (o *Orchestrator) LoadState(path string) error {
	var st IterationState
	if err := storage.ReadJSONFile(path, &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s does not exist", ErrStateFormat, path)
		}
		return fmt.Errorf("%w: %v", ErrStateFormat, err)
	}
	if st.CurrentIteration < 0 || st.SuccessfulIterations < 0 || st.SuccessfulIterations > st.CurrentIteration {
		return fmt.Errorf("%w: %d successful of %d iterations", ErrStateFormat,
			st.SuccessfulIterations, st.CurrentIteration)
	}
	for phase, p := range st.LearnedPatterns {
		if p.Successes > p.TotalAttempts || p.Successes < 0 {
			return fmt.Errorf("%w: phase %s has %d successes of %d attempts", ErrStateFormat,
				phase, p.Successes, p.TotalAttempts)
		}
	}

	o.mu.Lock()
	o.iteration = st.CurrentIteration
	o.successful = st.SuccessfulIterations
	o.history = st.IterationHistory
	o.mu.Unlock()
	o.deps.Learner.Replace(st.LearnedPatterns)

	o.logger.Info("Restored iteration state",
		"path", path, "iteration", st.CurrentIteration, "phases", len(st.LearnedPatterns))
	return nil
}

// Persist saves the iteration state to its configured path and flushes the error and
// reasoning databases. Hosts call it on interruption; Run calls it every
// AutoSaveInterval iterations.
func (o *Orchestrator) Persist(ctx context.Context) error {
	var errs []error
	if err := o.SaveState(o.StatePath()); err != nil {
		errs = append(errs, err)
	}
	if err := o.deps.Errors.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.deps.Reasoning.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
