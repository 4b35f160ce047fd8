package orchestrator

import "fmt"

// State is a phase of the iteration state machine.
type State string

const (
	StateExploration State = "EXPLORATION"
	StateReasoning   State = "REASONING"
	StateGeneration  State = "GENERATION"
	StateReview      State = "REVIEW"
	StateCompilation State = "COMPILATION"
	StateLearning    State = "LEARNING"
	StateRetry       State = "RETRY"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists the successors of each state. Every non-terminal state may also move
// to FAILED when the caller cancels the iteration.
var transitions = map[State][]State{
	StateExploration: {StateReasoning},
	StateReasoning:   {StateGeneration},
	StateGeneration:  {StateReview},
	StateReview:      {StateCompilation},
	StateCompilation: {StateLearning},
	StateLearning:    {StateDone, StateRetry},
	StateRetry:       {StateGeneration},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state change.
func Transition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
