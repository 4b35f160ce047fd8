package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/semloop/config"
)

func TestTransition(t *testing.T) {
	valid := [][2]State{
		{StateExploration, StateReasoning},
		{StateReasoning, StateGeneration},
		{StateGeneration, StateReview},
		{StateReview, StateCompilation},
		{StateCompilation, StateLearning},
		{StateLearning, StateDone},
		{StateLearning, StateRetry},
		{StateLearning, StateFailed},
		{StateRetry, StateGeneration},
		{StateGeneration, StateFailed},
	}
	for _, tr := range valid {
		assert.NoError(t, Transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]State{
		{StateExploration, StateGeneration},
		{StateRetry, StateReasoning},
		{StateCompilation, StateDone},
		{StateDone, StateExploration},
		{StateFailed, StateRetry},
		{StateDone, StateFailed},
	}
	for _, tr := range invalid {
		assert.ErrorIs(t, Transition(tr[0], tr[1]), ErrInvalidTransition, "%s -> %s", tr[0], tr[1])
	}
}

func TestRetryPolicy_Classify(t *testing.T) {
	p := NewRetryPolicy(config.DefaultConfig().Retry)

	tests := []struct {
		msg  string
		want int
	}{
		{"main.go:3:1: syntax error: unexpected }", 1},
		{"undefined: foo", 2},
		{"cannot use x (variable of type int) as string value", 2},
		{"panic: runtime error: index out of range [3] with length 2", 3},
		{"Segmentation fault (core dumped)", 3},
		{"something odd happened", 2},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.msg))
		})
	}

	assert.Equal(t, 3, p.Score([]string{"syntax error", "panic: boom"}))
	assert.Equal(t, 2, p.Score(nil))
}

func TestRetryPolicy_Budget(t *testing.T) {
	p := NewRetryPolicy(config.DefaultConfig().Retry)
	assert.Equal(t, 2, p.Budget([]string{"syntax error: unexpected newline"}))
	assert.Equal(t, 3, p.Budget([]string{"undefined: x"}))
	assert.Equal(t, 5, p.Budget([]string{"panic: nil pointer dereference"}))

	disabled := false
	cfg := config.DefaultConfig().Retry
	cfg.Adaptive = &disabled
	assert.Equal(t, 3, NewRetryPolicy(cfg).Budget([]string{"panic: nil pointer dereference"}))
}

func TestRetryPolicy_BudgetMonotoneAndClamped(t *testing.T) {
	for base := 1; base <= 6; base++ {
		cfg := config.DefaultConfig().Retry
		cfg.BaseRetries = base
		p := NewRetryPolicy(cfg)

		prev := 0
		for score := 0; score <= 10; score++ {
			b := p.BudgetForScore(score)
			assert.GreaterOrEqual(t, b, prev, "base %d score %d", base, score)
			assert.GreaterOrEqual(t, b, 1)
			assert.LessOrEqual(t, b, 8)
			prev = b
		}
	}
}
