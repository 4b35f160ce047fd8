package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semloop/storage"
)

func complete(t *testing.T, tr *Tracker, phase string, success bool, patterns ...string) {
	t.Helper()
	id := tr.Start("task-"+phase, phase, nil, nil, nil)
	for _, p := range patterns {
		require.NoError(t, tr.AddPattern(p))
	}
	_, err := tr.Complete(id, success, 1)
	require.NoError(t, err)
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	id := tr.Start("t1", "PARSER", []string{"a.go:3"}, []string{"undefined: x"}, []string{"a.go"})
	require.NotEmpty(t, id)

	require.NoError(t, tr.AddStep("look at the parser"))
	require.NoError(t, tr.AddPattern("visitor"))
	require.NoError(t, tr.AddPattern("visitor"))
	require.NoError(t, tr.SetDecision(Decision{Type: "refactor", Approach: "split", Confidence: 1.7}))

	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, []string{"visitor"}, cur.Patterns)
	assert.Equal(t, 1.0, cur.Decision.Confidence)

	entry, err := tr.Complete(id, true, 2)
	require.NoError(t, err)
	assert.True(t, entry.Success)
	assert.Equal(t, 2, entry.Iterations)
	assert.Len(t, entry.Steps, 1)
	assert.False(t, entry.EndTime.IsZero())

	_, ok = tr.Current()
	assert.False(t, ok)
	assert.Len(t, tr.History(), 1)
}

func TestTracker_NoCurrent(t *testing.T) {
	tr := NewTracker()
	assert.True(t, errors.Is(tr.AddStep("x"), ErrNoCurrent))
	assert.True(t, errors.Is(tr.AddPattern("x"), ErrNoCurrent))
	assert.True(t, errors.Is(tr.SetDecision(Decision{}), ErrNoCurrent))
	_, err := tr.Complete("nope", true, 1)
	assert.True(t, errors.Is(err, ErrNoCurrent))
}

func TestTracker_StartOverwritesCurrent(t *testing.T) {
	tr := NewTracker()
	first := tr.Start("t1", "A", nil, nil, nil)
	second := tr.Start("t2", "B", nil, nil, nil)
	require.NotEqual(t, first, second)

	_, err := tr.Complete(first, true, 1)
	assert.True(t, errors.Is(err, ErrIDMismatch))

	entry, err := tr.Complete(second, false, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", entry.Phase)
	assert.Equal(t, 1, tr.Stats().Discarded)
	assert.Len(t, tr.History(), 1)
}

func TestTracker_InstancesAreIndependent(t *testing.T) {
	a := NewTracker()
	b := NewTracker()
	idA := a.Start("t", "A", nil, nil, nil)
	b.Start("t", "B", nil, nil, nil)

	_, err := a.Complete(idA, true, 1)
	require.NoError(t, err)
	_, ok := b.Current()
	assert.True(t, ok)
}

func TestTracker_StatsAndQueries(t *testing.T) {
	tr := NewTracker()
	complete(t, tr, "A", true, "retry-loop")
	complete(t, tr, "A", false, "retry-loop", "big-bang")
	complete(t, tr, "B", false, "big-bang")
	complete(t, tr, "B", true)

	s := tr.Stats()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Successes)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, s.Patterns["retry-loop"].SuccessRate, 1e-9)
	assert.InDelta(t, 0.0, s.Patterns["big-bang"].SuccessRate, 1e-9)

	assert.Len(t, tr.QueryByPhase("A"), 2)
	assert.Len(t, tr.QueryByPattern("big-bang"), 2)
	assert.Empty(t, tr.QueryByPhase("C"))

	failed := tr.FailedPatterns(1)
	require.Len(t, failed, 2)
	assert.Equal(t, "big-bang", failed[0].Pattern)
	assert.Equal(t, 2, failed[0].Failures)
	assert.InDelta(t, 1.0, failed[0].FailureRate, 1e-9)
	assert.Equal(t, "retry-loop", failed[1].Pattern)

	assert.Empty(t, tr.FailedPatterns(3))
}

func TestTracker_Persistence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileStore(t.TempDir())

	tr := NewTracker(WithStore(store))
	complete(t, tr, "A", true, "p")
	complete(t, tr, "A", false, "p")
	require.NoError(t, tr.Save(ctx))

	loaded := NewTracker(WithStore(store))
	require.NoError(t, loaded.Load(ctx))
	assert.Equal(t, tr.Stats(), loaded.Stats())
	assert.Len(t, loaded.QueryByPattern("p"), 2)
}
