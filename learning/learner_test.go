package learning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semloop/config"
)

func newLearner() *Learner {
	return New(config.DefaultConfig().Learning, nil)
}

func TestLearner_RecordRunningAverages(t *testing.T) {
	l := newLearner()
	l.Record("PARSER", true, 1, 10*time.Second, "recursive descent")
	l.Record("PARSER", false, 3, 20*time.Second, "table driven")
	l.Record("PARSER", true, 2, 30*time.Second, "recursive descent")

	p, ok := l.Get("PARSER")
	require.True(t, ok)
	assert.Equal(t, 3, p.TotalAttempts)
	assert.Equal(t, 2, p.Successes)
	assert.InDelta(t, 2.0, p.AvgRetries, 1e-9)
	assert.InDelta(t, 20.0, p.AvgTime, 1e-9)
	assert.Equal(t, []string{"recursive descent", "table driven"}, p.CommonApproaches)
	assert.GreaterOrEqual(t, p.TotalAttempts, p.Successes)
}

func TestLearner_RecommendScenario(t *testing.T) {
	l := newLearner()
	l.Replace(map[string]PatternStats{
		"SHADER_COMPILATION": {Successes: 8, TotalAttempts: 10, AvgRetries: 1.5, AvgTime: 45},
	})

	rec := l.Recommend("SHADER_COMPILATION", "HIGH")
	assert.True(t, rec.Known)
	assert.Equal(t, 2, rec.SuggestedRetries)
	assert.InDelta(t, 63.0, rec.EstimatedTime, 1e-9)
	assert.InDelta(t, 0.8, rec.SuccessProbability, 1e-9)
}

func TestLearner_RecommendDefaults(t *testing.T) {
	l := newLearner()

	rec := l.Recommend("NEVER_SEEN", "MEDIUM")
	assert.False(t, rec.Known)
	assert.Equal(t, 3, rec.SuggestedRetries)
	assert.InDelta(t, 60.0, rec.EstimatedTime, 1e-9)
	assert.InDelta(t, 0.5, rec.SuccessProbability, 1e-9)

	low := l.Recommend("NEVER_SEEN", "LOW")
	assert.Equal(t, 2, low.SuggestedRetries)
	assert.InDelta(t, 48.0, low.EstimatedTime, 1e-9)

	unknown := l.Recommend("NEVER_SEEN", "EXTREME")
	assert.Equal(t, "MEDIUM", unknown.Complexity)
	assert.Equal(t, rec.SuggestedRetries, unknown.SuggestedRetries)
}

func TestMerge(t *testing.T) {
	a := PatternStats{Successes: 8, TotalAttempts: 10, AvgRetries: 1.5, AvgTime: 45, CommonApproaches: []string{"x"}}
	b := PatternStats{Successes: 5, TotalAttempts: 8, AvgRetries: 2.0, AvgTime: 50, CommonApproaches: []string{"y", "x"}}

	m := Merge(a, b)
	assert.Equal(t, 13, m.Successes)
	assert.Equal(t, 18, m.TotalAttempts)
	assert.InDelta(t, (1.5*10+2.0*8)/18, m.AvgRetries, 1e-9)
	assert.InDelta(t, (45.0*10+50*8)/18, m.AvgTime, 1e-9)
	assert.InDelta(t, 1.72, m.AvgRetries, 0.01)
	assert.InDelta(t, 47.2, m.AvgTime, 0.1)
	assert.Equal(t, []string{"x", "y"}, m.CommonApproaches)

	empty := Merge(PatternStats{}, PatternStats{})
	assert.Zero(t, empty.TotalAttempts)
	assert.Zero(t, empty.AvgRetries)
}

func TestLearner_UnsortedImportedApproachesStayUnique(t *testing.T) {
	l := newLearner()
	l.Replace(map[string]PatternStats{
		"P": {TotalAttempts: 2, Successes: 1, CommonApproaches: []string{"b", "a", "b"}},
	})
	l.Record("P", true, 0, time.Second, "a")
	l.Record("P", true, 0, time.Second, "c")

	got, ok := l.Get("P")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, got.CommonApproaches)

	l.MergeAll(map[string]PatternStats{
		"Q": {TotalAttempts: 1, CommonApproaches: []string{"z", "y", "z"}},
	})
	l.Record("Q", false, 1, time.Second, "y")
	got, _ = l.Get("Q")
	assert.Equal(t, []string{"y", "z"}, got.CommonApproaches)

	m := Merge(PatternStats{CommonApproaches: []string{"b", "a", "b"}}, PatternStats{CommonApproaches: []string{"a"}})
	assert.Equal(t, []string{"a", "b"}, m.CommonApproaches)
}

func TestLearner_ExportImportReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	l := newLearner()
	l.Record("A", true, 1, 12*time.Second, "one")
	l.Record("A", false, 4, 7*time.Second, "")
	l.Record("B", true, 0, 3*time.Second, "two")
	require.NoError(t, l.Export(path, "demo", map[string]string{"host": "ci"}))

	env, err := ReadEnvelope(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", env.ProjectName)
	assert.Equal(t, 3, env.TotalIterations)
	assert.InDelta(t, 2.0/3, env.OverallSuccessRate, 1e-9)
	assert.Equal(t, "ci", env.Metadata["host"])

	other := newLearner()
	other.Record("C", true, 1, time.Second, "")
	ok, err := other.Import(path, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, l.Snapshot(), other.Snapshot())
}

func TestLearner_ImportMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	src := newLearner()
	src.Replace(map[string]PatternStats{
		"A": {Successes: 5, TotalAttempts: 8, AvgRetries: 2.0, AvgTime: 50},
		"B": {Successes: 1, TotalAttempts: 1, AvgRetries: 0, AvgTime: 5},
	})
	require.NoError(t, src.Export(path, "src", nil))

	dst := newLearner()
	dst.Replace(map[string]PatternStats{
		"A": {Successes: 8, TotalAttempts: 10, AvgRetries: 1.5, AvgTime: 45},
	})
	ok, err := dst.Import(path, true)
	require.NoError(t, err)
	require.True(t, ok)

	a, _ := dst.Get("A")
	assert.Equal(t, 18, a.TotalAttempts)
	assert.Equal(t, 13, a.Successes)
	b, ok := dst.Get("B")
	require.True(t, ok)
	assert.Equal(t, 1, b.TotalAttempts)
}

func TestLearner_ImportFailureLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "nope.json")},
		{"invalid json", write("bad.json", "{not json")},
		{"wrong version", write("v2.json", `{"learned_patterns":{},"metadata":{"version":"2.0","format":"semloop-patterns"}}`)},
		{"wrong format", write("fmt.json", `{"learned_patterns":{},"metadata":{"version":"1.0","format":"other"}}`)},
		{"impossible counts", write("counts.json", `{"learned_patterns":{"A":{"successes":3,"total_attempts":1}},"metadata":{"version":"1.0","format":"semloop-patterns"}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLearner()
			l.Record("KEEP", true, 1, time.Second, "x")
			before := l.Snapshot()

			for _, merge := range []bool{true, false} {
				ok, err := l.Import(tt.path, merge)
				assert.False(t, ok)
				assert.True(t, errors.Is(err, ErrFormat))
				assert.Equal(t, before, l.Snapshot())
			}
		})
	}
}
