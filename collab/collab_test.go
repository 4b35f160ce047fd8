package collab

import (
	"context"
	"runtime"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semloop/breadcrumb"
	"github.com/c360studio/semloop/config"
	"github.com/c360studio/semloop/learning"
	"github.com/c360studio/semloop/orchestrator"
)

func testGraph(t *testing.T) *breadcrumb.Graph {
	t.Helper()
	g := breadcrumb.NewGraph()
	for name, content := range map[string]string{
		"audio/mixer.go":   "// AI_PHASE: MIXER\n// AI_STATUS: PARTIAL\n// AI_DEPENDENCIES: DECODER\n",
		"audio/decoder.go": "// AI_PHASE: DECODER\n// AI_STATUS: NOT_STARTED\n",
	} {
		res, err := breadcrumb.ParseString(name, content)
		require.NoError(t, err)
		g.AddResult(res)
	}
	return g
}

func TestGlobExplorer(t *testing.T) {
	fsys := fstest.MapFS{
		"audio/mixer.go":        {Data: []byte("package audio")},
		"audio/mixer_test.go":   {Data: []byte("package audio")},
		"audio/decoder.go":      {Data: []byte("package audio")},
		"vendor/mixer/mixer.go": {Data: []byte("package mixer")},
		"video/encoder.go":      {Data: []byte("package video")},
	}
	e := newGlobExplorer(fsys, []string{"**/*.go"}, []string{"vendor/**"}, orchestrator.StaticGraph(testGraph(t)))

	exp, err := e.Explore(context.Background(), orchestrator.Query{
		Text:   "Finish the mixer",
		Phases: []string{"MIXER", "DECODER"},
		Files:  []string{"audio/mixer.go"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"audio/mixer.go", "audio/mixer_test.go"}, exp.Files)
	assert.Contains(t, exp.Insights, "audio/mixer.go:1: MIXER is PARTIAL")
	assert.Contains(t, exp.Insights, "related phase DECODER is still NOT_STARTED")
}

func TestGlobExplorer_NoGraphAndCancel(t *testing.T) {
	e := newGlobExplorer(fstest.MapFS{"a/parser.go": {}}, nil, nil, nil)
	exp, err := e.Explore(context.Background(), orchestrator.Query{Text: "parser"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/parser.go"}, exp.Files)
	assert.Empty(t, exp.Insights)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Explore(ctx, orchestrator.Query{Text: "parser"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandCompiler(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx := context.Background()

	ok := &CommandCompiler{Command: []string{"sh", "-c", "echo 'warning: unused variable' >&2"}}
	res, err := ok.Compile(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"warning: unused variable"}, res.Warnings)
	assert.Empty(t, res.Errors)

	bad := &CommandCompiler{Command: []string{"sh", "-c", "echo '# pkg' >&2; echo 'main.go:3: undefined: x' >&2; exit 2"}, Dir: t.TempDir()}
	res, err = bad.Compile(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"main.go:3: undefined: x"}, res.Errors)

	silent := &CommandCompiler{Command: []string{"sh", "-c", "exit 3"}}
	res, err = silent.Compile(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sh exited with status 3"}, res.Errors)

	missing := &CommandCompiler{Command: []string{"definitely-not-a-real-binary-semloop"}}
	_, err = missing.Compile(ctx, nil)
	assert.Error(t, err)

	slow := &CommandCompiler{Command: []string{"sh", "-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond}
	res, err = slow.Compile(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"sh timed out after 50ms"}, res.Errors)

	none := &CommandCompiler{}
	res, err = none.Compile(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestScriptedCompiler(t *testing.T) {
	s := FailFirst(2, "boom")
	for i, want := range []bool{false, false, true, true} {
		res, err := s.Compile(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, want, res.Success, "call %d", i)
	}
}

func TestRules(t *testing.T) {
	ctx := context.Background()
	g := testGraph(t)
	mixer := g.ByPhase("MIXER")[0]

	strat, err := RuleReasoner{}.Reason(ctx, orchestrator.ReasonRequest{
		Task:        orchestrator.Task{ID: "t", Description: "finish mixer", Breadcrumb: mixer},
		PriorErrors: []string{"undefined: x"},
		Suggestions: []string{"import x"},
		Patterns:    []string{"observer"},
		Guidance:    learning.Recommendation{SuccessProbability: 0.5, CommonApproaches: []string{"table driven"}},
		Attempt:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "table driven for finish mixer (attempt 2)", strat.Strategy)
	assert.Equal(t, []string{"apply known fix: import x", "address: undefined: x", "respect dependency DECODER"}, strat.Steps)
	assert.InDelta(t, 0.55, strat.Confidence, 1e-9)
	assert.Equal(t, []string{"observer"}, strat.Patterns)

	artifact, err := PlanGenerator{}.Generate(ctx, orchestrator.GenerateRequest{
		Task:        orchestrator.Task{ID: "t"},
		Strategy:    strat,
		Breadcrumbs: []*breadcrumb.Breadcrumb{mixer, mixer},
	})
	require.NoError(t, err)
	plan := artifact.(Plan)
	assert.Equal(t, []string{"audio/mixer.go"}, plan.Files)

	review, err := PlanReviewer{}.Review(ctx, plan)
	require.NoError(t, err)
	assert.True(t, review.Pass)

	review, err = PlanReviewer{}.Review(ctx, Plan{})
	require.NoError(t, err)
	assert.False(t, review.Pass)
	assert.Len(t, review.Notes, 2)

	review, err = PlanReviewer{}.Review(ctx, "raw text")
	require.NoError(t, err)
	assert.False(t, review.Pass)
}

func TestLoopWithLocalCollaborators(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	g := testGraph(t)

	o, err := orchestrator.New(cfg, orchestrator.Dependencies{
		Collaborators: orchestrator.Collaborators{
			Explorer:  newGlobExplorer(fstest.MapFS{"audio/mixer.go": {}}, nil, nil, orchestrator.StaticGraph(g)),
			Reasoner:  RuleReasoner{},
			Generator: PlanGenerator{},
			Reviewer:  PlanReviewer{},
			Compiler:  FailFirst(1, "audio/mixer.go:9: undefined: mixFrames"),
		},
		Graph: orchestrator.StaticGraph(g),
	})
	require.NoError(t, err)

	res := o.Run(context.Background(), orchestrator.Task{
		ID:          "mixer",
		Description: "finish mixer",
		Breadcrumb:  g.ByPhase("MIXER")[0],
	})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RetryCount)
	assert.Contains(t, res.Strategy, "attempt 2")
}
