package breadcrumb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(list []*Breadcrumb) []string {
	out := make([]string, 0, len(list))
	for _, bc := range list {
		out = append(out, bc.Phase)
	}
	return out
}

func buildGraph(t *testing.T, files map[string]string) *Graph {
	t.Helper()
	g := NewGraph()
	for name, content := range files {
		res, err := ParseString(name, content)
		require.NoError(t, err)
		g.AddResult(res)
	}
	return g
}

func TestGraph_FindRelated_DependencyAndBlocks(t *testing.T) {
	g := buildGraph(t, map[string]string{
		"a.go": "// AI_PHASE: A\n// AI_STATUS: NOT_STARTED\n// AI_DEPENDENCIES: B\n",
		"b.go": "// AI_PHASE: B\n// AI_STATUS: PARTIAL\n// AI_BLOCKS: C\n",
		"c.go": "// AI_PHASE: C\n// AI_STATUS: NOT_STARTED\n",
	})

	a := g.ByPhase("A")[0]
	b := g.ByPhase("B")[0]

	assert.ElementsMatch(t, []string{"A", "C"}, keys(g.FindRelated(b)))
	assert.Equal(t, []string{"B"}, keys(g.FindRelated(a)))
	assert.ElementsMatch(t, []string{"B", "C"}, keys(g.Closure(a)))
}

func TestGraph_FindRelated_MarkerAndRef(t *testing.T) {
	g := buildGraph(t, map[string]string{
		"x.go": `// AI_PHASE: X
// AI_STATUS: PARTIAL
// AI_BREADCRUMB: audio
// AI_REF: GH-7

// AI_PHASE: Y
// AI_STATUS: PARTIAL
// AI_BREADCRUMB: audio
`,
		"z.go": "// AI_PHASE: Z\n// AI_STATUS: FIXED\n// AI_REF: GH-7\n",
		"w.go": "// AI_PHASE: W\n// AI_STATUS: FIXED\n// AI_BREADCRUMB: video\n",
	})

	x := g.ByPhase("X")[0]
	y := g.ByPhase("Y")[0]
	assert.ElementsMatch(t, []string{"Y", "Z"}, keys(g.FindRelated(x)))

	// Marker membership is mutual.
	assert.Contains(t, keys(g.FindRelated(y)), "X")
	for marker, group := range g.GetMap() {
		for _, m := range group {
			assert.Equal(t, marker, m.Marker)
			for _, other := range group {
				if other != m {
					assert.Contains(t, g.FindRelated(m), other)
				}
			}
		}
	}
	assert.Len(t, g.GetMap()["audio"], 2)
	assert.Len(t, g.GetMap()["video"], 1)
}

func TestGraph_FindRelated_Dedup(t *testing.T) {
	// P is both marker peer and dependency of Q.
	g := buildGraph(t, map[string]string{
		"p.go": "// AI_PHASE: P\n// AI_STATUS: FIXED\n// AI_BREADCRUMB: m\n",
		"q.go": "// AI_PHASE: Q\n// AI_STATUS: PARTIAL\n// AI_BREADCRUMB: m\n// AI_DEPENDENCIES: P, Q\n",
	})
	q := g.ByPhase("Q")[0]
	assert.Equal(t, []string{"P"}, keys(g.FindRelated(q)))
	assert.Nil(t, g.FindRelated(nil))
}

func TestGraph_PhaseMapsToMany(t *testing.T) {
	g := buildGraph(t, map[string]string{
		"a.go": "// AI_PHASE: NET\n// AI_STATUS: FIXED\n\nfunc a(){}\n// AI_PHASE: NET\n// AI_STATUS: PARTIAL\n",
		"b.go": "// AI_PHASE: API\n// AI_STATUS: NOT_STARTED\n// AI_DEPENDENCIES: NET\n",
	})
	api := g.ByPhase("API")[0]
	assert.Len(t, g.FindRelated(api), 2)
	assert.False(t, g.DependenciesSatisfied(api))

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeDependsOn, edges[0].Type)
	assert.Equal(t, "NET", edges[0].Target)
	assert.Equal(t, Key{File: "b.go", Line: 1}, edges[0].Source)
}

func TestGraph_AddReplacesSameLocation(t *testing.T) {
	g := NewGraph()
	g.Add(&Breadcrumb{File: "f", Line: 1, Phase: "OLD", Marker: "m"})
	g.Add(&Breadcrumb{File: "f", Line: 1, Phase: "NEW", Marker: "n"})

	assert.Equal(t, 1, g.Len())
	assert.Empty(t, g.ByPhase("OLD"))
	assert.NotContains(t, g.GetMap(), "m")
	bc, ok := g.Get(Key{File: "f", Line: 1})
	require.True(t, ok)
	assert.Equal(t, "NEW", bc.Phase)
}

func TestGraph_Lookup(t *testing.T) {
	g := NewGraph()
	g.Add(&Breadcrumb{File: "dir/f.go", Line: 12, Phase: "P"})

	bc, err := g.Lookup("dir/f.go:12")
	require.NoError(t, err)
	assert.Equal(t, "P", bc.Phase)

	_, err = g.Lookup("dir/f.go:13")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = g.Lookup("nocolon")
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = g.Lookup("f:abc")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestGraph_Ready(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := buildGraph(t, map[string]string{
		"base.go":    "// AI_PHASE: BASE\n// AI_STATUS: IMPLEMENTED\n",
		"low.go":     "// AI_PHASE: LOW_PRI\n// AI_STATUS: NOT_STARTED\n// AI_PRIORITY: 2\n// AI_DEPENDENCIES: BASE\n",
		"high.go":    "// AI_PHASE: HIGH_PRI\n// AI_STATUS: PARTIAL\n// AI_PRIORITY: 9\n",
		"blocked.go": "// AI_PHASE: BLOCKED\n// AI_STATUS: NOT_STARTED\n// AI_DEPENDENCIES: HIGH_PRI\n",
		"unknown.go": "// AI_PHASE: ORPHAN\n// AI_STATUS: NOT_STARTED\n// AI_DEPENDENCIES: MISSING\n",
		"claimed.go": "// AI_PHASE: CLAIMED\n// AI_STATUS: NOT_STARTED\n// AI_ASSIGNED_TO: bot\n// AI_TIMEOUT: 2025-06-01T13:00:00Z\n",
		"expired.go": "// AI_PHASE: EXPIRED\n// AI_STATUS: NOT_STARTED\n// AI_PRIORITY: 1\n// AI_ASSIGNED_TO: bot\n// AI_TIMEOUT: 2025-06-01T11:00:00Z\n",
		"spent.go":   "// AI_PHASE: SPENT\n// AI_STATUS: PARTIAL\n// AI_RETRY_COUNT: 3\n// AI_MAX_RETRIES: 3\n",
	})

	assert.Equal(t, []string{"HIGH_PRI", "LOW_PRI", "EXPIRED"}, keys(g.Ready(now)))
}
