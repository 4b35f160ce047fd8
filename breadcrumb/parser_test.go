package breadcrumb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullBlock(t *testing.T) {
	content := `package render

// AI_PHASE: SHADER_COMPILATION
// AI_STATUS: PARTIAL
// AI_BREADCRUMB: renderer
// AI_PATTERN: cache_then_compile
// AI_STRATEGY: compile shaders lazily
// AI_PRIORITY: 8
// AI_COMPLEXITY: HIGH
// AI_DEPENDENCIES: GPU_INIT, SHADER_LOADING, GPU_INIT
// AI_BLOCKS: MATERIAL_SYSTEM
// AI_REF: GH-42
// AI_ASSIGNED_TO: worker-1
// AI_CLAIMED_AT: 2025-01-02T03:04:05Z
// AI_TIMEOUT: 2025-01-02T04:04:05Z
// AI_RETRY_COUNT: 1
// AI_MAX_RETRIES: 3
func CompileShaders() {}
`
	res, err := ParseString("render/shader.go", content)
	require.NoError(t, err)
	require.Len(t, res.Breadcrumbs, 1)
	assert.Empty(t, res.Warnings)

	bc := res.Breadcrumbs[0]
	assert.Equal(t, "render/shader.go", bc.File)
	assert.Equal(t, 3, bc.Line)
	assert.Equal(t, 17, bc.EndLine)
	assert.Equal(t, "SHADER_COMPILATION", bc.Phase)
	assert.Equal(t, StatusPartial, bc.Status)
	assert.Equal(t, "renderer", bc.Marker)
	assert.Equal(t, "cache_then_compile", bc.Pattern)
	assert.Equal(t, "compile shaders lazily", bc.Strategy)
	assert.Equal(t, 8, bc.Priority)
	assert.Equal(t, ComplexityHigh, bc.Complexity)
	assert.Equal(t, []string{"GPU_INIT", "SHADER_LOADING"}, bc.Dependencies)
	assert.Equal(t, []string{"MATERIAL_SYSTEM"}, bc.Blocks)
	assert.Equal(t, "GH-42", bc.Ref)
	assert.Equal(t, "worker-1", bc.AssignedTo)
	require.NotNil(t, bc.ClaimedAt)
	require.NotNil(t, bc.Timeout)
	assert.Equal(t, 2025, bc.ClaimedAt.Year())
	assert.Equal(t, 1, bc.RetryCount)
	assert.Equal(t, 3, bc.MaxRetries)
}

func TestParse_CommentStyles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"hash", "# AI_PHASE: P\n# AI_STATUS: FIXED\n"},
		{"dash", "-- AI_PHASE: P\n-- AI_STATUS: FIXED\n"},
		{"block", "/* AI_PHASE: P */\n * AI_STATUS: FIXED\n"},
		{"html", "<!-- AI_PHASE: P -->\n<!-- AI_STATUS: FIXED -->\n"},
		{"semicolon", ";; AI_PHASE: P\n;; AI_STATUS: FIXED\n"},
		{"bare", "AI_PHASE: P\nAI_STATUS: FIXED\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseString("f", tt.content)
			require.NoError(t, err)
			require.Len(t, res.Breadcrumbs, 1)
			assert.Equal(t, "P", res.Breadcrumbs[0].Phase)
			assert.Equal(t, StatusFixed, res.Breadcrumbs[0].Status)
		})
	}
}

func TestParse_SeparateBlocks(t *testing.T) {
	content := `# AI_PHASE: A
# AI_STATUS: IMPLEMENTED
def a(): pass

# AI_PHASE: B
# AI_STATUS: NOT_STARTED
def b(): pass
`
	res, err := ParseString("m.py", content)
	require.NoError(t, err)
	require.Len(t, res.Breadcrumbs, 2)
	assert.Equal(t, "A", res.Breadcrumbs[0].Phase)
	assert.Equal(t, 1, res.Breadcrumbs[0].Line)
	assert.Equal(t, "B", res.Breadcrumbs[1].Phase)
	assert.Equal(t, 5, res.Breadcrumbs[1].Line)
	assert.Equal(t, DefaultPriority, res.Breadcrumbs[1].Priority)
	assert.Equal(t, ComplexityMedium, res.Breadcrumbs[1].EffectiveComplexity())
}

func TestParse_LongLinesWithinFileLimit(t *testing.T) {
	blob := "var table = \"" + strings.Repeat("x", maxFileSize*3/4) + "\"\n"
	content := blob + "// AI_PHASE: TABLES\n// AI_STATUS: IMPLEMENTED\n"
	require.Less(t, len(content), maxFileSize)

	res, err := ParseString("table.go", content)
	require.NoError(t, err)
	require.Len(t, res.Breadcrumbs, 1)
	assert.Equal(t, "TABLES", res.Breadcrumbs[0].Phase)
	assert.Equal(t, 2, res.Breadcrumbs[0].Line)
}

func TestParse_ValidationWarnings(t *testing.T) {
	content := `// AI_PHASE: BROKEN
// AI_STATUS: DONE
// AI_PRIORITY: 15
// AI_COMPLEXITY: EXTREME
// AI_RETRY_COUNT: many
// AI_TIMEOUT: tomorrow
// AI_COLOR: blue
`
	res, err := ParseString("x.go", content)
	require.NoError(t, err)

	// Still indexed with invalid values left as given.
	require.Len(t, res.Breadcrumbs, 1)
	bc := res.Breadcrumbs[0]
	assert.Equal(t, Status("DONE"), bc.Status)
	assert.Equal(t, 15, bc.Priority)
	assert.Equal(t, Complexity("EXTREME"), bc.Complexity)
	assert.Nil(t, bc.Timeout)

	fields := map[string]int{}
	for _, w := range res.Warnings {
		fields[w.Field] = w.Line
	}
	assert.Equal(t, 2, fields["AI_STATUS"])
	assert.Equal(t, 3, fields["AI_PRIORITY"])
	assert.Equal(t, 4, fields["AI_COMPLEXITY"])
	assert.Contains(t, fields, "AI_RETRY_COUNT")
	assert.Contains(t, fields, "AI_TIMEOUT")
	assert.Contains(t, fields, "AI_COLOR")
}

func TestParse_PriorityBounds(t *testing.T) {
	tests := []struct {
		value    string
		wantWarn bool
	}{
		{"1", false},
		{"10", false},
		{"0", true},
		{"11", true},
		{"-3", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			res, err := ParseString("f", "AI_PHASE: P\nAI_STATUS: PARTIAL\nAI_PRIORITY: "+tt.value+"\n")
			require.NoError(t, err)
			require.Len(t, res.Breadcrumbs, 1)
			assert.Equal(t, tt.wantWarn, len(res.Warnings) > 0, "warnings: %v", res.Warnings)
		})
	}
}

func TestParse_MissingRequired(t *testing.T) {
	res, err := ParseString("f", "// AI_STATUS: PARTIAL\n// AI_PRIORITY: 3\n\n// AI_PHASE: ONLY_PHASE\n")
	require.NoError(t, err)

	require.Len(t, res.Breadcrumbs, 1)
	assert.Equal(t, "ONLY_PHASE", res.Breadcrumbs[0].Phase)

	var fields []string
	for _, w := range res.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"AI_PHASE", "AI_STATUS"}, fields)
}

func TestParse_DuplicateField(t *testing.T) {
	res, err := ParseString("f", "AI_PHASE: A\nAI_PHASE: B\nAI_STATUS: FIXED\n")
	require.NoError(t, err)
	require.Len(t, res.Breadcrumbs, 1)
	assert.Equal(t, "B", res.Breadcrumbs[0].Phase)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 2, res.Warnings[0].Line)
}
