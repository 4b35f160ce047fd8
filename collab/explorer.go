// Package collab provides local, deterministic collaborators for the iteration loop: an
// explorer over the repository and its breadcrumbs, a compiler that runs a build command,
// and rule-based reasoner, generator and reviewer implementations.
package collab

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semloop/orchestrator"
)

const defaultMaxFiles = 20

// GlobExplorer answers exploration queries from the repository tree and the breadcrumb
// graph. Files are selected when their path mentions a query keyword.
type GlobExplorer struct {
	fsys    fs.FS
	include []string
	exclude []string
	graph   orchestrator.GraphSource
	max     int
}

// NewGlobExplorer creates an explorer rooted at root. include and exclude are doublestar
// patterns relative to root; graph may be nil.
func NewGlobExplorer(root string, include, exclude []string, graph orchestrator.GraphSource) *GlobExplorer {
	return newGlobExplorer(os.DirFS(root), include, exclude, graph)
}

func newGlobExplorer(fsys fs.FS, include, exclude []string, graph orchestrator.GraphSource) *GlobExplorer {
	if len(include) == 0 {
		include = []string{"**/*"}
	}
	return &GlobExplorer{fsys: fsys, include: include, exclude: exclude, graph: graph, max: defaultMaxFiles}
}

// Explore implements orchestrator.Explorer.
func (e *GlobExplorer) Explore(ctx context.Context, q orchestrator.Query) (orchestrator.Exploration, error) {
	keywords := keywords(q.Text)
	selected := map[string]bool{}
	var files []string
	add := func(path string) {
		if !selected[path] && len(files) < e.max {
			selected[path] = true
			files = append(files, path)
		}
	}
	for _, f := range q.Files {
		add(f)
	}

	for _, pattern := range e.include {
		if err := ctx.Err(); err != nil {
			return orchestrator.Exploration{}, err
		}
		matches, err := doublestar.Glob(e.fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return orchestrator.Exploration{}, fmt.Errorf("glob %s: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if e.excluded(m) {
				continue
			}
			lower := strings.ToLower(m)
			for _, k := range keywords {
				if strings.Contains(lower, k) {
					add(m)
					break
				}
			}
		}
	}

	return orchestrator.Exploration{Insights: e.insights(files, q.Phases), Files: files}, nil
}

func (e *GlobExplorer) excluded(path string) bool {
	for _, p := range e.exclude {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// insights describes the breadcrumbs found in the selected files and the state of the
// related phases.
func (e *GlobExplorer) insights(files, phases []string) []string {
	if e.graph == nil {
		return nil
	}
	g := e.graph.Current()
	if g == nil {
		return nil
	}
	inFiles := map[string]bool{}
	for _, f := range files {
		inFiles[f] = true
	}
	var out []string
	for _, bc := range g.All() {
		if inFiles[bc.File] {
			out = append(out, fmt.Sprintf("%s: %s is %s", bc.Key(), bc.Phase, bc.Status))
		}
	}
	for _, phase := range phases {
		for _, bc := range g.ByPhase(phase) {
			if !inFiles[bc.File] && !bc.Status.Done() {
				out = append(out, fmt.Sprintf("related phase %s is still %s", phase, bc.Status))
			}
		}
	}
	return out
}

// keywords returns the distinct lowercase words of at least four letters in text.
func keywords(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		if len(w) >= 4 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

var _ orchestrator.Explorer = (*GlobExplorer)(nil)
