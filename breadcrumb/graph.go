package breadcrumb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Graph indexes breadcrumbs by location with secondary indexes by marker, phase, external
// reference tag and the phase names their relationship lists mention.
type Graph struct {
	mu sync.RWMutex

	byKey    map[Key]*Breadcrumb
	byMarker map[string][]*Breadcrumb
	byPhase  map[string][]*Breadcrumb
	byRef    map[string][]*Breadcrumb

	// dependents maps a phase name to the breadcrumbs listing it in AI_DEPENDENCIES.
	dependents map[string][]*Breadcrumb
	// blockers maps a phase name to the breadcrumbs listing it in AI_BLOCKS.
	blockers map[string][]*Breadcrumb

	warnings []Warning
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byKey:      make(map[Key]*Breadcrumb),
		byMarker:   make(map[string][]*Breadcrumb),
		byPhase:    make(map[string][]*Breadcrumb),
		byRef:      make(map[string][]*Breadcrumb),
		dependents: make(map[string][]*Breadcrumb),
		blockers:   make(map[string][]*Breadcrumb),
	}
}

// AddResult indexes every breadcrumb and warning from a parse result.
func (g *Graph) AddResult(r *ParseResult) {
	if r == nil {
		return
	}
	for _, bc := range r.Breadcrumbs {
		g.Add(bc)
	}
	g.mu.Lock()
	g.warnings = append(g.warnings, r.Warnings...)
	g.mu.Unlock()
}

// Add indexes bc, replacing any breadcrumb already at the same location.
func (g *Graph) Add(bc *Breadcrumb) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := bc.Key()
	if old, ok := g.byKey[key]; ok {
		g.unindex(old)
	}
	g.byKey[key] = bc

	if bc.Marker != "" {
		g.byMarker[bc.Marker] = append(g.byMarker[bc.Marker], bc)
	}
	g.byPhase[bc.Phase] = append(g.byPhase[bc.Phase], bc)
	if bc.Ref != "" {
		g.byRef[bc.Ref] = append(g.byRef[bc.Ref], bc)
	}
	for _, dep := range bc.Dependencies {
		g.dependents[dep] = append(g.dependents[dep], bc)
	}
	for _, blk := range bc.Blocks {
		g.blockers[blk] = append(g.blockers[blk], bc)
	}
}

func (g *Graph) unindex(bc *Breadcrumb) {
	drop := func(m map[string][]*Breadcrumb, name string) {
		list := m[name]
		for i, x := range list {
			if x == bc {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(m, name)
		} else {
			m[name] = list
		}
	}
	if bc.Marker != "" {
		drop(g.byMarker, bc.Marker)
	}
	drop(g.byPhase, bc.Phase)
	if bc.Ref != "" {
		drop(g.byRef, bc.Ref)
	}
	for _, dep := range bc.Dependencies {
		drop(g.dependents, dep)
	}
	for _, blk := range bc.Blocks {
		drop(g.blockers, blk)
	}
	delete(g.byKey, bc.Key())
}

// Len returns the number of indexed breadcrumbs.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byKey)
}

// Get returns the breadcrumb at key.
func (g *Graph) Get(key Key) (*Breadcrumb, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	bc, ok := g.byKey[key]
	return bc, ok
}

// Lookup resolves a "file:line" location.
func (g *Graph) Lookup(location string) (*Breadcrumb, error) {
	idx := strings.LastIndex(location, ":")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	line, err := strconv.Atoi(location[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	bc, ok := g.Get(Key{File: location[:idx], Line: line})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return bc, nil
}

// All returns every breadcrumb ordered by file then line.
func (g *Graph) All() []*Breadcrumb {
	g.mu.RLock()
	out := make([]*Breadcrumb, 0, len(g.byKey))
	for _, bc := range g.byKey {
		out = append(out, bc)
	}
	g.mu.RUnlock()
	sortByLocation(out)
	return out
}

// ByPhase returns the breadcrumbs declaring phase.
func (g *Graph) ByPhase(phase string) []*Breadcrumb {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedCopy(g.byPhase[phase])
}

// GetMap returns the marker groups. Breadcrumbs without a marker are not included.
func (g *Graph) GetMap() map[string][]*Breadcrumb {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]*Breadcrumb, len(g.byMarker))
	for marker, list := range g.byMarker {
		out[marker] = sortedCopy(list)
	}
	return out
}

// Edges returns every declared relationship, ordered by source location.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, bc := range g.All() {
		for _, dep := range bc.Dependencies {
			edges = append(edges, Edge{Source: bc.Key(), Target: dep, Type: EdgeDependsOn})
		}
		for _, blk := range bc.Blocks {
			edges = append(edges, Edge{Source: bc.Key(), Target: blk, Type: EdgeBlocks})
		}
	}
	return edges
}

// Warnings returns the parse warnings collected for this graph.
func (g *Graph) Warnings() []Warning {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Warning, len(g.warnings))
	copy(out, g.warnings)
	return out
}

// FindRelated returns the single-hop neighbourhood of bc, deduplicated and excluding bc:
// breadcrumbs sharing its marker, breadcrumbs whose phase bc depends on or blocks, breadcrumbs
// that depend on or block bc's phase, and breadcrumbs sharing its external reference tag.
// Callers wanting the transitive closure apply it repeatedly, see Closure.
func (g *Graph) FindRelated(bc *Breadcrumb) []*Breadcrumb {
	if bc == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	self := bc.Key()
	seen := map[Key]bool{self: true}
	var out []*Breadcrumb
	add := func(list []*Breadcrumb) {
		for _, x := range list {
			k := x.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, x)
		}
	}

	if bc.Marker != "" {
		add(g.byMarker[bc.Marker])
	}
	for _, dep := range bc.Dependencies {
		add(g.byPhase[dep])
	}
	for _, blk := range bc.Blocks {
		add(g.byPhase[blk])
	}
	add(g.dependents[bc.Phase])
	add(g.blockers[bc.Phase])
	if bc.Ref != "" {
		add(g.byRef[bc.Ref])
	}

	sortByLocation(out)
	return out
}

// Closure applies FindRelated until no new breadcrumbs appear.
func (g *Graph) Closure(bc *Breadcrumb) []*Breadcrumb {
	if bc == nil {
		return nil
	}
	seen := map[Key]bool{bc.Key(): true}
	queue := []*Breadcrumb{bc}
	var out []*Breadcrumb
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, x := range g.FindRelated(cur) {
			if seen[x.Key()] {
				continue
			}
			seen[x.Key()] = true
			out = append(out, x)
			queue = append(queue, x)
		}
	}
	sortByLocation(out)
	return out
}

// DependenciesSatisfied reports whether every phase bc depends on is known and finished.
// Unknown phases count as unsatisfied.
func (g *Graph) DependenciesSatisfied(bc *Breadcrumb) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, dep := range bc.Dependencies {
		list := g.byPhase[dep]
		if len(list) == 0 {
			return false
		}
		for _, x := range list {
			if !x.Status.Done() {
				return false
			}
		}
	}
	return true
}

// Ready returns unfinished, unclaimed breadcrumbs whose dependencies are satisfied, ordered
// by priority (highest first) then location.
func (g *Graph) Ready(now time.Time) []*Breadcrumb {
	var out []*Breadcrumb
	for _, bc := range g.All() {
		if bc.Status.Done() || bc.Claimed(now) {
			continue
		}
		if bc.MaxRetries > 0 && bc.RetryCount >= bc.MaxRetries {
			continue
		}
		if !g.DependenciesSatisfied(bc) {
			continue
		}
		out = append(out, bc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func sortedCopy(list []*Breadcrumb) []*Breadcrumb {
	out := make([]*Breadcrumb, len(list))
	copy(out, list)
	sortByLocation(out)
	return out
}

func sortByLocation(list []*Breadcrumb) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].File != list[j].File {
			return list[i].File < list[j].File
		}
		return list[i].Line < list[j].Line
	})
}
