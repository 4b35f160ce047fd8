package session

import (
	"fmt"
	"reflect"
	"sort"
)

// Change is the old and new value of a key present in both checkpoints.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// KeyDiff classifies keys of two flat maps.
type KeyDiff struct {
	Added   map[string]any    `json:"added"`
	Removed map[string]any    `json:"removed"`
	Changed map[string]Change `json:"changed"`
}

// Empty reports whether nothing differs.
func (d KeyDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares two checkpoints. Keys are flattened one level: task, turn_count,
// context.<key> and iteration_context.<key>.
type Diff struct {
	KeyDiff
	IterationContext KeyDiff  `json:"iteration_context"`
	Summary          []string `json:"summary"`
}

// CompareCheckpoints diffs checkpoint a against checkpoint b.
func (m *Manager) CompareCheckpoints(a, b string) (*Diff, error) {
	left, err := m.Read(a)
	if err != nil {
		return nil, err
	}
	right, err := m.Read(b)
	if err != nil {
		return nil, err
	}
	return Compare(left, right), nil
}

// Compare diffs two loaded checkpoints.
func Compare(a, b *Checkpoint) *Diff {
	d := &Diff{
		KeyDiff:          diffMaps(flatten(a), flatten(b)),
		IterationContext: diffMaps(a.IterationContext, b.IterationContext),
	}
	d.Summary = summarize(d.KeyDiff)
	return d
}

func flatten(cp *Checkpoint) map[string]any {
	out := map[string]any{
		"task":       cp.Task,
		"turn_count": cp.TurnCount,
	}
	for k, v := range cp.Context {
		out["context."+k] = v
	}
	for k, v := range cp.IterationContext {
		out["iteration_context."+k] = v
	}
	return out
}

func diffMaps(a, b map[string]any) KeyDiff {
	d := KeyDiff{
		Added:   make(map[string]any),
		Removed: make(map[string]any),
		Changed: make(map[string]Change),
	}
	for k, old := range a {
		nv, ok := b[k]
		switch {
		case !ok:
			d.Removed[k] = old
		case !reflect.DeepEqual(old, nv):
			d.Changed[k] = Change{Old: old, New: nv}
		}
	}
	for k, nv := range b {
		if _, ok := a[k]; !ok {
			d.Added[k] = nv
		}
	}
	return d
}

func summarize(d KeyDiff) []string {
	var lines []string
	for _, k := range sortedKeys(d.Added) {
		lines = append(lines, fmt.Sprintf("added %s = %v", k, d.Added[k]))
	}
	for _, k := range sortedKeys(d.Removed) {
		lines = append(lines, fmt.Sprintf("removed %s (was %v)", k, d.Removed[k]))
	}
	changed := make([]string, 0, len(d.Changed))
	for k := range d.Changed {
		changed = append(changed, k)
	}
	sort.Strings(changed)
	for _, k := range changed {
		c := d.Changed[k]
		lines = append(lines, fmt.Sprintf("changed %s: %v -> %v", k, c.Old, c.New))
	}
	return lines
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
