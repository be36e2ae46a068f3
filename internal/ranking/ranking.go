// Package ranking implements top-N rankings and focused views of a snapshot.
package ranking

import (
	"sort"
	"strings"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/model"
)

// Top returns the first n entries ordered by value (descending when desc is
// true), breaking ties by path ascending. n <= 0 keeps every entry. The input
// is not modified.
func Top(entries []model.RankEntry, n int, desc bool) []model.RankEntry {
	sorted := make([]model.RankEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Value != b.Value {
			if desc {
				return a.Value > b.Value
			}
			return a.Value < b.Value
		}
		return a.Path < b.Path
	})
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// SelectUnits returns a new Snapshot with only the maxUnits highest-ranked
// units and the edges among them. If maxUnits is <= 0 or >= len(units), the
// snapshot is returned unchanged. Aggregates stay corpus-wide.
func SelectUnits(snap *model.Snapshot, maxUnits int) *model.Snapshot {
	if maxUnits <= 0 || maxUnits >= len(snap.Units) {
		return snap
	}

	entries := make([]model.RankEntry, len(snap.Units))
	for i := range snap.Units {
		entries[i] = model.RankEntry{Path: snap.Units[i].Path, Value: snap.Units[i].Rank}
	}
	selected := make(map[string]struct{}, maxUnits)
	for _, e := range Top(entries, maxUnits, true) {
		selected[e.Path] = struct{}{}
	}

	return restrict(snap, selected, func(e model.DependencyEdge) bool {
		_, srcOK := selected[e.From]
		_, tgtOK := selected[e.To]
		return srcOK && tgtOK
	}, func(string) bool { return true })
}

// FilterByPath returns a new Snapshot containing units whose path contains
// substr (case-insensitive), the units they call or copy, the units that
// call or copy them, and the edges touching the matched units.
func FilterByPath(snap *model.Snapshot, substr string) *model.Snapshot {
	lower := strings.ToLower(substr)
	match := func(path string) bool {
		return strings.Contains(strings.ToLower(path), lower)
	}

	matched := make(map[string]struct{})
	for i := range snap.Units {
		if match(snap.Units[i].Path) {
			matched[snap.Units[i].Path] = struct{}{}
		}
	}

	return restrict(snap, withNeighbours(snap, matched), touching(matched), match)
}

// FilterByName returns a new Snapshot containing units whose name or program
// id contains substr (case-insensitive), the units they call or copy, the
// units that call or copy them, and the edges touching the matched units.
func FilterByName(snap *model.Snapshot, substr string) *model.Snapshot {
	upper := strings.ToUpper(substr)
	match := func(path string) bool {
		return strings.Contains(strings.ToUpper(classify.UnitName(path)), upper)
	}

	matched := make(map[string]struct{})
	for i := range snap.Units {
		u := &snap.Units[i]
		if match(u.Path) ||
			(u.Record.ProgramID != "" && strings.Contains(strings.ToUpper(u.Record.ProgramID), upper)) {
			matched[u.Path] = struct{}{}
		}
	}

	return restrict(snap, withNeighbours(snap, matched), touching(matched), match)
}

// withNeighbours returns matched plus every unit at the other end of an edge
// touching a matched unit.
func withNeighbours(snap *model.Snapshot, matched map[string]struct{}) map[string]struct{} {
	keep := make(map[string]struct{}, len(matched))
	for p := range matched {
		keep[p] = struct{}{}
	}
	for _, g := range []model.Graph{snap.CallGraph, snap.CopyGraph} {
		for _, e := range g.Edges {
			if _, ok := matched[e.From]; ok {
				keep[e.To] = struct{}{}
			}
			if _, ok := matched[e.To]; ok {
				keep[e.From] = struct{}{}
			}
		}
	}
	return keep
}

func touching(set map[string]struct{}) func(model.DependencyEdge) bool {
	return func(e model.DependencyEdge) bool {
		_, srcOK := set[e.From]
		_, tgtOK := set[e.To]
		return srcOK || tgtOK
	}
}

// restrict copies snap keeping the units in keep, their metrics, unresolved
// lists and findings, the cycles lying wholly inside keep, the edges accepted
// by keepEdge and the failed units accepted by keepFailed. Every kept edge
// must have both endpoints in keep. Aggregates stay corpus-wide.
func restrict(snap *model.Snapshot, keep map[string]struct{}, keepEdge func(model.DependencyEdge) bool, keepFailed func(string) bool) *model.Snapshot {
	out := *snap
	kept := func(p string) bool {
		_, ok := keep[p]
		return ok
	}

	out.Units = []model.Unit{}
	for i := range snap.Units {
		if kept(snap.Units[i].Path) {
			out.Units = append(out.Units, snap.Units[i])
		}
	}

	out.Metrics = []model.ComplexityMetrics{}
	for i := range snap.Metrics {
		if kept(snap.Metrics[i].Path) {
			out.Metrics = append(out.Metrics, snap.Metrics[i])
		}
	}

	edgeOK := func(e model.DependencyEdge) bool {
		return kept(e.From) && kept(e.To) && keepEdge(e)
	}
	out.CallGraph = restrictGraph(snap.CallGraph, keep, edgeOK)
	out.CopyGraph = restrictGraph(snap.CopyGraph, keep, edgeOK)

	out.UnusedCopybooks = []string{}
	for _, p := range snap.UnusedCopybooks {
		if kept(p) {
			out.UnusedCopybooks = append(out.UnusedCopybooks, p)
		}
	}

	out.Subsystems = make(map[string][]string)
	for tag, paths := range snap.Subsystems {
		for _, p := range paths {
			if kept(p) {
				out.Subsystems[tag] = append(out.Subsystems[tag], p)
			}
		}
	}

	out.Cycles = [][]string{}
	for _, cyc := range snap.Cycles {
		inside := true
		for _, p := range cyc {
			inside = inside && kept(p)
		}
		if inside {
			out.Cycles = append(out.Cycles, cyc)
		}
	}

	// Corpus-wide findings carry no path.
	out.Findings = []model.Finding{}
	for _, f := range snap.Findings {
		if f.Path == "" || kept(f.Path) {
			out.Findings = append(out.Findings, f)
		}
	}

	out.Failed = []model.FailedUnit{}
	for _, f := range snap.Failed {
		if keepFailed(f.Path) {
			out.Failed = append(out.Failed, f)
		}
	}

	return &out
}

func restrictGraph(g model.Graph, keep map[string]struct{}, keepEdge func(model.DependencyEdge) bool) model.Graph {
	out := model.Graph{
		Kind:       g.Kind,
		Edges:      []model.DependencyEdge{},
		Unresolved: make(map[string][]string),
	}
	for _, e := range g.Edges {
		if keepEdge(e) {
			out.Edges = append(out.Edges, e)
		}
	}
	for p, targets := range g.Unresolved {
		if _, ok := keep[p]; ok {
			out.Unresolved[p] = targets
		}
	}
	return out
}
