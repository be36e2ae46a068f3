package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/model"
)

// Index maps upper-cased unit names (basename without extension) to unit
// paths. It is built once, before any lookup, and never modified.
type Index struct {
	separate bool
	combined map[string]string
	byKind   map[model.UnitKind]map[string]string
}

// BuildIndex indexes units in path order so that the lexicographically first
// path wins every name collision, regardless of input order. Each collision
// yields an ambiguous_name finding. With separate set, programs and copybooks
// are indexed in distinct namespaces and only collide within their own kind.
func BuildIndex(units []model.Unit, separate bool) (*Index, []model.Finding) {
	sorted := make([]model.Unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	idx := &Index{
		separate: separate,
		combined: make(map[string]string),
		byKind: map[model.UnitKind]map[string]string{
			model.Program:  {},
			model.Copybook: {},
		},
	}

	type collision struct {
		name   string
		winner string
		losers []string
	}
	collisions := make(map[string]*collision)
	var order []string

	for i := range sorted {
		u := &sorted[i]
		name := strings.ToUpper(classify.UnitName(u.Path))

		ns := idx.combined
		if separate {
			if idx.byKind[u.Kind] == nil {
				idx.byKind[u.Kind] = make(map[string]string)
			}
			ns = idx.byKind[u.Kind]
		}
		winner, taken := ns[name]
		if !taken {
			ns[name] = u.Path
			continue
		}
		key := name
		if separate {
			key = string(u.Kind) + ":" + name
		}
		c := collisions[key]
		if c == nil {
			c = &collision{name: name, winner: winner}
			collisions[key] = c
			order = append(order, key)
		}
		c.losers = append(c.losers, u.Path)
	}

	var findings []model.Finding
	for _, key := range order {
		c := collisions[key]
		findings = append(findings, model.Finding{
			Kind:     model.AmbiguousName,
			Severity: model.Warning,
			Path:     c.winner,
			Name:     c.name,
			Message: fmt.Sprintf("name %s is shared by %d units; resolving to %s",
				c.name, len(c.losers)+1, c.winner),
			Related: c.losers,
		})
	}
	return idx, findings
}

// Lookup resolves a reference name for an edge of the given kind. Matching is
// case-insensitive.
func (idx *Index) Lookup(name string, kind model.EdgeKind) (string, bool) {
	key := strings.ToUpper(name)
	if !idx.separate {
		p, ok := idx.combined[key]
		return p, ok
	}
	ns := idx.byKind[model.Program]
	if kind == model.CopyEdge {
		ns = idx.byKind[model.Copybook]
	}
	p, ok := ns[key]
	return p, ok
}

// Names returns the indexed names an edge of the given kind can resolve to,
// sorted.
func (idx *Index) Names(kind model.EdgeKind) []string {
	ns := idx.combined
	if idx.separate {
		ns = idx.byKind[model.Program]
		if kind == model.CopyEdge {
			ns = idx.byKind[model.Copybook]
		}
	}
	names := make([]string, 0, len(ns))
	for n := range ns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
