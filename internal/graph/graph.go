// Package graph resolves cross-unit references into call and copy graphs and
// derives corpus-level structure from them: unused copybooks, the subsystem
// partition, call cycles and PageRank centrality.
package graph

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/model"
)

// Options controls resolution.
type Options struct {
	// SeparateNamespaces resolves CALL against programs only and COPY
	// against copybooks only. By default both resolve against one combined
	// namespace.
	SeparateNamespaces bool
	// SuggestThreshold is the minimum Jaro-Winkler similarity for a
	// "did you mean" suggestion on an unresolved reference. Zero disables.
	SuggestThreshold float64
	Logger           *slog.Logger
}

// Resolution is everything the resolver derives from one corpus.
type Resolution struct {
	Index           *Index
	CallGraph       model.Graph
	CopyGraph       model.Graph
	UnusedCopybooks []string
	Partition       map[string][]string
	Cycles          [][]string
	Ranks           map[string]float64
	Findings        []model.Finding
	Failed          []model.FailedUnit
}

// Resolve runs the resolver over a corpus in one pass. The name index is
// complete before the first lookup.
func Resolve(c *model.Corpus, opts Options) *Resolution {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	units := sortedUnits(c.Units)
	idx, findings := BuildIndex(units, opts.SeparateNamespaces)

	res := &Resolution{
		Index:     idx,
		CallGraph: newGraph(model.CallEdge),
		CopyGraph: newGraph(model.CopyEdge),
		Findings:  findings,
	}

	resolved := make([]model.Unit, 0, len(units))
	for i := range units {
		u := &units[i]
		calls, copies, err := resolveUnit(idx, u)
		if err != nil {
			logger.Warn("resolution failed", "path", u.Path, "err", err)
			res.Failed = append(res.Failed, model.FailedUnit{
				Path:   u.Path,
				Stage:  model.StageResolve,
				Reason: err.Error(),
			})
			continue
		}
		addEdges(&res.CallGraph, calls)
		addEdges(&res.CopyGraph, copies)
		resolved = append(resolved, *u)
	}
	sortEdges(res.CallGraph.Edges)
	sortEdges(res.CopyGraph.Edges)

	res.UnusedCopybooks = UnusedCopybooks(resolved)
	res.Partition = Partition(resolved)

	if opts.SuggestThreshold > 0 {
		res.Findings = append(res.Findings, suggest(idx, res.CallGraph, opts.SuggestThreshold)...)
		res.Findings = append(res.Findings, suggest(idx, res.CopyGraph, opts.SuggestThreshold)...)
	}

	res.Cycles = CallCycles(resolved, res.CallGraph.Edges)
	for _, cyc := range res.Cycles {
		res.Findings = append(res.Findings, model.Finding{
			Kind:     model.CallCycle,
			Severity: model.Warning,
			Path:     cyc[0],
			Message:  fmt.Sprintf("call cycle through %d units", len(cyc)),
			Related:  cyc,
		})
	}

	all := make([]model.DependencyEdge, 0, len(res.CallGraph.Edges)+len(res.CopyGraph.Edges))
	all = append(all, res.CallGraph.Edges...)
	all = append(all, res.CopyGraph.Edges...)
	res.Ranks = Rank(resolved, all)

	logger.Debug("resolved corpus",
		"units", len(resolved),
		"calls", len(res.CallGraph.Edges),
		"copies", len(res.CopyGraph.Edges),
		"unused", len(res.UnusedCopybooks),
		"cycles", len(res.Cycles))
	return res
}

func newGraph(kind model.EdgeKind) model.Graph {
	return model.Graph{
		Kind:       kind,
		Edges:      []model.DependencyEdge{},
		Unresolved: make(map[string][]string),
	}
}

// unitEdges is one unit's resolved edges plus its unresolved targets.
type unitEdges struct {
	path       string
	edges      []model.DependencyEdge
	unresolved []string
}

func addEdges(g *model.Graph, ue unitEdges) {
	g.Edges = append(g.Edges, ue.edges...)
	if len(ue.unresolved) > 0 {
		g.Unresolved[ue.path] = ue.unresolved
	}
}

// resolveUnit looks up every CALL and COPY reference of one unit. A panic is
// reported as an error so the rest of the corpus still resolves.
func resolveUnit(idx *Index, u *model.Unit) (calls, copies unitEdges, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	calls = lookupAll(idx, u.Path, u.Record.CallReferences, model.CallEdge)
	copies = lookupAll(idx, u.Path, u.Record.CopyReferences, model.CopyEdge)
	return calls, copies, nil
}

func lookupAll(idx *Index, from string, refs []string, kind model.EdgeKind) unitEdges {
	ue := unitEdges{path: from}
	for _, ref := range refs {
		to, ok := idx.Lookup(ref, kind)
		if !ok {
			ue.unresolved = append(ue.unresolved, ref)
			continue
		}
		ue.edges = append(ue.edges, model.DependencyEdge{
			From:     from,
			Target:   ref,
			Kind:     kind,
			Resolved: true,
			To:       to,
		})
	}
	return ue
}

// UnusedCopybooks lists copybooks whose upper-cased name neither equals nor
// occurs inside any CALL or COPY reference in the corpus. Sorted by path.
// Advisory only: a prefixed spelling still counts as a use.
func UnusedCopybooks(units []model.Unit) []string {
	var refs []string
	for i := range units {
		for _, r := range units[i].Record.CallReferences {
			refs = append(refs, strings.ToUpper(r))
		}
		for _, r := range units[i].Record.CopyReferences {
			refs = append(refs, strings.ToUpper(r))
		}
	}

	unused := []string{}
	for i := range units {
		u := &units[i]
		if u.Kind != model.Copybook {
			continue
		}
		name := strings.ToUpper(classify.UnitName(u.Path))
		used := false
		for _, r := range refs {
			if strings.Contains(r, name) {
				used = true
				break
			}
		}
		if !used {
			unused = append(unused, u.Path)
		}
	}
	sort.Strings(unused)
	return unused
}

// Partition groups unit paths by subsystem tag. Paths are sorted within each
// tag.
func Partition(units []model.Unit) map[string][]string {
	part := make(map[string][]string)
	for i := range units {
		part[units[i].Subsystem] = append(part[units[i].Subsystem], units[i].Path)
	}
	for tag := range part {
		sort.Strings(part[tag])
	}
	return part
}

// suggest proposes the most similar indexed name for every unresolved target
// whose best Jaro-Winkler score reaches threshold.
func suggest(idx *Index, g model.Graph, threshold float64) []model.Finding {
	names := idx.Names(g.Kind)
	best := make(map[string]string) // target -> suggestion ("" if none)

	froms := make([]string, 0, len(g.Unresolved))
	for from := range g.Unresolved {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	var findings []model.Finding
	for _, from := range froms {
		for _, target := range g.Unresolved[from] {
			key := strings.ToUpper(target)
			s, seen := best[key]
			if !seen {
				s = closest(key, names, threshold)
				best[key] = s
			}
			if s == "" {
				continue
			}
			to, _ := idx.Lookup(s, g.Kind)
			findings = append(findings, model.Finding{
				Kind:     model.UnresolvedReference,
				Severity: model.Info,
				Path:     from,
				Name:     target,
				Message:  fmt.Sprintf("%s %s not found; did you mean %s?", strings.ToUpper(string(g.Kind)), target, s),
				Related:  []string{to},
			})
		}
	}
	return findings
}

func closest(target string, names []string, threshold float64) string {
	var (
		bestName  string
		bestScore float32
	)
	for _, n := range names {
		score, err := edlib.StringsSimilarity(target, n, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestName, bestScore = n, score
		}
	}
	if bestName == "" || float64(bestScore) < threshold {
		return ""
	}
	return bestName
}

// gonumGraph maps unit paths onto a gonum directed graph. out holds each
// node's distinct successors in ascending id order.
type gonumGraph struct {
	directed *simple.DirectedGraph
	ids      map[string]int64
	paths    []string
	out      [][]int64
}

func toGonumGraph(units []model.Unit, edges []model.DependencyEdge) *gonumGraph {
	g := &gonumGraph{
		directed: simple.NewDirectedGraph(),
		ids:      make(map[string]int64, len(units)),
		paths:    make([]string, len(units)),
		out:      make([][]int64, len(units)),
	}
	for i := range units {
		id := int64(i)
		g.ids[units[i].Path] = id
		g.paths[i] = units[i].Path
		g.directed.AddNode(simple.Node(id))
	}
	// simple graphs reject self-loops
	for _, e := range edges {
		from, fromOK := g.ids[e.From]
		to, toOK := g.ids[e.To]
		if !fromOK || !toOK || from == to || g.directed.HasEdgeFromTo(from, to) {
			continue
		}
		g.directed.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		g.out[from] = append(g.out[from], to)
	}
	for i := range g.out {
		sort.Slice(g.out[i], func(a, b int) bool { return g.out[i][a] < g.out[i][b] })
	}
	return g
}

// CallCycles returns the strongly connected components of the call graph
// that contain more than one unit, plus units that call themselves. Each
// cycle is sorted, and cycles are ordered by their first path.
func CallCycles(units []model.Unit, calls []model.DependencyEdge) [][]string {
	cycles := [][]string{}
	if len(units) == 0 {
		return cycles
	}

	g := toGonumGraph(units, calls)
	for _, scc := range topo.TarjanSCC(g.directed) {
		if len(scc) < 2 {
			continue
		}
		cyc := make([]string, len(scc))
		for i, n := range scc {
			cyc[i] = g.paths[n.ID()]
		}
		sort.Strings(cyc)
		cycles = append(cycles, cyc)
	}

	selfCalls := make(map[string]struct{})
	for _, e := range calls {
		if e.From == e.To {
			selfCalls[e.From] = struct{}{}
		}
	}
	for _, p := range sortedKeys(selfCalls) {
		cycles = append(cycles, []string{p})
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i][0] != cycles[j][0] {
			return cycles[i][0] < cycles[j][0]
		}
		return len(cycles[i]) > len(cycles[j])
	})
	return cycles
}

const (
	damping       = 0.85
	rankTolerance = 1e-12
	maxRankRounds = 1000
)

// Rank computes PageRank centrality over the given edges. Every unit gets the
// same rank when there are no edges between distinct units.
//
// The power iteration starts from the uniform vector and visits nodes in
// path order, so equal inputs always produce identical ranks. Dangling units
// spread their rank evenly. Ranks are rounded to nine decimal places.
func Rank(units []model.Unit, edges []model.DependencyEdge) map[string]float64 {
	ranks := make(map[string]float64, len(units))
	if len(units) == 0 {
		return ranks
	}

	g := toGonumGraph(units, edges)
	n := len(units)
	uniform := 1.0 / float64(n)
	if g.directed.Edges().Len() == 0 {
		for i := range units {
			ranks[units[i].Path] = uniform
		}
		return ranks
	}

	r := make([]float64, n)
	next := make([]float64, n)
	for i := range r {
		r[i] = uniform
	}
	for round := 0; round < maxRankRounds; round++ {
		dangling := 0.0
		for u := range r {
			if len(g.out[u]) == 0 {
				dangling += r[u]
			}
		}
		base := (1-damping)/float64(n) + damping*dangling/float64(n)
		for v := range next {
			next[v] = base
		}
		for u := range r {
			if len(g.out[u]) == 0 {
				continue
			}
			share := damping * r[u] / float64(len(g.out[u]))
			for _, v := range g.out[u] {
				next[v] += share
			}
		}

		delta := 0.0
		for i := range r {
			delta += math.Abs(next[i] - r[i])
		}
		r, next = next, r
		if delta < rankTolerance {
			break
		}
	}

	for i, v := range r {
		ranks[g.paths[i]] = math.Round(v*1e9) / 1e9
	}
	return ranks
}

func sortedUnits(units []model.Unit) []model.Unit {
	out := make([]model.Unit, len(units))
	copy(out, units)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

func sortEdges(edges []model.DependencyEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
