// Package metrics derives complexity and maintainability proxies from
// structural records, and reduces them over the corpus.
//
// The numbers are structural proxies, not control-flow or token-level
// measurements.
package metrics

import (
	"math"
	"path"
	"path/filepath"
	"sort"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/model"
	"github.com/phobologic/cobolmap/internal/ranking"
)

// DefaultTop is the length of each ranking when none is given.
const DefaultTop = 10

// operatorCount is the operator vocabulary n1: DIVISION, SECTION, PERFORM,
// CALL and COPY, whether or not a unit uses them. This is an intentional
// simplification, not a real operator count; it is kept fixed so the
// Halstead figures match the legacy analyzer's.
const operatorCount = 5

// Compute derives the metrics of one record. It has no cross-unit state.
// Path is left empty; see ComputeUnit.
func Compute(rec model.StructuralRecord, lineCount int) model.ComplexityMetrics {
	cyclomatic := 1 + len(rec.Sections) + len(rec.Paragraphs) +
		len(rec.PerformReferences) + len(rec.FileTouches)

	operands := make(map[string]struct{})
	for _, set := range [][]string{rec.Paragraphs, rec.DataItems, rec.CallReferences, rec.CopyReferences} {
		for _, s := range set {
			operands[s] = struct{}{}
		}
	}
	n1 := operatorCount
	n2 := len(operands)
	totalOperators := len(rec.Sections) + len(rec.Paragraphs) + len(rec.PerformReferences) + len(rec.CallReferences)
	totalOperands := len(rec.DataItems) + len(rec.WorkingStorageItems)

	vocabulary := n1 + n2
	length := totalOperators + totalOperands
	volume := float64(length) * math.Log2(float64(max(vocabulary, 1)))
	difficulty := (float64(n1) / 2) * (float64(totalOperands) / float64(max(n2, 1)))

	return model.ComplexityMetrics{
		Cyclomatic: cyclomatic,
		Halstead: model.Halstead{
			Vocabulary: vocabulary,
			Length:     length,
			Volume:     volume,
			Difficulty: difficulty,
			Effort:     volume * difficulty,
		},
		Maintainability: Maintainability(volume, cyclomatic, lineCount),
	}
}

// ComputeUnit computes the metrics of a unit and stamps its path.
func ComputeUnit(u model.Unit) model.ComplexityMetrics {
	m := Compute(u.Record, u.LineCount)
	m.Path = u.Path
	return m
}

// Maintainability returns the normalized maintainability index on a 0..100
// scale. It is floored at zero and never clamped above. A zero volume counts
// as ln(1).
func Maintainability(volume float64, cyclomatic, lineCount int) float64 {
	mi := 171 -
		5.2*math.Log(math.Max(volume, 1)) -
		0.23*float64(cyclomatic) -
		16.2*math.Log(float64(max(lineCount, 1)))
	return math.Max(0, mi) * 100 / 171
}

// Aggregate reduces per-unit metrics over the corpus. metrics rows are
// matched to units by path; units without a row count as zero complexity and
// zero maintainability. Rankings hold at most top entries (DefaultTop when
// top <= 0) and consider programs only.
func Aggregate(units []model.Unit, metrics []model.ComplexityMetrics, top int) model.Aggregates {
	if top <= 0 {
		top = DefaultTop
	}
	byPath := make(map[string]model.ComplexityMetrics, len(metrics))
	for _, m := range metrics {
		byPath[m.Path] = m
	}

	agg := model.Aggregates{
		BySubsystem:  make(map[string]model.Summary),
		ByKind:       make(map[model.UnitKind]model.Summary),
		MainPrograms: []string{},
		DataAccess:   make(map[string][]string),
		NamePatterns: make(map[string]int),
	}

	overall := &accumulator{}
	subsystems := make(map[string]*accumulator)
	kinds := make(map[model.UnitKind]*accumulator)

	var cyclo, maintainable, largest, deps, central []model.RankEntry

	for i := range units {
		u := &units[i]
		m := byPath[u.Path]

		overall.add(u, m)
		acc(subsystems, u.Subsystem).add(u, m)
		acc(kinds, u.Kind).add(u, m)

		if u.Kind != model.Program {
			continue
		}
		cyclo = append(cyclo, model.RankEntry{Path: u.Path, Value: float64(m.Cyclomatic)})
		maintainable = append(maintainable, model.RankEntry{Path: u.Path, Value: m.Maintainability})
		largest = append(largest, model.RankEntry{Path: u.Path, Value: float64(u.LineCount)})
		deps = append(deps, model.RankEntry{
			Path:  u.Path,
			Value: float64(len(u.Record.CallReferences) + len(u.Record.CopyReferences)),
		})
		central = append(central, model.RankEntry{Path: u.Path, Value: u.Rank})

		if classify.IsMainProgram(u.Path) {
			agg.MainPrograms = append(agg.MainPrograms, u.Path)
		}
		if role := classify.DataAccessRole(u.Path); role != "" {
			agg.DataAccess[role] = append(agg.DataAccess[role], u.Path)
		}
		agg.NamePatterns[classify.NamePattern(baseName(u.Path))]++
	}

	agg.Overall = overall.summary()
	for tag, a := range subsystems {
		agg.BySubsystem[tag] = a.summary()
	}
	for kind, a := range kinds {
		agg.ByKind[kind] = a.summary()
	}

	agg.MostComplex = ranking.Top(cyclo, top, true)
	agg.LeastMaintainable = ranking.Top(maintainable, top, false)
	agg.Largest = ranking.Top(largest, top, true)
	agg.MostDependencies = ranking.Top(deps, top, true)
	agg.MostCentral = ranking.Top(central, top, true)

	sort.Strings(agg.MainPrograms)
	for role := range agg.DataAccess {
		sort.Strings(agg.DataAccess[role])
	}
	return agg
}

type accumulator struct {
	s               model.Summary
	complexity      float64
	maintainability float64
}

func acc[K comparable](m map[K]*accumulator, key K) *accumulator {
	a, ok := m[key]
	if !ok {
		a = &accumulator{}
		m[key] = a
	}
	return a
}

func (a *accumulator) add(u *model.Unit, m model.ComplexityMetrics) {
	a.s.Units++
	switch u.Kind {
	case model.Program:
		a.s.Programs++
	case model.Copybook:
		a.s.Copybooks++
	}
	a.s.TotalLines += u.LineCount
	a.s.TotalBytes += u.ByteSize
	if len(u.Record.CallReferences) > 0 {
		a.s.WithCalls++
	}
	if len(u.Record.CopyReferences) > 0 {
		a.s.WithCopies++
	}
	a.complexity += float64(m.Cyclomatic)
	a.maintainability += m.Maintainability
}

func (a *accumulator) summary() model.Summary {
	s := a.s
	if s.Units > 0 {
		s.AvgComplexity = a.complexity / float64(s.Units)
		s.AvgMaintainability = a.maintainability / float64(s.Units)
	}
	return s
}

func baseName(p string) string {
	return path.Base(filepath.ToSlash(p))
}
