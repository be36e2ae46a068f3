package metrics

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/cobolmap/internal/model"
)

func names(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('A'+i))
	}
	return out
}

func TestCyclomaticScenario(t *testing.T) {
	t.Parallel()

	rec := model.StructuralRecord{
		Sections:          names("S", 2),
		Paragraphs:        names("P", 5),
		PerformReferences: names("P", 3),
		FileTouches:       []string{"STOCK-FILE"},
	}
	assert.Equal(t, 12, Compute(rec, 40).Cyclomatic)
}

func TestHalsteadProxy(t *testing.T) {
	t.Parallel()

	rec := model.StructuralRecord{
		Sections:            names("S", 2),
		Paragraphs:          names("P", 5),
		PerformReferences:   names("P", 3),
		FileTouches:         []string{"STOCK-FILE"},
		DataItems:           []string{"WS-A", "LS-B"},
		WorkingStorageItems: []string{"WS-A"},
		CallReferences:      []string{"MAPS04"},
		CopyReferences:      []string{"WSSTOCK"},
	}
	m := Compute(rec, 100)

	// n2 = 5 paragraphs + 2 data items + 1 call + 1 copy
	assert.Equal(t, 5+9, m.Halstead.Vocabulary)
	// N1 = 2+5+3+1, N2 = 2+1
	assert.Equal(t, 14, m.Halstead.Length)

	volume := 14 * math.Log2(14)
	difficulty := 2.5 * (3.0 / 9.0)
	assert.InDelta(t, volume, m.Halstead.Volume, 1e-9)
	assert.InDelta(t, difficulty, m.Halstead.Difficulty, 1e-9)
	assert.InDelta(t, volume*difficulty, m.Halstead.Effort, 1e-9)

	mi := (171 - 5.2*math.Log(volume) - 0.23*12 - 16.2*math.Log(100)) * 100 / 171
	assert.InDelta(t, mi, m.Maintainability, 1e-9)
}

func TestOperandUnionIsExact(t *testing.T) {
	t.Parallel()

	// The same name as paragraph and data item counts once.
	rec := model.StructuralRecord{
		Paragraphs: []string{"X"},
		DataItems:  []string{"X"},
	}
	assert.Equal(t, 6, Compute(rec, 1).Halstead.Vocabulary)
}

func TestEmptyRecord(t *testing.T) {
	t.Parallel()

	m := Compute(model.StructuralRecord{}, 1)
	assert.Equal(t, 1, m.Cyclomatic)
	assert.Equal(t, 5, m.Halstead.Vocabulary)
	assert.Zero(t, m.Halstead.Length)
	assert.Zero(t, m.Halstead.Volume)
	assert.Zero(t, m.Halstead.Difficulty)
	assert.InDelta(t, (171-0.23)*100/171, m.Maintainability, 1e-9)

	// Stays encodable.
	_, err := json.Marshal(m)
	require.NoError(t, err)
}

func TestMaintainabilityFloor(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Maintainability(1e12, 500, 1_000_000_000))
	assert.Greater(t, Maintainability(0, 1, 0), 99.0)
	assert.Equal(t, Maintainability(0, 1, 0), Maintainability(1, 1, 1))
}

func TestComputeUnit(t *testing.T) {
	t.Parallel()

	u := model.Unit{SourceUnit: model.SourceUnit{Path: "sales/sl010.cbl", LineCount: 10}}
	m := ComputeUnit(u)
	assert.Equal(t, "sales/sl010.cbl", m.Path)
	assert.Equal(t, Compute(u.Record, 10), model.ComplexityMetrics{
		Cyclomatic:      m.Cyclomatic,
		Halstead:        m.Halstead,
		Maintainability: m.Maintainability,
	})
}

func aggUnit(path, subsystem string, kind model.UnitKind, lines int, calls, copies []string, rank float64) model.Unit {
	return model.Unit{
		SourceUnit: model.SourceUnit{
			Path:      path,
			Kind:      kind,
			Subsystem: subsystem,
			LineCount: lines,
			ByteSize:  lines * 10,
		},
		Record: model.StructuralRecord{Kind: kind, CallReferences: calls, CopyReferences: copies},
		Rank:   rank,
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	units := []model.Unit{
		aggUnit("common/ACAS.cbl", "common", model.Program, 50, []string{"SALES"}, nil, 0.1),
		aggUnit("common/stockMT.cbl", "common", model.Program, 200, nil, []string{"FDSTOCK"}, 0.2),
		aggUnit("copy/fdstock.cpy", "common", model.Copybook, 20, nil, nil, 0.4),
		aggUnit("sales/sl010.cbl", "sales", model.Program, 200, []string{"A", "B"}, []string{"C"}, 0.2),
		aggUnit("sales/sl020.cbl", "sales", model.Program, 100, nil, nil, 0.1),
	}
	metrics := []model.ComplexityMetrics{
		{Path: "common/ACAS.cbl", Cyclomatic: 4, Maintainability: 60},
		{Path: "common/stockMT.cbl", Cyclomatic: 8, Maintainability: 40},
		{Path: "copy/fdstock.cpy", Cyclomatic: 1, Maintainability: 90},
		{Path: "sales/sl010.cbl", Cyclomatic: 8, Maintainability: 40},
		{Path: "sales/sl020.cbl", Cyclomatic: 2, Maintainability: 70},
	}

	agg := Aggregate(units, metrics, 2)

	o := agg.Overall
	assert.Equal(t, 5, o.Units)
	assert.Equal(t, 4, o.Programs)
	assert.Equal(t, 1, o.Copybooks)
	assert.Equal(t, 570, o.TotalLines)
	assert.Equal(t, 5700, o.TotalBytes)
	assert.Equal(t, 2, o.WithCalls)
	assert.Equal(t, 2, o.WithCopies)
	assert.InDelta(t, 23.0/5, o.AvgComplexity, 1e-9)
	assert.InDelta(t, 300.0/5, o.AvgMaintainability, 1e-9)

	sales := agg.BySubsystem["sales"]
	assert.Equal(t, 2, sales.Units)
	assert.InDelta(t, 5.0, sales.AvgComplexity, 1e-9)
	assert.Equal(t, 3, agg.BySubsystem["common"].Units)
	assert.Equal(t, 1, agg.ByKind[model.Copybook].Units)

	// Ties break by path; copybooks never rank.
	assert.Equal(t, []model.RankEntry{
		{Path: "common/stockMT.cbl", Value: 8},
		{Path: "sales/sl010.cbl", Value: 8},
	}, agg.MostComplex)
	assert.Equal(t, []model.RankEntry{
		{Path: "common/stockMT.cbl", Value: 40},
		{Path: "sales/sl010.cbl", Value: 40},
	}, agg.LeastMaintainable)
	assert.Equal(t, "common/stockMT.cbl", agg.Largest[0].Path)
	assert.Equal(t, model.RankEntry{Path: "sales/sl010.cbl", Value: 3}, agg.MostDependencies[0])
	assert.Equal(t, []model.RankEntry{
		{Path: "common/stockMT.cbl", Value: 0.2},
		{Path: "sales/sl010.cbl", Value: 0.2},
	}, agg.MostCentral)

	assert.Equal(t, []string{"common/ACAS.cbl"}, agg.MainPrograms)
	assert.Equal(t, map[string][]string{"MT": {"common/stockMT.cbl"}}, agg.DataAccess)
	assert.Equal(t, map[string]int{"ACAS.cbl": 1, "stockMT.cbl": 1, "slXXX.cbl": 2}, agg.NamePatterns)
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	agg := Aggregate(nil, nil, 0)
	assert.Zero(t, agg.Overall.Units)
	assert.Zero(t, agg.Overall.AvgComplexity)
	assert.NotNil(t, agg.MostComplex)
	assert.Empty(t, agg.MostComplex)
	assert.Empty(t, agg.BySubsystem)
	assert.NotNil(t, agg.MainPrograms)
}
