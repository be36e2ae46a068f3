package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/cobolmap/internal/corpus"
	"github.com/phobologic/cobolmap/internal/graph"
	"github.com/phobologic/cobolmap/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func estate() []corpus.Input {
	return []corpus.Input{
		{Path: "stock/st010.cbl", Kind: model.Program, Text: []byte(strings.Join([]string{
			"       IDENTIFICATION DIVISION.",
			"       PROGRAM-ID. ST010.",
			"       DATA DIVISION.",
			"       WORKING-STORAGE SECTION.",
			"       01  WS-DATA.",
			"       COPY STKPARAMS.",
			"       PROCEDURE DIVISION.",
			"       AA000-MAIN.",
			"           PERFORM AA010-INIT.",
			"           CALL \"STOCKMT\" USING WS-DATA.",
			"           CALL \"NOWHERE\".",
			"           GOBACK.",
			"       AA010-INIT.",
			"           EXIT.",
		}, "\n"))},
		{Path: "common/stockMT.cbl", Kind: model.Program, Text: []byte("       PROGRAM-ID. STOCKMT.\n       COPY FDSTOCK.\n")},
		{Path: "copybooks/stkparams.cpy", Kind: model.Copybook, Text: []byte("       01  STK-PARAMS.\n")},
		{Path: "copybooks/fdstock.cpy", Kind: model.Copybook, Text: []byte("       FD  STOCK-FILE.\n")},
		{Path: "copybooks/unusedcpy.cpy", Kind: model.Copybook, Text: []byte("       01  NOTHING.\n")},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	snap := Build(estate(), Options{Root: "acas", Version: "test", Workers: 2, Top: 3})

	assert.Equal(t, "acas", snap.Root)
	assert.Equal(t, "test", snap.Version)
	require.Len(t, snap.Units, 5)
	require.Len(t, snap.Metrics, 5)
	for i := range snap.Units {
		assert.Equal(t, i+1, snap.Units[i].ID)
		assert.Equal(t, snap.Units[i].Path, snap.Metrics[i].Path)
		assert.Greater(t, snap.Units[i].Rank, 0.0)
	}

	require.Len(t, snap.CallGraph.Edges, 1)
	assert.Equal(t, "common/stockMT.cbl", snap.CallGraph.Edges[0].To)
	assert.Equal(t, map[string][]string{"stock/st010.cbl": {"NOWHERE"}}, snap.CallGraph.Unresolved)
	assert.Len(t, snap.CopyGraph.Edges, 2)
	assert.Equal(t, []string{"copybooks/unusedcpy.cpy"}, snap.UnusedCopybooks)
	assert.Equal(t, []string{"stock/st010.cbl"}, snap.Subsystems["stock"])

	st010 := snap.Metrics[4]
	assert.Equal(t, "stock/st010.cbl", st010.Path)
	// 1 + 1 section + 4 paragraphs (GOBACK. and EXIT. included) + 1 perform
	assert.Equal(t, 7, st010.Cyclomatic)

	assert.Equal(t, 5, snap.Aggregates.Overall.Units)
	assert.Equal(t, map[string][]string{"MT": {"common/stockMT.cbl"}}, snap.Aggregates.DataAccess)
	assert.Len(t, snap.Aggregates.MostComplex, 2)

	assert.NotZero(t, snap.Fingerprint)
	assert.Empty(t, snap.Findings)
	assert.NotNil(t, snap.Failed)
	assert.Empty(t, snap.Failed)
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	in := estate()
	a := Build(in, Options{})
	reversed := make([]corpus.Input, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}
	b := Build(reversed, Options{})

	var bufA, bufB bytes.Buffer
	require.NoError(t, Write(&bufA, a, FormatJSON))
	require.NoError(t, Write(&bufB, b, FormatJSON))
	assert.Equal(t, bufA.String(), bufB.String())
}

func TestBuildRepeatable(t *testing.T) {
	t.Parallel()

	var in []corpus.Input
	for i := 0; i < 30; i++ {
		src := fmt.Sprintf("       PROGRAM-ID. P%d.\n           CALL \"P%d\".\n           CALL \"P%d\".\n           COPY C%d.\n",
			i, (i+1)%30, (i*7+3)%30, i%4)
		in = append(in, corpus.Input{Path: fmt.Sprintf("prog/p%d.cbl", i), Kind: model.Program, Text: []byte(src)})
	}
	for i := 0; i < 4; i++ {
		in = append(in, corpus.Input{Path: fmt.Sprintf("copy/c%d.cpy", i), Kind: model.Copybook, Text: []byte("       01  REC.\n")})
	}

	encode := func() string {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, Build(in, Options{Workers: 4}), FormatJSON))
		return buf.String()
	}
	want := encode()
	for i := 0; i < 20; i++ {
		require.Equal(t, want, encode(), "run %d", i)
	}
}

func TestBuildEmptyCorpus(t *testing.T) {
	t.Parallel()

	snap := Build(nil, Options{})
	assert.NotNil(t, snap.Units)
	assert.Empty(t, snap.Units)
	assert.Empty(t, snap.CallGraph.Edges)
	require.Len(t, snap.Findings, 1)
	assert.Equal(t, model.EmptyCorpus, snap.Findings[0].Kind)
	assert.Equal(t, model.Info, snap.Findings[0].Severity)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, snap, FormatJSON))
}

func TestRunMergesFailuresAndFindings(t *testing.T) {
	t.Parallel()

	in := append(estate(),
		corpus.Input{Path: "sales/DUP.cbl", Kind: model.Program, Text: []byte("       AA.\n       AA.\n")},
		corpus.Input{Path: "stock/dup.cbl", Kind: model.Program},
	)
	a := New(Options{Resolver: graph.Options{SuggestThreshold: 0.85}})
	snap := a.Run(in, []model.FailedUnit{{Path: "big.cbl", Stage: model.StageRead, Reason: "skipped (>1 bytes)"}})

	require.Len(t, snap.Failed, 1)
	assert.Equal(t, model.StageRead, snap.Failed[0].Stage)

	kinds := map[model.FindingKind]int{}
	for _, f := range snap.Findings {
		kinds[f.Kind]++
	}
	assert.Equal(t, 1, kinds[model.AmbiguousName])
	assert.Equal(t, 1, kinds[model.DuplicateParagraph])
	// Sorted by kind first.
	assert.Equal(t, model.AmbiguousName, snap.Findings[0].Kind)
}

func TestWriteFormats(t *testing.T) {
	t.Parallel()

	snap := Build(estate(), Options{Root: "acas", Resolver: graph.Options{SeparateNamespaces: true}})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, snap, FormatTOON))
	assert.True(t, strings.HasPrefix(buf.String(), "root: acas\n"))
	assert.Contains(t, buf.String(), "namespaces: separate")

	buf.Reset()
	require.NoError(t, Write(&buf, snap, FormatJSON))
	var decoded model.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, snap.Fingerprint, decoded.Fingerprint)
	assert.True(t, decoded.SeparateNamespaces)
	assert.Equal(t, snap.Units[0].Path, decoded.Units[0].Path)
	assert.Contains(t, buf.String(), `"call_graph"`)

	buf.Reset()
	require.NoError(t, Write(&buf, snap, FormatYAML))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &generic))
	assert.Equal(t, "acas", generic["root"])
	units, ok := generic["units"].([]any)
	require.True(t, ok)
	first, ok := units[0].(map[string]any)
	require.True(t, ok)
	// SourceUnit fields are inlined.
	assert.Equal(t, snap.Units[0].Path, first["path"])

	err := Write(&buf, snap, "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
