// Package snapshot runs the full analysis pipeline and encodes its result.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/corpus"
	"github.com/phobologic/cobolmap/internal/graph"
	"github.com/phobologic/cobolmap/internal/metrics"
	"github.com/phobologic/cobolmap/internal/model"
	"github.com/phobologic/cobolmap/internal/toon"
)

// Output formats accepted by Write.
const (
	FormatTOON = "toon"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists every supported output format.
var Formats = []string{FormatTOON, FormatJSON, FormatYAML}

// Options configures an Analyzer.
type Options struct {
	Root       string
	Version    string
	Classifier *classify.Classifier
	Workers    int
	CacheSize  int
	Top        int
	Resolver   graph.Options
	Logger     *slog.Logger
}

// Analyzer turns inputs into snapshots. It keeps the extraction cache
// between runs, so repeated analyses of a mostly unchanged estate only
// re-extract changed files.
type Analyzer struct {
	opts    Options
	builder *corpus.Builder
}

// New returns an Analyzer for opts.
func New(opts Options) *Analyzer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.Default()
	}
	if opts.Resolver.Logger == nil {
		opts.Resolver.Logger = opts.Logger
	}
	return &Analyzer{
		opts: opts,
		builder: &corpus.Builder{
			Classifier: opts.Classifier,
			Workers:    opts.Workers,
			CacheSize:  opts.CacheSize,
			Logger:     opts.Logger,
		},
	}
}

// Build runs one analysis with a fresh Analyzer.
func Build(inputs []corpus.Input, opts Options) *model.Snapshot {
	return New(opts).Run(inputs, nil)
}

// Run extracts, resolves and measures inputs. readFailures are units that
// never made it into inputs; they are carried into the snapshot's failed
// list.
func (a *Analyzer) Run(inputs []corpus.Input, readFailures []model.FailedUnit) *model.Snapshot {
	logger := a.opts.Logger

	c := a.builder.Build(inputs)
	res := graph.Resolve(c, a.opts.Resolver)

	failed := make(map[string]struct{}, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Path] = struct{}{}
	}
	units := make([]model.Unit, 0, len(c.Units))
	for _, u := range c.Units {
		if _, ok := failed[u.Path]; ok {
			continue
		}
		u.Rank = res.Ranks[u.Path]
		units = append(units, u)
	}

	snap := &model.Snapshot{
		Version:            a.opts.Version,
		Root:               a.opts.Root,
		Fingerprint:        fingerprint(units),
		SeparateNamespaces: a.opts.Resolver.SeparateNamespaces,
		Units:              units,
		Metrics:            a.measure(units),
		CallGraph:          res.CallGraph,
		CopyGraph:          res.CopyGraph,
		UnusedCopybooks:    res.UnusedCopybooks,
		Subsystems:         res.Partition,
		Cycles:             res.Cycles,
	}
	snap.Aggregates = metrics.Aggregate(units, snap.Metrics, a.opts.Top)

	snap.Findings = append(snap.Findings, c.Findings...)
	snap.Findings = append(snap.Findings, res.Findings...)
	if len(units) == 0 {
		snap.Findings = append(snap.Findings, model.Finding{
			Kind:     model.EmptyCorpus,
			Severity: model.Info,
			Message:  "no units to analyze",
		})
	}
	sortFindings(snap.Findings)
	if snap.Findings == nil {
		snap.Findings = []model.Finding{}
	}

	snap.Failed = append(snap.Failed, readFailures...)
	snap.Failed = append(snap.Failed, c.Failed...)
	snap.Failed = append(snap.Failed, res.Failed...)
	sort.SliceStable(snap.Failed, func(i, j int) bool {
		return snap.Failed[i].Path < snap.Failed[j].Path
	})
	if snap.Failed == nil {
		snap.Failed = []model.FailedUnit{}
	}

	logger.Info("analysis complete",
		"units", len(snap.Units),
		"failed", len(snap.Failed),
		"findings", len(snap.Findings))
	return snap
}

// measure computes per-unit metrics on a bounded pool. Row i belongs to
// units[i].
func (a *Analyzer) measure(units []model.Unit) []model.ComplexityMetrics {
	rows := make([]model.ComplexityMetrics, len(units))
	workers := a.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range units {
		g.Go(func() error {
			rows[i] = metrics.ComputeUnit(units[i])
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

// fingerprint hashes unit fingerprints in path order.
func fingerprint(units []model.Unit) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for i := range units {
		_, _ = d.WriteString(units[i].Path)
		binary.LittleEndian.PutUint64(buf[:], units[i].Fingerprint)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func sortFindings(fs []model.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Kind != fs[j].Kind {
			return fs[i].Kind < fs[j].Kind
		}
		if fs[i].Path != fs[j].Path {
			return fs[i].Path < fs[j].Path
		}
		return fs[i].Name < fs[j].Name
	})
}

// Write encodes snap to w in the given format.
func Write(w io.Writer, snap *model.Snapshot, format string) error {
	switch format {
	case FormatTOON, "":
		_, err := fmt.Fprintln(w, toon.Encode(snap))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
