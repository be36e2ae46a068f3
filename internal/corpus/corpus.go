// Package corpus builds the in-memory corpus of extracted units.
package corpus

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/discover"
	"github.com/phobologic/cobolmap/internal/model"
	"github.com/phobologic/cobolmap/internal/parse"
)

// DefaultCacheSize is the number of extracted records kept between builds.
const DefaultCacheSize = 4096

// Input is one file handed to the aggregator.
type Input struct {
	Path string
	Text []byte
	Kind model.UnitKind
}

// ReadFiles loads discovered files under root. Files that cannot be read or
// are larger than maxSize bytes (when maxSize > 0) are returned as read
// failures instead.
func ReadFiles(root string, entries []discover.FileEntry, maxSize int, logger *slog.Logger) ([]Input, []model.FailedUnit) {
	logger = orDiscard(logger)

	var (
		inputs []Input
		failed []model.FailedUnit
	)
	for _, e := range entries {
		abs := filepath.Join(root, filepath.FromSlash(e.Path))
		fi, err := os.Stat(abs)
		if err != nil {
			logger.Warn("skipping unreadable file", "path", e.Path, "err", err)
			failed = append(failed, model.FailedUnit{Path: e.Path, Stage: model.StageRead, Reason: err.Error()})
			continue
		}
		if maxSize > 0 && fi.Size() > int64(maxSize) {
			logger.Warn("skipping large file", "path", e.Path, "size", fi.Size(), "limit", maxSize)
			failed = append(failed, model.FailedUnit{
				Path:   e.Path,
				Stage:  model.StageRead,
				Reason: fmt.Sprintf("skipped (>%d bytes)", maxSize),
			})
			continue
		}
		text, err := os.ReadFile(abs)
		if err != nil {
			logger.Warn("skipping unreadable file", "path", e.Path, "err", err)
			failed = append(failed, model.FailedUnit{Path: e.Path, Stage: model.StageRead, Reason: err.Error()})
			continue
		}
		inputs = append(inputs, Input{Path: e.Path, Text: text, Kind: e.Kind})
	}
	return inputs, failed
}

type cacheKey struct {
	fingerprint uint64
	kind        model.UnitKind
}

// Builder extracts inputs into a Corpus. A Builder may be reused across runs;
// its extraction cache survives between calls to Build.
type Builder struct {
	Classifier *classify.Classifier
	Workers    int // <= 0 means GOMAXPROCS
	CacheSize  int // <= 0 means DefaultCacheSize
	Logger     *slog.Logger

	extract func([]byte, model.UnitKind) model.StructuralRecord

	once  sync.Once
	cache *lru.Cache[cacheKey, model.StructuralRecord]
}

func (b *Builder) init() {
	b.once.Do(func() {
		if b.Classifier == nil {
			b.Classifier = classify.Default()
		}
		if b.extract == nil {
			b.extract = parse.Extract
		}
		size := b.CacheSize
		if size <= 0 {
			size = DefaultCacheSize
		}
		cache, err := lru.New[cacheKey, model.StructuralRecord](size)
		if err == nil {
			b.cache = cache
		}
	})
}

type slot struct {
	unit   model.Unit
	failed *model.FailedUnit
}

// Build extracts every input and returns the corpus sorted by path with IDs
// 1..n. Duplicate paths keep their first occurrence. A unit whose extraction
// panics is recorded as failed; the others are unaffected.
func (b *Builder) Build(inputs []Input) *model.Corpus {
	b.init()
	logger := orDiscard(b.Logger)

	inputs = dedupe(inputs)
	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].Path < inputs[j].Path
	})

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	slots := make([]slot, len(inputs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range inputs {
		g.Go(func() error {
			slots[i] = b.extractOne(inputs[i])
			return nil
		})
	}
	_ = g.Wait()

	c := &model.Corpus{Units: []model.Unit{}}
	for i := range slots {
		if slots[i].failed != nil {
			logger.Warn("extraction failed", "path", slots[i].failed.Path, "reason", slots[i].failed.Reason)
			c.Failed = append(c.Failed, *slots[i].failed)
			continue
		}
		u := slots[i].unit
		u.ID = len(c.Units) + 1
		c.Units = append(c.Units, u)
		c.Findings = append(c.Findings, duplicateParagraphs(u)...)
	}
	logger.Debug("corpus built", "units", len(c.Units), "failed", len(c.Failed))
	return c
}

func (b *Builder) extractOne(in Input) (s slot) {
	defer func() {
		if r := recover(); r != nil {
			s = slot{failed: &model.FailedUnit{
				Path:   in.Path,
				Stage:  model.StageExtract,
				Reason: fmt.Sprintf("panic: %v", r),
			}}
		}
	}()

	fp := xxhash.Sum64(in.Text)
	key := cacheKey{fingerprint: fp, kind: in.Kind}
	rec, ok := b.lookup(key)
	if !ok {
		rec = b.extract(in.Text, in.Kind)
		if b.cache != nil {
			b.cache.Add(key, rec)
		}
	}

	return slot{unit: model.Unit{
		SourceUnit: model.SourceUnit{
			Path:        in.Path,
			Kind:        in.Kind,
			Subsystem:   b.Classifier.Subsystem(in.Path),
			LineCount:   parse.LineCount(in.Text),
			ByteSize:    len(in.Text),
			Fingerprint: fp,
		},
		Record: rec,
	}}
}

func (b *Builder) lookup(key cacheKey) (model.StructuralRecord, bool) {
	if b.cache == nil {
		return model.StructuralRecord{}, false
	}
	return b.cache.Get(key)
}

func dedupe(inputs []Input) []Input {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		if _, dup := seen[in.Path]; dup {
			continue
		}
		seen[in.Path] = struct{}{}
		out = append(out, in)
	}
	return out
}

// duplicateParagraphs reports paragraph names declared more than once in a
// unit, compared case-insensitively.
func duplicateParagraphs(u model.Unit) []model.Finding {
	counts := make(map[string]int)
	var order []string
	for _, p := range u.Record.Paragraphs {
		key := strings.ToUpper(p)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	var findings []model.Finding
	for _, name := range order {
		if counts[name] < 2 {
			continue
		}
		findings = append(findings, model.Finding{
			Kind:     model.DuplicateParagraph,
			Severity: model.Warning,
			Path:     u.Path,
			Name:     name,
			Message:  fmt.Sprintf("paragraph %s declared %d times", name, counts[name]),
		})
	}
	return findings
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
