// Package model defines core data structures for cobolmap.
package model

// UnitKind indicates whether a source unit is a program or a copybook.
type UnitKind string

const (
	Program  UnitKind = "program"
	Copybook UnitKind = "copybook"
)

// SourceUnit is one analyzed file. It is created once per run and never
// mutated afterwards.
type SourceUnit struct {
	ID          int      `json:"id" yaml:"id"`
	Path        string   `json:"path" yaml:"path"`
	Kind        UnitKind `json:"kind" yaml:"kind"`
	Subsystem   string   `json:"subsystem" yaml:"subsystem"`
	LineCount   int      `json:"line_count" yaml:"line_count"`
	ByteSize    int      `json:"byte_size" yaml:"byte_size"`
	Fingerprint uint64   `json:"fingerprint" yaml:"fingerprint"`
}

// StructuralRecord holds the structural facts extracted from one unit's text.
//
// Divisions, Sections and Paragraphs keep every occurrence in encounter
// order. The remaining slices are sets: case-insensitively unique, in
// first-insertion order. WorkingStorageItems is always a subset of DataItems.
type StructuralRecord struct {
	Kind                UnitKind `json:"kind" yaml:"kind"`
	ProgramID           string   `json:"program_id,omitempty" yaml:"program_id,omitempty"`
	Divisions           []string `json:"divisions" yaml:"divisions"`
	Sections            []string `json:"sections" yaml:"sections"`
	Paragraphs          []string `json:"paragraphs" yaml:"paragraphs"`
	CopyReferences      []string `json:"copy_references" yaml:"copy_references"`
	CallReferences      []string `json:"call_references" yaml:"call_references"`
	PerformReferences   []string `json:"perform_references" yaml:"perform_references"`
	FileTouches         []string `json:"file_touches" yaml:"file_touches"`
	DataItems           []string `json:"data_items" yaml:"data_items"`
	WorkingStorageItems []string `json:"working_storage_items" yaml:"working_storage_items"`
}

// Unit pairs a SourceUnit with its extracted record.
type Unit struct {
	SourceUnit `yaml:",inline"`
	Record     StructuralRecord `json:"record" yaml:"record"`
	Rank       float64          `json:"rank" yaml:"rank"`
}

// EdgeKind distinguishes CALL edges from COPY edges.
type EdgeKind string

const (
	CallEdge EdgeKind = "call"
	CopyEdge EdgeKind = "copy"
)

// DependencyEdge is a reference from one unit to a target name. From and To
// are unit paths; To is empty when the edge is unresolved.
type DependencyEdge struct {
	From     string   `json:"from" yaml:"from"`
	Target   string   `json:"target" yaml:"target"`
	Kind     EdgeKind `json:"kind" yaml:"kind"`
	Resolved bool     `json:"resolved" yaml:"resolved"`
	To       string   `json:"to,omitempty" yaml:"to,omitempty"`
}

// Graph is a directed graph over units. Edges holds resolved edges only;
// names that matched no unit are kept per source path in Unresolved.
type Graph struct {
	Kind       EdgeKind            `json:"kind" yaml:"kind"`
	Edges      []DependencyEdge    `json:"edges" yaml:"edges"`
	Unresolved map[string][]string `json:"unresolved" yaml:"unresolved"`
}

// Halstead holds the Halstead-like size proxies of a unit.
type Halstead struct {
	Vocabulary int     `json:"vocabulary" yaml:"vocabulary"`
	Length     int     `json:"length" yaml:"length"`
	Volume     float64 `json:"volume" yaml:"volume"`
	Difficulty float64 `json:"difficulty" yaml:"difficulty"`
	Effort     float64 `json:"effort" yaml:"effort"`
}

// ComplexityMetrics is the derived per-unit metrics row.
type ComplexityMetrics struct {
	Path            string   `json:"path" yaml:"path"`
	Cyclomatic      int      `json:"cyclomatic" yaml:"cyclomatic"`
	Halstead        Halstead `json:"halstead" yaml:"halstead"`
	Maintainability float64  `json:"maintainability" yaml:"maintainability"`
}

// FindingKind classifies a non-fatal analysis finding.
type FindingKind string

const (
	AmbiguousName       FindingKind = "ambiguous_name"
	UnresolvedReference FindingKind = "unresolved_reference"
	DuplicateParagraph  FindingKind = "duplicate_paragraph"
	CallCycle           FindingKind = "call_cycle"
	EmptyCorpus         FindingKind = "empty_corpus"
)

// Severity of a finding.
type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
)

// Finding is an explainable observation about the corpus.
type Finding struct {
	Kind     FindingKind `json:"kind" yaml:"kind"`
	Severity Severity    `json:"severity" yaml:"severity"`
	Path     string      `json:"path,omitempty" yaml:"path,omitempty"`
	Name     string      `json:"name,omitempty" yaml:"name,omitempty"`
	Message  string      `json:"message" yaml:"message"`
	Related  []string    `json:"related,omitempty" yaml:"related,omitempty"`
}

// Stage names the pipeline step where a unit failed.
type Stage string

const (
	StageRead    Stage = "read"
	StageExtract Stage = "extract"
	StageResolve Stage = "resolve"
)

// FailedUnit records a unit whose processing was abandoned.
type FailedUnit struct {
	Path   string `json:"path" yaml:"path"`
	Stage  Stage  `json:"stage" yaml:"stage"`
	Reason string `json:"reason" yaml:"reason"`
}

// Corpus is the aggregated in-memory view of every extracted unit, sorted by
// path.
type Corpus struct {
	Units    []Unit
	Failed   []FailedUnit
	Findings []Finding
}

// Summary aggregates metrics over a group of units.
type Summary struct {
	Units              int     `json:"units" yaml:"units"`
	Programs           int     `json:"programs" yaml:"programs"`
	Copybooks          int     `json:"copybooks" yaml:"copybooks"`
	TotalLines         int     `json:"total_lines" yaml:"total_lines"`
	TotalBytes         int     `json:"total_bytes" yaml:"total_bytes"`
	AvgComplexity      float64 `json:"avg_complexity" yaml:"avg_complexity"`
	AvgMaintainability float64 `json:"avg_maintainability" yaml:"avg_maintainability"`
	WithCalls          int     `json:"with_calls" yaml:"with_calls"`
	WithCopies         int     `json:"with_copies" yaml:"with_copies"`
}

// RankEntry is one row of a top-N ranking.
type RankEntry struct {
	Path  string  `json:"path" yaml:"path"`
	Value float64 `json:"value" yaml:"value"`
}

// Aggregates holds corpus-wide and per-subsystem reductions.
type Aggregates struct {
	Overall           Summary              `json:"overall" yaml:"overall"`
	BySubsystem       map[string]Summary   `json:"by_subsystem" yaml:"by_subsystem"`
	ByKind            map[UnitKind]Summary `json:"by_kind" yaml:"by_kind"`
	MostComplex       []RankEntry          `json:"most_complex" yaml:"most_complex"`
	LeastMaintainable []RankEntry          `json:"least_maintainable" yaml:"least_maintainable"`
	Largest           []RankEntry          `json:"largest" yaml:"largest"`
	MostDependencies  []RankEntry          `json:"most_dependencies" yaml:"most_dependencies"`
	MostCentral       []RankEntry          `json:"most_central" yaml:"most_central"`
	MainPrograms      []string             `json:"main_programs" yaml:"main_programs"`
	DataAccess        map[string][]string  `json:"data_access" yaml:"data_access"`
	NamePatterns      map[string]int       `json:"name_patterns" yaml:"name_patterns"`
}

// Snapshot is the complete structural snapshot of one run, ready for
// serialization. Downstream consumers read only this.
type Snapshot struct {
	Version            string              `json:"version" yaml:"version"`
	Root               string              `json:"root" yaml:"root"`
	Fingerprint        uint64              `json:"fingerprint" yaml:"fingerprint"`
	SeparateNamespaces bool                `json:"separate_namespaces" yaml:"separate_namespaces"`
	Units              []Unit              `json:"units" yaml:"units"`
	Metrics            []ComplexityMetrics `json:"metrics" yaml:"metrics"`
	CallGraph          Graph               `json:"call_graph" yaml:"call_graph"`
	CopyGraph          Graph               `json:"copy_graph" yaml:"copy_graph"`
	UnusedCopybooks    []string            `json:"unused_copybooks" yaml:"unused_copybooks"`
	Subsystems         map[string][]string `json:"subsystems" yaml:"subsystems"`
	Cycles             [][]string          `json:"cycles" yaml:"cycles"`
	Aggregates         Aggregates          `json:"aggregates" yaml:"aggregates"`
	Findings           []Finding           `json:"findings" yaml:"findings"`
	Failed             []FailedUnit        `json:"failed" yaml:"failed"`
}
