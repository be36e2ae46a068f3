// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phobologic/cobolmap/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Snapshot into TOON format.
func Encode(snap *model.Snapshot) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(snap.Root)))
	parts = append(parts, fmt.Sprintf("fingerprint: %016x", snap.Fingerprint))
	namespaces := "combined"
	if snap.SeparateNamespaces {
		namespaces = "separate"
	}
	parts = append(parts, fmt.Sprintf("namespaces: %s", namespaces))

	var unitRows [][]string
	for i := range snap.Units {
		u := &snap.Units[i]
		unitRows = append(unitRows, []string{
			strconv.Itoa(u.ID),
			u.Path,
			string(u.Kind),
			u.Subsystem,
			strconv.Itoa(u.LineCount),
			u.Record.ProgramID,
			fmt.Sprintf("%.4f", u.Rank),
		})
	}
	parts = append(parts, formatTabular("units",
		[]string{"id", "path", "kind", "subsystem", "lines", "program_id", "rank"}, unitRows))

	var metricRows [][]string
	for i := range snap.Metrics {
		m := &snap.Metrics[i]
		metricRows = append(metricRows, []string{
			m.Path,
			strconv.Itoa(m.Cyclomatic),
			fmt.Sprintf("%.2f", m.Halstead.Volume),
			fmt.Sprintf("%.2f", m.Halstead.Difficulty),
			fmt.Sprintf("%.2f", m.Halstead.Effort),
			fmt.Sprintf("%.2f", m.Maintainability),
		})
	}
	parts = append(parts, formatTabular("metrics",
		[]string{"path", "cyclomatic", "volume", "difficulty", "effort", "maintainability"}, metricRows))

	parts = append(parts, formatTabular("calls", []string{"from", "to", "target"}, edgeRows(snap.CallGraph)))
	parts = append(parts, formatTabular("copies", []string{"from", "to", "target"}, edgeRows(snap.CopyGraph)))

	missing := unresolvedRows(snap.CallGraph)
	missing = append(missing, unresolvedRows(snap.CopyGraph)...)
	sort.SliceStable(missing, func(i, j int) bool {
		return missing[i][0] < missing[j][0]
	})
	parts = append(parts, formatTabular("unresolved", []string{"path", "kind", "targets"}, missing))

	var unusedRows [][]string
	for _, p := range snap.UnusedCopybooks {
		unusedRows = append(unusedRows, []string{p})
	}
	parts = append(parts, formatTabular("unused_copybooks", []string{"path"}, unusedRows))

	var subsystemRows [][]string
	for _, tag := range sortedTags(snap.Aggregates.BySubsystem) {
		s := snap.Aggregates.BySubsystem[tag]
		subsystemRows = append(subsystemRows, []string{
			tag,
			strconv.Itoa(s.Units),
			strconv.Itoa(s.Programs),
			strconv.Itoa(s.Copybooks),
			strconv.Itoa(s.TotalLines),
			fmt.Sprintf("%.2f", s.AvgComplexity),
			fmt.Sprintf("%.2f", s.AvgMaintainability),
		})
	}
	parts = append(parts, formatTabular("subsystems",
		[]string{"tag", "units", "programs", "copybooks", "lines", "avg_complexity", "avg_maintainability"}, subsystemRows))

	if len(snap.Cycles) > 0 {
		var cycleRows [][]string
		for _, c := range snap.Cycles {
			cycleRows = append(cycleRows, []string{strings.Join(c, " ")})
		}
		parts = append(parts, formatTabular("cycles", []string{"units"}, cycleRows))
	}

	if len(snap.Findings) > 0 {
		var findingRows [][]string
		for i := range snap.Findings {
			f := &snap.Findings[i]
			findingRows = append(findingRows, []string{
				string(f.Kind),
				string(f.Severity),
				f.Path,
				f.Name,
				f.Message,
			})
		}
		parts = append(parts, formatTabular("findings",
			[]string{"kind", "severity", "path", "name", "message"}, findingRows))
	}

	if len(snap.Failed) > 0 {
		var failedRows [][]string
		for i := range snap.Failed {
			f := &snap.Failed[i]
			failedRows = append(failedRows, []string{f.Path, string(f.Stage), f.Reason})
		}
		parts = append(parts, formatTabular("failed", []string{"path", "stage", "reason"}, failedRows))
	}

	return strings.Join(parts, "\n")
}

func edgeRows(g model.Graph) [][]string {
	var rows [][]string
	for i := range g.Edges {
		e := &g.Edges[i]
		rows = append(rows, []string{e.From, e.To, e.Target})
	}
	return rows
}

func unresolvedRows(g model.Graph) [][]string {
	paths := make([]string, 0, len(g.Unresolved))
	for p := range g.Unresolved {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var rows [][]string
	for _, p := range paths {
		rows = append(rows, []string{p, string(g.Kind), strings.Join(g.Unresolved[p], " ")})
	}
	return rows
}

func sortedTags(m map[string]model.Summary) []string {
	tags := make([]string, 0, len(m))
	for t := range m {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
