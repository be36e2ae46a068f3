// Package parse extracts structural records from COBOL source text with a
// line-oriented heuristic scan. It never fails: malformed, partial, binary or
// empty input yields a sparser record.
package parse

import (
	"regexp"
	"strings"

	"github.com/phobologic/cobolmap/internal/model"
)

// area is the data area the scan is currently inside.
type area int

const (
	areaUnknown area = iota
	areaWorkingStorage
	areaOther
)

var (
	leadingIdentRe  = regexp.MustCompile(`^([A-Za-z0-9-]+)`)
	inlineProgramRe = regexp.MustCompile(`(?i)PROGRAM-ID\s*\.?\s*["']?([A-Za-z0-9-]+)`)
	divisionRe      = regexp.MustCompile(`^(IDENTIFICATION|ENVIRONMENT|DATA|PROCEDURE)\s+DIVISION\b`)
	sectionRe       = regexp.MustCompile(`^([A-Z0-9-]+)\s+SECTION\s*\.?$`)
	paragraphRe     = regexp.MustCompile(`^([A-Z0-9-]+)\s*\.$`)
	levelPrefixRe   = regexp.MustCompile(`^(01|05|10|15|20|25|30|35|40|45|50|55|60|65|70|75|77|78|88)`)
	copyRe          = regexp.MustCompile(`(?:^|\s)COPY\s+(?:["']([A-Z0-9-]+)|([A-Z0-9-]+))`)
	callRe          = regexp.MustCompile(`(?:^|\s)CALL\s+(?:["']([A-Z0-9-]+)|([A-Z0-9-]+))`)
	performRe       = regexp.MustCompile(`(?:^|\s)PERFORM\s+([A-Z0-9-]+)`)
	fdRe            = regexp.MustCompile(`^FD\s+([A-Z0-9-]+)`)
	selectRe        = regexp.MustCompile(`^SELECT\s+(?:OPTIONAL\s+)?([A-Z0-9-]+)`)
	level01Re       = regexp.MustCompile(`^01\s+([A-Z0-9-]+)`)
)

// scanState is threaded through the line fold.
type scanState struct {
	area           area
	awaitProgramID bool
}

// Extract scans text top to bottom and returns its structural record.
// kind is recorded on the result; the same detection rules apply to programs
// and copybooks.
func Extract(text []byte, kind model.UnitKind) model.StructuralRecord {
	b := newBuilder(kind)
	st := scanState{area: areaUnknown}
	for _, raw := range strings.Split(string(text), "\n") {
		st = b.scanLine(st, raw)
	}
	return b.finish()
}

// LineCount returns the number of newline-separated lines in text. Empty
// input has one line.
func LineCount(text []byte) int {
	return strings.Count(string(text), "\n") + 1
}

func isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "*") || strings.Contains(trimmed, "*>")
}

func (b *builder) scanLine(st scanState, raw string) scanState {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || isComment(trimmed) {
		return st
	}
	upper := strings.ToUpper(trimmed)

	if st.awaitProgramID {
		st.awaitProgramID = false
		if m := leadingIdentRe.FindStringSubmatch(trimmed); m != nil {
			b.setProgramID(m[1])
		}
	}
	if strings.Contains(upper, "PROGRAM-ID") && b.rec.ProgramID == "" {
		if m := inlineProgramRe.FindStringSubmatch(trimmed); m != nil {
			b.setProgramID(m[1])
		} else {
			st.awaitProgramID = true
		}
	}

	if m := divisionRe.FindStringSubmatch(upper); m != nil {
		b.rec.Divisions = append(b.rec.Divisions, trimmed)
		if m[1] == "DATA" {
			st.area = areaWorkingStorage
		} else {
			st.area = areaOther
		}
	}

	if m := sectionRe.FindStringSubmatch(upper); m != nil {
		b.rec.Sections = append(b.rec.Sections, trimmed)
		switch {
		case m[1] == "WORKING-STORAGE":
			st.area = areaWorkingStorage
		case m[1] == "LINKAGE" || strings.Contains(upper, "PROCEDURE"):
			st.area = areaOther
		}
	}

	// Any lone "NAME." line counts, statement words such as EXIT. and
	// GOBACK. included; the paragraph count feeds the metric formulas as is.
	if paragraphRe.MatchString(upper) && isParagraphLine(upper) {
		b.rec.Paragraphs = append(b.rec.Paragraphs, strings.TrimSpace(strings.Replace(trimmed, ".", "", 1)))
	}

	if name := quotedOrBare(copyRe, upper); name != "" {
		b.copies.add(name)
	}
	if name := quotedOrBare(callRe, upper); name != "" && name != "USING" {
		b.calls.add(name)
	}
	// Inline forms record their first token too (UNTIL, VARYING, 3).
	if m := performRe.FindStringSubmatch(upper); m != nil {
		b.performs.add(m[1])
	}

	if m := fdRe.FindStringSubmatch(upper); m != nil {
		b.files.add(m[1])
	}
	if m := selectRe.FindStringSubmatch(upper); m != nil {
		b.files.add("SELECT " + m[1])
	}

	if m := level01Re.FindStringSubmatch(upper); m != nil {
		b.data.add(m[1])
		if st.area == areaWorkingStorage {
			b.workingStorage.add(m[1])
		}
	}

	return st
}

func isParagraphLine(upper string) bool {
	if strings.Contains(upper, "DIVISION") || strings.Contains(upper, "SECTION") {
		return false
	}
	return !levelPrefixRe.MatchString(upper)
}

// quotedOrBare returns the target of the first verb match, preferring the
// quoted form's capture.
func quotedOrBare(re *regexp.Regexp, upper string) string {
	m := re.FindStringSubmatch(upper)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

type builder struct {
	rec            model.StructuralRecord
	copies         nameSet
	calls          nameSet
	performs       nameSet
	files          nameSet
	data           nameSet
	workingStorage nameSet
}

func newBuilder(kind model.UnitKind) *builder {
	return &builder{rec: model.StructuralRecord{Kind: kind}}
}

func (b *builder) setProgramID(id string) {
	if b.rec.ProgramID == "" {
		b.rec.ProgramID = id
	}
}

func (b *builder) finish() model.StructuralRecord {
	r := b.rec
	r.Divisions = nonNil(r.Divisions)
	r.Sections = nonNil(r.Sections)
	r.Paragraphs = nonNil(r.Paragraphs)
	r.CopyReferences = nonNil(b.copies.items)
	r.CallReferences = nonNil(b.calls.items)
	r.PerformReferences = nonNil(b.performs.items)
	r.FileTouches = nonNil(b.files.items)
	r.DataItems = nonNil(b.data.items)
	r.WorkingStorageItems = nonNil(b.workingStorage.items)
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nameSet keeps case-insensitively unique names in insertion order.
type nameSet struct {
	seen  map[string]struct{}
	items []string
}

func (s *nameSet) add(name string) {
	key := strings.ToUpper(name)
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, name)
}
