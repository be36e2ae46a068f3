// Package classify maps file paths to unit kinds and coarse subsystem tags.
package classify

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/phobologic/cobolmap/internal/model"
)

// DefaultTag is the subsystem assigned when no marker matches.
const DefaultTag = "common"

// Marker tags every path containing Fragment with Tag.
type Marker struct {
	Tag      string
	Fragment string
}

// DefaultMarkers are the subsystem directories of the ACAS estate, in
// priority order.
var DefaultMarkers = []Marker{
	{Tag: "irs", Fragment: "irs/"},
	{Tag: "sales", Fragment: "sales/"},
	{Tag: "purchase", Fragment: "purchase/"},
	{Tag: "stock", Fragment: "stock/"},
	{Tag: "general", Fragment: "general/"},
}

// Extensions maps lower-case file extensions to unit kinds. ACAS keeps
// copybooks in .cob files alongside .cpy.
var Extensions = map[string]model.UnitKind{
	".cbl": model.Program,
	".cob": model.Copybook,
	".cpy": model.Copybook,
}

// KindForExtension returns the unit kind for a file extension.
// The lookup is case-insensitive; ok is false for non-COBOL files.
func KindForExtension(ext string) (model.UnitKind, bool) {
	kind, ok := Extensions[strings.ToLower(ext)]
	return kind, ok
}

// Classifier assigns subsystem tags. Tags are computed once per path and
// cached; a Classifier is safe for concurrent use.
type Classifier struct {
	markers    []Marker
	defaultTag string

	mu    sync.RWMutex
	cache map[string]string
}

// New returns a Classifier testing markers in order. An empty defaultTag
// falls back to DefaultTag.
func New(markers []Marker, defaultTag string) *Classifier {
	if defaultTag == "" {
		defaultTag = DefaultTag
	}
	return &Classifier{
		markers:    append([]Marker(nil), markers...),
		defaultTag: defaultTag,
		cache:      make(map[string]string),
	}
}

// Default returns a Classifier over DefaultMarkers.
func Default() *Classifier {
	return New(DefaultMarkers, DefaultTag)
}

// Subsystem returns the tag of the first marker whose fragment occurs in the
// slash-normalized path.
func (c *Classifier) Subsystem(p string) string {
	c.mu.RLock()
	tag, ok := c.cache[p]
	c.mu.RUnlock()
	if ok {
		return tag
	}

	tag = c.defaultTag
	norm := filepath.ToSlash(p)
	for _, m := range c.markers {
		if m.Fragment != "" && strings.Contains(norm, m.Fragment) {
			tag = m.Tag
			break
		}
	}

	c.mu.Lock()
	c.cache[p] = tag
	c.mu.Unlock()
	return tag
}

// Tags lists every tag the classifier can produce: marker tags in order,
// then the default. Duplicates are dropped.
func (c *Classifier) Tags() []string {
	seen := make(map[string]struct{}, len(c.markers)+1)
	var tags []string
	for _, m := range c.markers {
		if _, ok := seen[m.Tag]; ok {
			continue
		}
		seen[m.Tag] = struct{}{}
		tags = append(tags, m.Tag)
	}
	if _, ok := seen[c.defaultTag]; !ok {
		tags = append(tags, c.defaultTag)
	}
	return tags
}

// UnitName returns the basename of p without its extension.
func UnitName(p string) string {
	base := path.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(base, path.Ext(base))
}

var (
	mainProgramRe = regexp.MustCompile(`(?i)^(ACAS|irs|sales|purchase|stock|general)\.cbl$`)
	firstDigitsRe = regexp.MustCompile(`[0-9]+`)
	dataRoles     = []string{"UNL", "RES", "MT", "LD"}
)

// IsMainProgram reports whether p names one of the estate's menu programs.
func IsMainProgram(p string) bool {
	return mainProgramRe.MatchString(path.Base(filepath.ToSlash(p)))
}

// DataAccessRole returns the data-access-layer role encoded in a program's
// name suffix (MT, LD, UNL or RES), or "" if none.
func DataAccessRole(p string) string {
	base := path.Base(filepath.ToSlash(p))
	if !strings.EqualFold(path.Ext(base), ".cbl") {
		return ""
	}
	name := strings.ToUpper(strings.TrimSuffix(base, path.Ext(base)))
	for _, role := range dataRoles {
		if strings.HasSuffix(name, role) && len(name) > len(role) {
			return role
		}
	}
	return ""
}

// NamePattern replaces the first run of digits in name with "XXX", grouping
// numbered program families (sl010, sl020, ...) under one pattern.
func NamePattern(name string) string {
	loc := firstDigitsRe.FindStringIndex(name)
	if loc == nil {
		return name
	}
	return name[:loc[0]] + "XXX" + name[loc[1]:]
}
