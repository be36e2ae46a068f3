// Package discover finds COBOL source files in an estate.
package discover

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/model"
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path string // Relative to root, slash-separated
	Kind model.UnitKind
}

// Options narrows discovery. Patterns are doublestar globs matched against
// slash-separated paths relative to the root.
type Options struct {
	Include []string
	Exclude []string
}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	"venv":         {},
	".venv":        {},
	"env":          {},
	".env":         {},
	"build":        {},
	"dist":         {},
	"target":       {},
	"bin":          {},
	"obj":          {},
	"tmp":          {},
	".cache":       {},
}

// SkipDir reports whether a directory with this base name is never descended
// into. Hidden directories are skipped too.
func SkipDir(name string) bool {
	if _, skip := skipDirs[name]; skip {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// Validate checks every include and exclude pattern.
func (o Options) Validate() error {
	for _, p := range append(append([]string(nil), o.Include...), o.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// Match reports whether a slash-separated relative path passes the include
// and exclude globs. An empty include list admits everything.
func (o Options) Match(rel string) bool {
	for _, p := range o.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(o.Include) == 0 {
		return true
	}
	for _, p := range o.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Files discovers COBOL programs and copybooks under root, sorted by path.
func Files(root string, opts Options) ([]FileEntry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	gitFiles := gitLsFiles(root)
	var gi *ignore.GitIgnore
	if gitFiles == nil {
		gi = loadGitignore(root)
	}

	var results []FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if SkipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		kind, ok := classify.KindForExtension(filepath.Ext(name))
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if gitFiles != nil {
			if _, ok := gitFiles[rel]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		if !opts.Match(rel) {
			return nil
		}

		results = append(results, FileEntry{Path: rel, Kind: kind})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
