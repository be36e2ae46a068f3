package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phobologic/cobolmap/internal/model"
)

func TestDiscoverCobolFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "sales/sl010.cbl", "       PROGRAM-ID. SL010.")
	writeFile(t, dir, "copybooks/wsfnctn.cpy", "       01  WS-FUNCTION.")
	writeFile(t, dir, "copybooks/WSSTOCK.COB", "       01  WS-STOCK.")
	// Non-COBOL file should be ignored
	writeFile(t, dir, "readme.txt", "hello")
	// Hidden file should be ignored
	writeFile(t, dir, ".hidden.cbl", "secret")

	entries, err := Files(dir, Options{})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(entries), paths)
	}

	// Sorted, slash-separated
	want := []struct {
		path string
		kind model.UnitKind
	}{
		{"copybooks/WSSTOCK.COB", model.Copybook},
		{"copybooks/wsfnctn.cpy", model.Copybook},
		{"sales/sl010.cbl", model.Program},
	}
	for i, w := range want {
		if entries[i].Path != w.path {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Path, w.path)
		}
		if entries[i].Kind != w.kind {
			t.Errorf("entry %q: kind = %q, want %q", entries[i].Path, entries[i].Kind, w.kind)
		}
	}
}

func TestDiscoverSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.cbl", "")
	writeFile(t, dir, "node_modules/pkg.cbl", "")
	writeFile(t, dir, "build/gen.cbl", "")
	writeFile(t, dir, ".hidden/secret.cbl", "")

	entries, err := Files(dir, Options{})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Path != "main.cbl" {
		t.Errorf("expected main.cbl, got %q", entries[0].Path)
	}
}

func TestDiscoverGlobFilters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "sales/sl010.cbl", "")
	writeFile(t, dir, "sales/old/sl005.cbl", "")
	writeFile(t, dir, "stock/st010.cbl", "")
	writeFile(t, dir, "copybooks/wsstock.cpy", "")

	entries, err := Files(dir, Options{Include: []string{"sales/**"}})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for sales/**, got %d", len(entries))
	}

	entries, err = Files(dir, Options{Exclude: []string{"**/old/**", "**/*.cpy"}})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after excludes, got %d", len(entries))
	}
	if entries[0].Path != "sales/sl010.cbl" || entries[1].Path != "stock/st010.cbl" {
		t.Errorf("unexpected entries: %v", entries)
	}
}

func TestDiscoverInvalidPattern(t *testing.T) {
	t.Parallel()

	if _, err := Files(t.TempDir(), Options{Include: []string{"[unclosed"}}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestDiscoverGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "generated/\n")
	writeFile(t, dir, "keep.cbl", "")
	writeFile(t, dir, "generated/skip.cbl", "")

	entries, err := Files(dir, Options{})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "keep.cbl" {
		t.Fatalf("expected only keep.cbl, got %v", entries)
	}
}

func TestDiscoverSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "real.cbl", "")

	err := os.Symlink(filepath.Join(dir, "real.cbl"), filepath.Join(dir, "link.cbl"))
	if err != nil {
		t.Skip("symlinks not supported")
	}

	entries, err := Files(dir, Options{})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry (no symlink), got %d", len(entries))
	}
	if entries[0].Path != "real.cbl" {
		t.Errorf("expected real.cbl, got %q", entries[0].Path)
	}
}

func TestSkipDir(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		want bool
	}{
		{"node_modules", true},
		{".git", true},
		{".anything", true},
		{"build", true},
		{"sales", false},
		{"copybooks", false},
	}
	for _, tc := range cases {
		if got := SkipDir(tc.name); got != tc.want {
			t.Errorf("SkipDir(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
