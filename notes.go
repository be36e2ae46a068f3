package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/phobologic/cobolmap/internal/model"
)

const (
	notesStart = "<!-- cobolmap:start -->"
	notesEnd   = "<!-- cobolmap:end -->"

	// defaultNotesFile is written in the estate root unless --doc is given.
	defaultNotesFile = "ESTATE.md"

	notesListLimit = 5
)

// notesCommand implements `cobolmap notes`, which analyzes the estate and
// writes a short overview into a markdown file between marker lines.
func notesCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "notes",
		Usage:     "write an estate overview section to a markdown file",
		ArgsUsage: "[root]",
		Description: `The overview sits between marker lines so later runs replace it in place
and leave the rest of the file alone. The file is created if missing.`,
		Flags: append(analysisFlags(),
			&cli.StringFlag{
				Name:  "doc",
				Usage: "markdown file to update (default: " + defaultNotesFile + " in root)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "print the updated file instead of writing it",
			},
		),
		Action: func(c *cli.Context) error {
			j, err := newJob(c, stderr)
			if err != nil {
				return err
			}
			snap, err := j.snapshot()
			if err != nil {
				return err
			}
			doc := c.String("doc")
			if doc == "" {
				doc = filepath.Join(j.root, defaultNotesFile)
			}
			return writeNotes(doc, renderNotes(snap), c.Bool("dry-run"), stdout, stderr)
		},
	}
}

func writeNotes(doc, section string, dryRun bool, stdout, stderr io.Writer) error {
	existing, err := os.ReadFile(doc)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", doc, err)
	}
	updated := spliceSection(string(existing), section)

	if dryRun {
		_, _ = fmt.Fprint(stdout, updated)
		return nil
	}
	if err := os.WriteFile(doc, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", doc, err)
	}
	_, _ = fmt.Fprintf(stderr, "wrote estate notes to %s\n", doc)
	return nil
}

// renderNotes summarizes snap as a marker-wrapped markdown block.
func renderNotes(snap *model.Snapshot) string {
	var b strings.Builder
	o := snap.Aggregates.Overall

	b.WriteString(notesStart + "\n")
	fmt.Fprintf(&b, "## COBOL estate: %s\n\n", snap.Root)
	b.WriteString("| units | programs | copybooks | lines | calls | copies | cycles |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d | %d |\n",
		o.Units, o.Programs, o.Copybooks, o.TotalLines,
		len(snap.CallGraph.Edges), len(snap.CopyGraph.Edges), len(snap.Cycles))

	if len(snap.Subsystems) > 0 {
		b.WriteString("\n**Subsystems:**\n")
		tags := make([]string, 0, len(snap.Subsystems))
		for tag := range snap.Subsystems {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Fprintf(&b, "- %s: %d units\n", tag, len(snap.Subsystems[tag]))
		}
	}

	if len(snap.Aggregates.MainPrograms) > 0 {
		fmt.Fprintf(&b, "\n**Main programs:** %s\n", strings.Join(snap.Aggregates.MainPrograms, ", "))
	}

	writeRanking(&b, "Most central programs", snap.Aggregates.MostCentral, "rank %.4f")
	writeRanking(&b, "Least maintainable programs", snap.Aggregates.LeastMaintainable, "MI %.1f")
	writeList(&b, "Unused copybooks", snap.UnusedCopybooks)

	unresolved := 0
	for _, g := range []model.Graph{snap.CallGraph, snap.CopyGraph} {
		for _, targets := range g.Unresolved {
			unresolved += len(targets)
		}
	}
	if unresolved > 0 || len(snap.Failed) > 0 {
		fmt.Fprintf(&b, "\n%d unresolved references, %d units not analyzed.\n", unresolved, len(snap.Failed))
	}

	b.WriteString("\nRegenerate with `cobolmap notes`. `cobolmap --name PROG` shows one program with\n")
	b.WriteString("its callers and dependencies; `cobolmap -f json` prints the full snapshot.\n")
	b.WriteString(notesEnd)
	return b.String()
}

func writeRanking(b *strings.Builder, title string, entries []model.RankEntry, valueFormat string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s:**\n", title)
	for i, e := range entries {
		if i == notesListLimit {
			break
		}
		fmt.Fprintf(b, "- %s (%s)\n", e.Path, fmt.Sprintf(valueFormat, e.Value))
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s:**\n", title)
	for i, item := range items {
		if i == notesListLimit {
			fmt.Fprintf(b, "- and %d more\n", len(items)-notesListLimit)
			break
		}
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// spliceSection replaces the block between the marker lines of doc with
// section, or appends section after a blank line when doc has no complete
// block. Markers count only on a line of their own.
func spliceSection(doc, section string) string {
	lines := strings.SplitAfter(doc, "\n")
	start, end := -1, -1
	for i, l := range lines {
		switch strings.TrimSpace(l) {
		case notesStart:
			if start < 0 {
				start = i
			}
		case notesEnd:
			if start >= 0 && end < 0 {
				end = i
			}
		}
	}

	if start >= 0 && end > start {
		var b strings.Builder
		b.WriteString(strings.Join(lines[:start], ""))
		b.WriteString(section)
		if strings.HasSuffix(lines[end], "\n") {
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(lines[end+1:], ""))
		return b.String()
	}

	if doc == "" {
		return section + "\n"
	}
	if !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	return doc + "\n" + section + "\n"
}
