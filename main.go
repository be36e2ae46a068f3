// cobolmap maps the structure of a COBOL estate: programs, copybooks, their
// CALL and COPY dependencies, and complexity proxies.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/phobologic/cobolmap/internal/config"
	"github.com/phobologic/cobolmap/internal/corpus"
	"github.com/phobologic/cobolmap/internal/discover"
	"github.com/phobologic/cobolmap/internal/model"
	"github.com/phobologic/cobolmap/internal/ranking"
	"github.com/phobologic/cobolmap/internal/snapshot"
	"github.com/phobologic/cobolmap/internal/watch"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, args, stdout, stderr)
}

func runContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	app := newApp(stdout, stderr)
	return app.RunContext(ctx, append([]string{"cobolmap"}, normalizeArgs(args)...))
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "cobolmap",
		Usage:           "map programs, copybooks and dependencies of a COBOL estate",
		ArgsUsage:       "[root]",
		HideHelpCommand: true,
		Writer:          stdout,
		ErrWriter:       stderr,
		Flags: append(analysisFlags(),
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "show version and exit",
			},
		),
		Action: func(c *cli.Context) error {
			if c.Bool("version") {
				_, _ = fmt.Fprintf(stdout, "cobolmap %s\n", version)
				return nil
			}
			return analyzeCommand(c, stdout, stderr)
		},
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "analyze, then re-analyze whenever a COBOL source changes",
				ArgsUsage: "[root]",
				Flags: append(analysisFlags(),
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "quiet period before re-analyzing",
						Value: watch.DefaultDebounce,
					},
				),
				Action: func(c *cli.Context) error {
					return watchCommand(c, stdout, stderr)
				},
			},
			notesCommand(stdout, stderr),
		},
	}
}

// analysisFlags returns fresh flag values; urfave/cli flags hold parse
// state and cannot be shared between commands.
func analysisFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (default: .cobolmap.toml or .cobolmap.kdl in root)"},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "output format: toon, json or yaml"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the snapshot to this file instead of stdout"},
		&cli.IntFlag{Name: "max-units", Aliases: []string{"n"}, Usage: "keep only the N highest-ranked units"},
		&cli.StringFlag{Name: "file", Usage: "keep units whose path contains this text, plus their callers and dependencies"},
		&cli.StringFlag{Name: "name", Usage: "keep units whose name contains this text, plus their callers and dependencies"},
		&cli.StringSliceFlag{Name: "include", Usage: "only analyze paths matching this glob (repeatable)"},
		&cli.StringSliceFlag{Name: "exclude", Usage: "skip paths matching this glob (repeatable)"},
		&cli.IntFlag{Name: "workers", Usage: "extraction workers (default: GOMAXPROCS)"},
		&cli.IntFlag{Name: "top", Usage: "length of each ranking"},
		&cli.IntFlag{Name: "max-file-size", Usage: "skip files larger than this many bytes"},
		&cli.BoolFlag{Name: "separate-namespaces", Usage: "resolve CALL against programs and COPY against copybooks only"},
		&cli.Float64Flag{Name: "suggest", Usage: "suggest near-miss names for unresolved references at this similarity (0-1)"},
		&cli.BoolFlag{Name: "verbose", Usage: "log debug output to stderr"},
	}
}

// job is one configured analysis.
type job struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	file    string
	name    string
	analyze *snapshot.Analyzer
}

func newJob(c *cli.Context, stderr io.Writer) (*job, error) {
	root := "."
	if c.NArg() > 0 {
		root = c.Args().First()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := loadConfig(c, root)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := cfg.AnalyzerOptions(filepath.Base(root), version, logger)
	logger.Debug("configured",
		"root", root,
		"format", cfg.Format,
		"subsystems", opts.Classifier.Tags(),
		"separate_namespaces", cfg.SeparateNamespaces)

	return &job{
		root:    root,
		cfg:     cfg,
		logger:  logger,
		file:    c.String("file"),
		name:    c.String("name"),
		analyze: snapshot.New(opts),
	}, nil
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(c *cli.Context, root string) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		path = config.Find(root)
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.LoadEnv(filepath.Join(root, ".env")); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if c.IsSet("format") {
		cfg.Format = c.String("format")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("max-units") {
		cfg.MaxUnits = c.Int("max-units")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("top") {
		cfg.Top = c.Int("top")
	}
	if c.IsSet("max-file-size") {
		cfg.MaxFileSize = c.Int("max-file-size")
	}
	if c.IsSet("separate-namespaces") {
		cfg.SeparateNamespaces = c.Bool("separate-namespaces")
	}
	if c.IsSet("suggest") {
		cfg.SuggestThreshold = c.Float64("suggest")
	}
	if v := c.StringSlice("include"); len(v) > 0 {
		cfg.Include = v
	}
	if v := c.StringSlice("exclude"); len(v) > 0 {
		cfg.Exclude = append(cfg.Exclude, v...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// snapshot discovers, reads and analyzes the estate, then applies the
// selection flags.
func (j *job) snapshot() (*model.Snapshot, error) {
	files, err := discover.Files(j.root, j.cfg.DiscoverOptions())
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	j.logger.Debug("discovered files", "count", len(files))

	inputs, failed := corpus.ReadFiles(j.root, files, j.cfg.MaxFileSize, j.logger)
	snap := j.analyze.Run(inputs, failed)

	if j.name != "" {
		snap = ranking.FilterByName(snap, j.name)
	}
	if j.file != "" {
		snap = ranking.FilterByPath(snap, j.file)
	}
	return ranking.SelectUnits(snap, j.cfg.MaxUnits), nil
}

// emit writes snap to the configured output file, or stdout.
func (j *job) emit(snap *model.Snapshot, stdout io.Writer) error {
	if j.cfg.Output == "" {
		return snapshot.Write(stdout, snap, j.cfg.Format)
	}
	var buf bytes.Buffer
	if err := snapshot.Write(&buf, snap, j.cfg.Format); err != nil {
		return err
	}
	if err := os.WriteFile(j.cfg.Output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	j.logger.Info("wrote snapshot", "path", j.cfg.Output, "units", len(snap.Units))
	return nil
}

func analyzeCommand(c *cli.Context, stdout, stderr io.Writer) error {
	j, err := newJob(c, stderr)
	if err != nil {
		return err
	}
	snap, err := j.snapshot()
	if err != nil {
		return err
	}
	return j.emit(snap, stdout)
}

func watchCommand(c *cli.Context, stdout, stderr io.Writer) error {
	j, err := newJob(c, stderr)
	if err != nil {
		return err
	}

	refresh := func() error {
		start := time.Now()
		snap, err := j.snapshot()
		if err != nil {
			return err
		}
		if err := j.emit(snap, stdout); err != nil {
			return err
		}
		j.logger.Info("analyzed", "units", len(snap.Units), "elapsed", time.Since(start))
		return nil
	}
	if err := refresh(); err != nil {
		return err
	}

	w := &watch.Watcher{
		Root:     j.root,
		Debounce: c.Duration("debounce"),
		Filter:   j.cfg.DiscoverOptions(),
		Logger:   j.logger,
	}
	return w.Run(c.Context, func(changed []string) {
		j.logger.Debug("sources changed", "paths", changed)
		if err := refresh(); err != nil {
			j.logger.Error("re-analysis failed", "err", err)
		}
	})
}

// flagsWithValue lists flags that take a value argument.
var flagsWithValue = map[string]bool{
	"-c": true, "--c": true,
	"-config": true, "--config": true,
	"-f": true, "--f": true,
	"-format": true, "--format": true,
	"-o": true, "--o": true,
	"-output": true, "--output": true,
	"-n": true, "--n": true,
	"-max-units": true, "--max-units": true,
	"-file": true, "--file": true,
	"-name": true, "--name": true,
	"-include": true, "--include": true,
	"-exclude": true, "--exclude": true,
	"-workers": true, "--workers": true,
	"-top": true, "--top": true,
	"-max-file-size": true, "--max-file-size": true,
	"-suggest": true, "--suggest": true,
	"-debounce": true, "--debounce": true,
	"-doc": true, "--doc": true,
}

// normalizeArgs reorders arguments after the subcommand name, if any.
func normalizeArgs(args []string) []string {
	if len(args) > 0 && (args[0] == "watch" || args[0] == "notes") {
		return append([]string{args[0]}, reorderArgs(args[1:])...)
	}
	return reorderArgs(args)
}

// reorderArgs moves positional arguments after all flags so the flag parser
// can parse them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(args[i]) > 0 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if flagsWithValue[args[i]] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
