// Package config layers cobolmap settings: built-in defaults, an optional
// project file (.cobolmap.toml or .cobolmap.kdl), then .env and environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/phobologic/cobolmap/internal/classify"
	"github.com/phobologic/cobolmap/internal/corpus"
	"github.com/phobologic/cobolmap/internal/discover"
	"github.com/phobologic/cobolmap/internal/graph"
	"github.com/phobologic/cobolmap/internal/metrics"
	"github.com/phobologic/cobolmap/internal/snapshot"
)

// DefaultMaxFileSize skips files larger than 1 MB.
const DefaultMaxFileSize = 1_000_000

// FileNames are the project config files looked up in the analysis root, in
// order.
var FileNames = []string{".cobolmap.toml", ".cobolmap.kdl"}

// Environment variables read by ApplyEnv.
const (
	EnvWorkers            = "COBOLMAP_WORKERS"
	EnvTop                = "COBOLMAP_TOP"
	EnvFormat             = "COBOLMAP_FORMAT"
	EnvMaxFileSize        = "COBOLMAP_MAX_FILE_SIZE"
	EnvSeparateNamespaces = "COBOLMAP_SEPARATE_NAMESPACES"
)

// Marker is a subsystem marker as written in config files.
type Marker struct {
	Tag      string `toml:"tag"`
	Fragment string `toml:"fragment"`
}

// Config holds every tunable of an analysis run.
type Config struct {
	Format             string   `toml:"format"`
	Output             string   `toml:"output"`
	MaxUnits           int      `toml:"max_units"`
	Workers            int      `toml:"workers"`
	Top                int      `toml:"top"`
	MaxFileSize        int      `toml:"max_file_size"`
	CacheSize          int      `toml:"cache_size"`
	Include            []string `toml:"include"`
	Exclude            []string `toml:"exclude"`
	SeparateNamespaces bool     `toml:"separate_namespaces"`
	SuggestThreshold   float64  `toml:"suggest_threshold"`
	DefaultTag         string   `toml:"default_tag"`
	Markers            []Marker `toml:"markers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Format:      snapshot.FormatTOON,
		Top:         metrics.DefaultTop,
		MaxFileSize: DefaultMaxFileSize,
		CacheSize:   corpus.DefaultCacheSize,
		DefaultTag:  classify.DefaultTag,
	}
}

// Find returns the first config file present in root, or "" if none is.
func Find(root string) string {
	for _, name := range FileNames {
		p := filepath.Join(root, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads the config file at path over the defaults. The format is chosen
// by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".kdl":
		if err := parseKDL(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// LoadEnv applies .env files and the process environment to c. Variables
// already set in the environment win over .env values; files default to
// ".env" in the working directory and missing files are ignored.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	vars := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("reading %s: %w", f, err)
		}
		for k, v := range m {
			if _, set := vars[k]; !set {
				vars[k] = v
			}
		}
	}
	return c.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	})
}

// ApplyEnv overrides fields from the COBOLMAP_* variables visible through
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := []struct {
		key    string
		target *int
	}{
		{EnvWorkers, &c.Workers},
		{EnvTop, &c.Top},
		{EnvMaxFileSize, &c.MaxFileSize},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.target = n
	}

	if v, ok := lookup(EnvFormat); ok && strings.TrimSpace(v) != "" {
		c.Format = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvSeparateNamespaces); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeparateNamespaces, err)
		}
		c.SeparateNamespaces = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	known := false
	for _, f := range snapshot.Formats {
		if c.Format == f {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unsupported format %q (want one of %s)", c.Format, strings.Join(snapshot.Formats, ", "))
	}

	for _, n := range []struct {
		name  string
		value int
	}{
		{"max_units", c.MaxUnits},
		{"workers", c.Workers},
		{"top", c.Top},
		{"max_file_size", c.MaxFileSize},
		{"cache_size", c.CacheSize},
	} {
		if n.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", n.name, n.value)
		}
	}

	if c.SuggestThreshold < 0 || c.SuggestThreshold > 1 {
		return fmt.Errorf("suggest_threshold must be within [0,1], got %g", c.SuggestThreshold)
	}
	for i, m := range c.Markers {
		if strings.TrimSpace(m.Tag) == "" {
			return fmt.Errorf("marker %d: empty tag", i)
		}
		if strings.TrimSpace(m.Fragment) == "" {
			return fmt.Errorf("marker %s: empty fragment", m.Tag)
		}
	}
	return c.DiscoverOptions().Validate()
}

// Classifier builds the subsystem classifier. Without configured markers the
// ACAS defaults apply.
func (c *Config) Classifier() *classify.Classifier {
	if len(c.Markers) == 0 {
		return classify.New(classify.DefaultMarkers, c.DefaultTag)
	}
	markers := make([]classify.Marker, len(c.Markers))
	for i, m := range c.Markers {
		markers[i] = classify.Marker{Tag: m.Tag, Fragment: m.Fragment}
	}
	return classify.New(markers, c.DefaultTag)
}

// DiscoverOptions returns the file filters.
func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{Include: c.Include, Exclude: c.Exclude}
}

// AnalyzerOptions returns snapshot options for an analysis of root.
func (c *Config) AnalyzerOptions(root, version string, logger *slog.Logger) snapshot.Options {
	return snapshot.Options{
		Root:       root,
		Version:    version,
		Classifier: c.Classifier(),
		Workers:    c.Workers,
		CacheSize:  c.CacheSize,
		Top:        c.Top,
		Resolver: graph.Options{
			SeparateNamespaces: c.SeparateNamespaces,
			SuggestThreshold:   c.SuggestThreshold,
			Logger:             logger,
		},
		Logger: logger,
	}
}
