package config

import (
	"fmt"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// parseKDL applies a .cobolmap.kdl document to cfg:
//
//	format "json"
//	workers 4
//	include "sales/**" "stock/**"
//	exclude { "**/old/**" }
//	marker "sales" "sales/"
//
// Unknown nodes are ignored.
func parseKDL(content string, cfg *Config) error {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("parsing KDL: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "format":
			if s, ok := firstStringArg(n); ok {
				cfg.Format = strings.ToLower(s)
			}
		case "output":
			if s, ok := firstStringArg(n); ok {
				cfg.Output = s
			}
		case "default-tag":
			if s, ok := firstStringArg(n); ok {
				cfg.DefaultTag = s
			}
		case "workers":
			assignInt(n, &cfg.Workers)
		case "top":
			assignInt(n, &cfg.Top)
		case "max-units":
			assignInt(n, &cfg.MaxUnits)
		case "max-file-size":
			assignInt(n, &cfg.MaxFileSize)
		case "cache-size":
			assignInt(n, &cfg.CacheSize)
		case "separate-namespaces":
			if b, ok := firstBoolArg(n); ok {
				cfg.SeparateNamespaces = b
			}
		case "suggest-threshold":
			if f, ok := firstFloatArg(n); ok {
				cfg.SuggestThreshold = f
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		case "marker":
			args := collectStringArgs(n)
			if len(args) != 2 {
				return fmt.Errorf("marker: want tag and fragment, got %d values", len(args))
			}
			cfg.Markers = append(cfg.Markers, Marker{Tag: args[0], Fragment: args[1]})
		}
	}
	return nil
}

func assignInt(n *document.Node, target *int) {
	if v, ok := firstIntArg(n); ok {
		*target = v
	}
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "on":
			return true, true
		case "false", "no", "off":
			return false, true
		}
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// collectStringArgs returns the node's string arguments, or for block form
// the first argument (or bare name) of each child.
func collectStringArgs(n *document.Node) []string {
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) > 0 || len(n.Children) == 0 {
		return out
	}
	for _, child := range n.Children {
		if s, ok := firstStringArg(child); ok {
			out = append(out, s)
		} else if child.Name != nil {
			if s, ok := child.Name.Value.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
