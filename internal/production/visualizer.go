// Package production provides production integrations: persistence, event
// publishing, and visualization, implemented with stdlib and the pack's
// ecosystem libraries.
package production

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

// DefaultVisualizer renders a MachineConfig's hierarchy and current
// Configuration as Graphviz DOT, or the raw graph as JSON.
type DefaultVisualizer struct{}

// ExportDOT generates Graphviz DOT source for the statechart, highlighting
// active leaves and their ancestors.
func (v *DefaultVisualizer) ExportDOT(config primitives.MachineConfig, active []string) string {
	var buf bytes.Buffer
	buf.WriteString("digraph Statechart {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box, fontsize=10, style=rounded];\n")
	buf.WriteString("  edge [fontsize=9];\n")

	activeSet := activePathSet(active)
	if config.Root != nil {
		renderState(&buf, config.Root, activeSet)
		var edges []edge
		collectEdges(config.Root, &edges)
		for _, e := range edges {
			buf.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.from, e.to, e.label))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// ExportJSON serializes the machine config to JSON.
func (v *DefaultVisualizer) ExportJSON(config primitives.MachineConfig) ([]byte, error) {
	return json.MarshalIndent(config, "", "  ")
}

// activePathSet expands every active leaf path into the set of all its
// ancestor paths (inclusive), so ancestor clusters get highlighted too.
func activePathSet(active []string) map[string]bool {
	set := make(map[string]bool)
	for _, path := range active {
		set[path] = true
		p := path
		for {
			idx := lastDot(p)
			if idx < 0 {
				break
			}
			p = p[:idx]
			set[p] = true
		}
	}
	return set
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

type edge struct {
	from, to, label string
}

func collectEdges(s *primitives.StateConfig, out *[]edge) {
	for event, transList := range s.On {
		for _, t := range transList {
			for _, target := range t.Targets {
				*out = append(*out, edge{from: s.Path, to: target, label: event})
			}
		}
	}
	for _, t := range s.Always {
		for _, target := range t.Targets {
			*out = append(*out, edge{from: s.Path, to: target, label: "always"})
		}
	}
	for delay, transList := range s.After {
		for _, t := range transList {
			for _, target := range t.Targets {
				*out = append(*out, edge{from: s.Path, to: target, label: fmt.Sprintf("after(%dms)", delay)})
			}
		}
	}
	for _, child := range s.Children {
		collectEdges(child, out)
	}
}

func renderState(buf *bytes.Buffer, s *primitives.StateConfig, active map[string]bool) {
	if len(s.Children) > 0 {
		clusterID := "cluster_" + sanitize(s.Path)
		buf.WriteString(fmt.Sprintf("  subgraph %s {\n", clusterID))
		buf.WriteString(fmt.Sprintf("    label=%q;\n", fmt.Sprintf("%s (%s)", s.ID, s.Type)))
		if s.Type == primitives.Parallel {
			buf.WriteString("    style=filled; fillcolor=lightblue;\n")
		}
		style := ""
		if active[s.Path] {
			style = " style=filled fillcolor=orange"
		}
		buf.WriteString(fmt.Sprintf("    %q [label=%q shape=ellipse%s];\n", s.Path, s.ID, style))
		for _, child := range s.Children {
			renderState(buf, child, active)
		}
		buf.WriteString("  }\n")
		return
	}

	style := ""
	if active[s.Path] {
		style = " style=filled fillcolor=lightgreen"
	}
	buf.WriteString(fmt.Sprintf("  %q [label=%q%s];\n", s.Path, s.ID, style))
}

func sanitize(path string) string {
	b := []byte(path)
	for i, c := range b {
		if c == '.' {
			b[i] = '_'
		}
	}
	return string(b)
}

var _ core.Visualizer = (*DefaultVisualizer)(nil)
