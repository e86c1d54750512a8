// MachineConfig is the immutable StateGraph produced by the loader: a
// rooted tree of StateConfig nodes plus a flat path index used by the
// interpreter for O(1) node lookup. It carries no runtime state — the
// Configuration (active node set) belongs exclusively to a Machine.
package primitives

import (
	"errors"
	"fmt"
	"strings"
)

// MachineConfig defines the complete, load-time-resolved statechart graph.
type MachineConfig struct {
	ID      string         `json:"id" yaml:"id"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Root    *StateConfig   `json:"root" yaml:"root"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`

	// Index maps fully-qualified dotted path -> node, populated by the
	// loader's path-resolution pass. Nil until resolved.
	Index map[string]*StateConfig `json:"-" yaml:"-"`
}

// FindState resolves a state by its fully-qualified dotted path.
func (m *MachineConfig) FindState(path string) (*StateConfig, error) {
	if m.Index != nil {
		if s, ok := m.Index[path]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("state %q not found", path)
	}
	// Index not built yet (e.g. validating a hand-built tree): walk it.
	if m.Root == nil {
		return nil, errors.New("machine has no root state")
	}
	segments := strings.Split(path, ".")
	if segments[0] != m.Root.ID {
		return nil, fmt.Errorf("state %q not found", path)
	}
	current := m.Root
	for i := 1; i < len(segments); i++ {
		current = current.ChildByID(segments[i])
		if current == nil {
			return nil, fmt.Errorf("state %q not found", path)
		}
	}
	return current, nil
}

// Validate validates the whole graph: the root must be present, every node
// must structurally validate, and every transition target (on/always/after)
// must resolve to a real node reachable by dotted path from the root.
func (m *MachineConfig) Validate() error {
	if m.ID == "" {
		return errors.New("machine ID is required")
	}
	if m.Root == nil {
		return errors.New("machine requires a root state")
	}
	if err := m.Root.Validate(); err != nil {
		return fmt.Errorf("root validation failed: %w", err)
	}

	index := m.Index
	if index == nil {
		index = m.Root.Flatten()
		if len(index) == 0 {
			// Paths not resolved yet; resolve a throwaway index for
			// validation purposes only.
			index = flattenByWalk(m.Root, "")
		}
	}

	var walk func(s *StateConfig) error
	walk = func(s *StateConfig) error {
		check := func(transList []TransitionConfig, where string) error {
			for i, t := range transList {
				for _, target := range t.Targets {
					resolved := target
					if _, ok := index[resolved]; !ok {
						return fmt.Errorf("state %s %s transition %d: target %q does not resolve", s.ID, where, i, target)
					}
				}
			}
			return nil
		}
		for event, transList := range s.On {
			if err := check(transList, fmt.Sprintf("on %q", event)); err != nil {
				return err
			}
		}
		if err := check(s.Always, "always"); err != nil {
			return err
		}
		for delay, transList := range s.After {
			if err := check(transList, fmt.Sprintf("after(%d)", delay)); err != nil {
				return err
			}
		}
		for _, child := range s.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(m.Root)
}

func flattenByWalk(s *StateConfig, prefix string) map[string]*StateConfig {
	path := s.ID
	if prefix != "" {
		path = prefix + "." + s.ID
	}
	m := map[string]*StateConfig{path: s}
	for _, c := range s.Children {
		for k, v := range flattenByWalk(c, path) {
			m[k] = v
		}
	}
	return m
}
