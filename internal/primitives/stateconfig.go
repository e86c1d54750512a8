// StateConfig represents a node in the statechart hierarchy: atomic,
// compound, parallel or final. Transitions are keyed by event name; zero or
// more targets are resolved to fully-qualified dotted paths by the loader
// before the graph is considered usable by the interpreter.
package primitives

import (
	"errors"
	"fmt"
	"strings"
)

// StateType defines the possible types of states in the statechart.
type StateType string

const (
	Atomic   StateType = "atomic"
	Compound StateType = "compound"
	Parallel StateType = "parallel"
	Final    StateType = "final"

	// ShallowHistory is a pseudo-state that, on entry, re-enters the child
	// that was last active in its parent compound region instead of the
	// region's declared Initial. It has no children of its own.
	ShallowHistory StateType = "shallowHistory"
)

// StateConfig defines a state configuration, supporting hierarchical nesting.
type StateConfig struct {
	ID      string    `json:"id" yaml:"id"`
	Type    StateType `json:"type" yaml:"type"`
	Initial string    `json:"initial,omitempty" yaml:"initial,omitempty"`

	// On holds event-triggered transitions, keyed by event name. Each list
	// is evaluated in declared order; the first transition whose guard
	// passes is selected.
	On map[string][]TransitionConfig `json:"on,omitempty" yaml:"on,omitempty"`

	// Always holds eventless transitions re-evaluated after every
	// macrostep until none fire.
	Always []TransitionConfig `json:"always,omitempty" yaml:"always,omitempty"`

	// After holds delayed transitions, keyed by delay in milliseconds.
	After map[int64][]TransitionConfig `json:"after,omitempty" yaml:"after,omitempty"`

	Entry []string `json:"entry,omitempty" yaml:"entry,omitempty"`
	Exit  []string `json:"exit,omitempty" yaml:"exit,omitempty"`

	Children []*StateConfig `json:"states,omitempty" yaml:"states,omitempty"`

	// Parent is a non-serialized back-reference, wired by the loader after
	// parsing. nil for the root.
	Parent *StateConfig `json:"-" yaml:"-"`

	// Path is the fully-qualified dotted id assigned by the loader
	// ("root.region.child"). Empty until the graph has been loaded.
	Path string `json:"-" yaml:"-"`
}

// NewStateConfig creates a new StateConfig with ID and Type.
func NewStateConfig(id string, typ StateType) *StateConfig {
	return &StateConfig{ID: id, Type: typ}
}

// WithInitial sets the initial child state ID (for compound nodes).
func (s *StateConfig) WithInitial(initial string) *StateConfig {
	s.Initial = initial
	return s
}

// AddTransition appends a transition for an event, preserving declaration order.
func (s *StateConfig) AddTransition(event string, trans TransitionConfig) *StateConfig {
	if s.On == nil {
		s.On = make(map[string][]TransitionConfig)
	}
	trans.Event = event
	s.On[event] = append(s.On[event], trans)
	return s
}

// AddAlways appends an eventless transition.
func (s *StateConfig) AddAlways(trans TransitionConfig) *StateConfig {
	s.Always = append(s.Always, trans)
	return s
}

// AddAfter appends a delayed transition, keyed by delay in milliseconds.
func (s *StateConfig) AddAfter(delayMs int64, trans TransitionConfig) *StateConfig {
	if s.After == nil {
		s.After = make(map[int64][]TransitionConfig)
	}
	s.After[delayMs] = append(s.After[delayMs], trans)
	return s
}

// AddEntry appends an entry action symbol.
func (s *StateConfig) AddEntry(action string) *StateConfig {
	s.Entry = append(s.Entry, action)
	return s
}

// AddExit appends an exit action symbol.
func (s *StateConfig) AddExit(action string) *StateConfig {
	s.Exit = append(s.Exit, action)
	return s
}

// AddChild appends a child state in document order.
func (s *StateConfig) AddChild(child *StateConfig) *StateConfig {
	child.Parent = s
	s.Children = append(s.Children, child)
	return s
}

// ChildByID returns the direct child with the given local (non-dotted) id.
func (s *StateConfig) ChildByID(id string) *StateConfig {
	for _, c := range s.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Flatten returns a flat map[path]*StateConfig for this node and all of its
// descendants, keyed by the already-resolved Path field.
func (s *StateConfig) Flatten() map[string]*StateConfig {
	m := make(map[string]*StateConfig)
	s.flattenHelper(m)
	return m
}

func (s *StateConfig) flattenHelper(m map[string]*StateConfig) {
	if s.Path != "" {
		m[s.Path] = s
	}
	for _, child := range s.Children {
		child.flattenHelper(m)
	}
}

// Validate performs structural validation local to this node. Cross-node
// checks (target resolution, cycle detection) belong to the loader, which
// has the full id index.
func (s *StateConfig) Validate() error {
	if s.ID == "" {
		return errors.New("state ID is required")
	}
	for _, r := range s.ID {
		if r == '.' {
			return fmt.Errorf("state ID %q must not contain '.': dots are reserved for path separation", s.ID)
		}
	}

	switch s.Type {
	case Atomic, Compound, Parallel, Final, ShallowHistory:
	case "":
		return fmt.Errorf("state %s is missing a type", s.ID)
	default:
		return fmt.Errorf("invalid state type %q for state %s", s.Type, s.ID)
	}

	switch s.Type {
	case Atomic, Final, ShallowHistory:
		if len(s.Children) > 0 {
			return fmt.Errorf("%s state %s cannot have child states", s.Type, s.ID)
		}
		if s.Initial != "" {
			return fmt.Errorf("%s state %s cannot declare Initial", s.Type, s.ID)
		}
	case Compound:
		if len(s.Children) == 0 {
			return fmt.Errorf("compound state %s requires child states", s.ID)
		}
		if s.Initial == "" {
			return fmt.Errorf("compound state %s requires an Initial child", s.ID)
		}
		if s.ChildByID(s.Initial) == nil {
			return fmt.Errorf("initial child %q not found among children of %s", s.Initial, s.ID)
		}
	case Parallel:
		if len(s.Children) == 0 {
			return fmt.Errorf("parallel state %s requires child regions", s.ID)
		}
		if s.Initial != "" {
			return fmt.Errorf("parallel state %s must not declare Initial", s.ID)
		}
	}

	seen := make(map[string]bool, len(s.Children))
	for _, child := range s.Children {
		if seen[child.ID] {
			return fmt.Errorf("duplicate child id %q under state %s", child.ID, s.ID)
		}
		seen[child.ID] = true
		if err := child.Validate(); err != nil {
			return err
		}
	}

	for event, transList := range s.On {
		if strings.TrimSpace(event) == "" {
			return fmt.Errorf("empty event name in On map for state %s", s.ID)
		}
		for i := range transList {
			if err := transList[i].Validate(); err != nil {
				return fmt.Errorf("state %s event %q transition %d: %w", s.ID, event, i, err)
			}
		}
	}
	for i := range s.Always {
		if err := s.Always[i].Validate(); err != nil {
			return fmt.Errorf("state %s always transition %d: %w", s.ID, i, err)
		}
	}
	for delay, transList := range s.After {
		if delay < 0 {
			return fmt.Errorf("state %s has negative after delay %d", s.ID, delay)
		}
		for i := range transList {
			if err := transList[i].Validate(); err != nil {
				return fmt.Errorf("state %s after(%d) transition %d: %w", s.ID, delay, i, err)
			}
		}
	}

	return nil
}
