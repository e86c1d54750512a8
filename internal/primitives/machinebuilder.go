// MachineBuilder provides a fluent, programmatic way to construct a
// MachineConfig without going through the JSON loader. Used by tests,
// benchmarks and examples that want to build a graph directly in Go.
package primitives

// MachineBuilder builds a single-root MachineConfig fluently.
type MachineBuilder struct {
	config *MachineConfig
	stack  []*StateConfig
}

// NewMachineBuilder creates a builder for machine machineID whose root node
// is root. Call Root for a StateBuilder positioned on the root, then descend
// with Compound/Parallel/Atomic/Final on children.
func NewMachineBuilder(machineID string, root *StateConfig) *MachineBuilder {
	b := &MachineBuilder{
		config: &MachineConfig{ID: machineID, Root: root},
		stack:  []*StateConfig{root},
	}
	return b
}

// Root returns a StateBuilder positioned at the graph's root.
func (b *MachineBuilder) Root() *StateBuilder {
	return &StateBuilder{state: b.stack[0], mb: b}
}

// StateBuilder provides fluent methods for configuring one node and
// descending into its children.
type StateBuilder struct {
	state *StateConfig
	mb    *MachineBuilder
}

// WithInitial sets the Initial child id (compound nodes only).
func (sb *StateBuilder) WithInitial(initial string) *StateBuilder {
	sb.state.WithInitial(initial)
	return sb
}

// Transition adds an event-triggered transition from this node.
func (sb *StateBuilder) Transition(event string, trans TransitionConfig) *StateBuilder {
	sb.state.AddTransition(event, trans)
	return sb
}

// Always adds an eventless transition from this node.
func (sb *StateBuilder) Always(trans TransitionConfig) *StateBuilder {
	sb.state.AddAlways(trans)
	return sb
}

// After adds a delayed transition from this node.
func (sb *StateBuilder) After(delayMs int64, trans TransitionConfig) *StateBuilder {
	sb.state.AddAfter(delayMs, trans)
	return sb
}

// Entry appends an entry action symbol.
func (sb *StateBuilder) Entry(action string) *StateBuilder {
	sb.state.AddEntry(action)
	return sb
}

// Exit appends an exit action symbol.
func (sb *StateBuilder) Exit(action string) *StateBuilder {
	sb.state.AddExit(action)
	return sb
}

// Compound appends a compound child and returns a builder positioned on it.
func (sb *StateBuilder) Compound(id string) *StateBuilder {
	return sb.child(id, Compound)
}

// Parallel appends a parallel child and returns a builder positioned on it.
func (sb *StateBuilder) Parallel(id string) *StateBuilder {
	return sb.child(id, Parallel)
}

// Atomic appends an atomic child and returns a builder positioned on it.
func (sb *StateBuilder) Atomic(id string) *StateBuilder {
	return sb.child(id, Atomic)
}

// Final appends a final child and returns a builder positioned on it.
func (sb *StateBuilder) Final(id string) *StateBuilder {
	return sb.child(id, Final)
}

func (sb *StateBuilder) child(id string, typ StateType) *StateBuilder {
	c := NewStateConfig(id, typ)
	sb.state.AddChild(c)
	return &StateBuilder{state: c, mb: sb.mb}
}

// Up returns a builder positioned on this node's parent, or itself if this
// is the root.
func (sb *StateBuilder) Up() *StateBuilder {
	if sb.state.Parent == nil {
		return sb
	}
	return &StateBuilder{state: sb.state.Parent, mb: sb.mb}
}

// Build resolves dotted paths, fills MachineConfig.Index, and validates the
// result.
func (b *MachineBuilder) Build() (MachineConfig, error) {
	ResolvePaths(b.config.Root, "")
	b.config.Index = b.config.Root.Flatten()
	if err := b.config.Validate(); err != nil {
		return MachineConfig{}, err
	}
	return *b.config, nil
}

// ResolvePaths assigns the fully-qualified dotted Path to s and every
// descendant, given the dotted path of s's parent (empty for the root).
// Shared by MachineBuilder and the loader so both produce identically
// shaped graphs.
func ResolvePaths(s *StateConfig, parentPath string) {
	if parentPath == "" {
		s.Path = s.ID
	} else {
		s.Path = parentPath + "." + s.ID
	}
	for _, child := range s.Children {
		ResolvePaths(child, s.Path)
	}
}
