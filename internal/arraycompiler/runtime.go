package arraycompiler

import (
	"fmt"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

// ArrayMachine is a single running instance of a CompiledGraph. It wraps a
// core.Machine one-for-one: the microstep algorithm, Configuration
// invariants and action/guard execution are exactly core's, so any sequence
// of events produces byte-identical snapshots whether driven through this
// index-based surface or directly through core.Machine on the same graph
// (the array-vs-reflective equivalence invariant). What changes is the
// caller-facing surface: events and states are addressed by uint16 index
// instead of string, avoiding a map lookup per Send on the hot path.
type ArrayMachine struct {
	compiled *CompiledGraph
	machine  *core.Machine
}

// NewArrayMachine compiles and binds graph exactly as core.NewMachine does,
// then wraps the result for index-addressed access.
func NewArrayMachine(id string, graph primitives.MachineConfig, actions core.ActionTable, guards core.GuardTable, opts ...core.Option) (*ArrayMachine, error) {
	compiled, err := Compile(graph)
	if err != nil {
		return nil, err
	}
	m, err := core.NewMachine(id, graph, actions, guards, opts...)
	if err != nil {
		return nil, err
	}
	return &ArrayMachine{compiled: compiled, machine: m}, nil
}

// Compiled returns the dense tables backing this machine's graph.
func (am *ArrayMachine) Compiled() *CompiledGraph { return am.compiled }

// Start delegates to the wrapped core.Machine.
func (am *ArrayMachine) Start() error { return am.machine.Start() }

// Stop delegates to the wrapped core.Machine.
func (am *ArrayMachine) Stop() error { return am.machine.Stop() }

// Underlying returns the wrapped core.Machine, for callers that need
// access to features ArrayMachine does not re-expose (Restore, Visualize,
// Reset, Fault).
func (am *ArrayMachine) Underlying() *core.Machine { return am.machine }

// SendIndex enqueues the event named by eventIndex, resolved against the
// compiled SymbolMap. Returns an error if eventIndex is out of range or the
// mailbox is full.
func (am *ArrayMachine) SendIndex(eventIndex uint16, data any) error {
	if int(eventIndex) >= len(am.compiled.Symbols.Events) {
		return fmt.Errorf("arraycompiler: event index %d out of range", eventIndex)
	}
	eventType := am.compiled.Symbols.Events[eventIndex]
	return am.machine.Send(primitives.NewEvent(eventType, data))
}

// EventIndex resolves an event name to its compiled index, for callers that
// want to cache the lookup once and reuse SendIndex on a hot path.
func (am *ArrayMachine) EventIndex(eventType string) (uint16, bool) {
	idx, ok := am.compiled.Symbols.EventIndex[eventType]
	return idx, ok
}

// CurrentIndices returns the active leaf set as compiled state indices
// instead of dotted paths.
func (am *ArrayMachine) CurrentIndices() []uint16 {
	active := am.machine.Current()
	out := make([]uint16, 0, len(active))
	for _, path := range active {
		if idx, ok := am.compiled.Symbols.StateIndex[path]; ok {
			out = append(out, idx)
		}
	}
	return out
}

// Snapshot delegates to the wrapped core.Machine; snapshots are always
// path-addressed since they are meant to be portable/persistable across a
// graph recompilation.
func (am *ArrayMachine) Snapshot() core.Snapshot { return am.machine.Snapshot() }
