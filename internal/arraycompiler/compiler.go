// Package arraycompiler compiles a primitives.MachineConfig into dense,
// integer-indexed lookup tables (states, events, actions, guards) for
// high-throughput callers that want to avoid per-Send string hashing. The
// topology and transition semantics are unchanged from the reflective
// interpreter in internal/core — ArrayMachine wraps a core.Machine and
// translates between indices and the dotted paths/symbols core already
// understands, so the two forms are equivalent by construction rather than
// by two independently maintained implementations of the microstep
// algorithm drifting in sync.
package arraycompiler

import (
	"fmt"
	"sort"

	"github.com/cmpforge/statefabric/internal/primitives"
)

// SymbolMap is a bidirectional string<->small-integer mapping per domain:
// states, events, actions, guards.
type SymbolMap struct {
	States     []string
	StateIndex map[string]uint16

	Events     []string
	EventIndex map[string]uint16

	Actions     []string
	ActionIndex map[string]uint16

	Guards     []string
	GuardIndex map[string]uint16
}

func newSymbolMap() *SymbolMap {
	return &SymbolMap{
		StateIndex:  make(map[string]uint16),
		EventIndex:  make(map[string]uint16),
		ActionIndex: make(map[string]uint16),
		GuardIndex:  make(map[string]uint16),
	}
}

func intern(table *[]string, index map[string]uint16, symbol string) uint16 {
	if i, ok := index[symbol]; ok {
		return i
	}
	i := uint16(len(*table))
	*table = append(*table, symbol)
	index[symbol] = i
	return i
}

// noGuard marks a CompiledTransition as unconditional.
const noGuard int32 = -1

// CompiledTransition is the dense equivalent of primitives.TransitionConfig:
// targets, guard and actions resolved to indices against a SymbolMap.
type CompiledTransition struct {
	TargetStateIndices []uint16
	GuardIndex         int32 // noGuard when unconditional
	ActionIndices      []uint16
	Internal           bool
}

// CompiledState is the dense equivalent of one primitives.StateConfig node.
type CompiledState struct {
	Index       uint16
	Path        string
	Type        primitives.StateType
	ParentIndex int32 // -1 for root
	Initial     int32 // child state index, -1 if none (atomic/parallel)
	Children    []uint16

	EntryActionIndices []uint16
	ExitActionIndices  []uint16

	// Transitions is keyed by event index.
	Transitions map[uint16][]CompiledTransition
	Always      []CompiledTransition
	// After is keyed by delay in milliseconds, same convention as
	// primitives.StateConfig.After.
	After map[int64][]CompiledTransition
}

// CompiledGraph is the output of Compile: the original graph plus its dense
// index tables.
type CompiledGraph struct {
	Graph     primitives.MachineConfig
	Symbols   *SymbolMap
	States    []CompiledState
	RootIndex uint16
}

// Compile walks graph in deterministic pre-order (document order from the
// root) and assigns each state, referenced event, action and guard symbol a
// stable small-integer index.
func Compile(graph primitives.MachineConfig) (*CompiledGraph, error) {
	if graph.Root == nil {
		return nil, fmt.Errorf("arraycompiler: graph has no root")
	}
	symbols := newSymbolMap()
	cg := &CompiledGraph{Graph: graph, Symbols: symbols}

	var order []*primitives.StateConfig
	var walk func(s *primitives.StateConfig)
	walk = func(s *primitives.StateConfig) {
		order = append(order, s)
		for _, c := range s.Children {
			walk(c)
		}
	}
	walk(graph.Root)

	pathToIndex := make(map[string]uint16, len(order))
	for i, s := range order {
		idx := uint16(i)
		pathToIndex[s.Path] = idx
		symbols.StateIndex[s.Path] = idx
		symbols.States = append(symbols.States, s.Path)
	}

	cg.RootIndex = pathToIndex[graph.Root.Path]
	cg.States = make([]CompiledState, len(order))

	for i, s := range order {
		cs := CompiledState{
			Index:       uint16(i),
			Path:        s.Path,
			Type:        s.Type,
			ParentIndex: -1,
			Initial:     -1,
		}
		if s.Parent != nil {
			if pi, ok := pathToIndex[s.Parent.Path]; ok {
				cs.ParentIndex = int32(pi)
			}
		}
		if s.Initial != "" {
			initialPath := s.Path + "." + s.Initial
			if ii, ok := pathToIndex[initialPath]; ok {
				cs.Initial = int32(ii)
			}
		}
		for _, c := range s.Children {
			if ci, ok := pathToIndex[c.Path]; ok {
				cs.Children = append(cs.Children, ci)
			}
		}
		for _, sym := range s.Entry {
			cs.EntryActionIndices = append(cs.EntryActionIndices, intern(&symbols.Actions, symbols.ActionIndex, sym))
		}
		for _, sym := range s.Exit {
			cs.ExitActionIndices = append(cs.ExitActionIndices, intern(&symbols.Actions, symbols.ActionIndex, sym))
		}
		if len(s.On) > 0 {
			cs.Transitions = make(map[uint16][]CompiledTransition, len(s.On))
			for event, transList := range s.On {
				eventIdx := intern(&symbols.Events, symbols.EventIndex, event)
				compiled, err := compileTransitions(transList, pathToIndex, symbols)
				if err != nil {
					return nil, fmt.Errorf("state %s event %q: %w", s.Path, event, err)
				}
				cs.Transitions[eventIdx] = compiled
			}
		}
		if len(s.Always) > 0 {
			compiled, err := compileTransitions(s.Always, pathToIndex, symbols)
			if err != nil {
				return nil, fmt.Errorf("state %s always: %w", s.Path, err)
			}
			cs.Always = compiled
		}
		if len(s.After) > 0 {
			cs.After = make(map[int64][]CompiledTransition, len(s.After))
			for delay, transList := range s.After {
				compiled, err := compileTransitions(transList, pathToIndex, symbols)
				if err != nil {
					return nil, fmt.Errorf("state %s after(%d): %w", s.Path, delay, err)
				}
				cs.After[delay] = compiled
			}
		}
		cg.States[i] = cs
	}

	return cg, nil
}

func compileTransitions(transList []primitives.TransitionConfig, pathToIndex map[string]uint16, symbols *SymbolMap) ([]CompiledTransition, error) {
	out := make([]CompiledTransition, 0, len(transList))
	for _, t := range transList {
		ct := CompiledTransition{GuardIndex: noGuard, Internal: t.Internal}
		for _, target := range t.Targets {
			idx, ok := pathToIndex[target]
			if !ok {
				return nil, fmt.Errorf("unresolved target %q", target)
			}
			ct.TargetStateIndices = append(ct.TargetStateIndices, idx)
		}
		if t.Guard != "" {
			gi := intern(&symbols.Guards, symbols.GuardIndex, t.Guard)
			ct.GuardIndex = int32(gi)
		}
		for _, sym := range t.Actions {
			ct.ActionIndices = append(ct.ActionIndices, intern(&symbols.Actions, symbols.ActionIndex, sym))
		}
		out = append(out, ct)
	}
	return out, nil
}

// EnsureWidth reports an error if the graph's state count exceeds what fits
// in bits-wide indices (the reference width is 8 bits, i.e. 255 states;
// widen to 16 for larger graphs). Compile itself always uses uint16
// internally regardless of this check, so callers targeting a narrower
// wire format (e.g. an 8-bit GPU batch table) can call this to confirm
// their graph actually fits before truncating indices.
func (cg *CompiledGraph) EnsureWidth(bits int) error {
	max := (1 << uint(bits)) - 1
	if len(cg.States) > max {
		return fmt.Errorf("arraycompiler: graph has %d states, exceeds %d-bit limit of %d", len(cg.States), bits, max)
	}
	return nil
}

// SortedEventNames returns a copy of the interned event symbols sorted
// lexically (not in index order), useful for building an external dense dispatch table (e.g. for the GPU
// batch executor's table contract).
func (cg *CompiledGraph) SortedEventNames() []string {
	out := append([]string(nil), cg.Symbols.Events...)
	sort.Strings(out)
	return out
}
