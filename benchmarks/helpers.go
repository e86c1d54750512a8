// Package benchmarks provides shared helpers for benchmark tests.
package benchmarks

import (
	"fmt"
	"time"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
	"gopkg.in/yaml.v3"
)

// GenFlatConfig creates a flat machine with n atomic states cycling via "tick" events.
func GenFlatConfig(n int) primitives.MachineConfig {
	if n < 1 {
		n = 1
	}
	root := primitives.NewStateConfig("root", primitives.Compound).WithInitial("s0")
	b := primitives.NewMachineBuilder(fmt.Sprintf("flat_%d", n), root)
	for i := 0; i < n; i++ {
		target := fmt.Sprintf("root.s%d", (i+1)%n)
		b.Root().Atomic(fmt.Sprintf("s%d", i)).
			Transition("tick", primitives.TransitionConfig{Targets: []string{target}})
	}
	config, err := b.Build()
	if err != nil {
		panic(err)
	}
	return config
}

// GenDeepConfig creates a hierarchy of depth nested compound states, with a
// pair of self-flipping leaves at the bottom.
func GenDeepConfig(depth int) primitives.MachineConfig {
	if depth < 1 {
		depth = 1
	}
	initialOf := func(level int) string {
		if level+1 < depth {
			return fmt.Sprintf("c%d", level+1)
		}
		return "leaf1"
	}
	root := primitives.NewStateConfig("c0", primitives.Compound).WithInitial(initialOf(0))
	b := primitives.NewMachineBuilder(fmt.Sprintf("deep_%d", depth), root)
	sb := b.Root()
	leafParent := "c0"
	for i := 1; i < depth; i++ {
		sb = sb.Compound(fmt.Sprintf("c%d", i)).WithInitial(initialOf(i))
		leafParent += fmt.Sprintf(".c%d", i)
	}
	sb.Atomic("leaf1").Transition("tick", primitives.TransitionConfig{Targets: []string{leafParent + ".leaf2"}})
	sb.Atomic("leaf2").Transition("tick", primitives.TransitionConfig{Targets: []string{leafParent + ".leaf1"}})
	config, err := b.Build()
	if err != nil {
		panic(err)
	}
	return config
}

// GenWideTransitions creates one main state with many outgoing "tick"
// transitions, in priority order: only the first (highest priority) guard
// passes, exercising first-match-wins selection over a wide candidate set.
func GenWideTransitions(numTransitions int) primitives.MachineConfig {
	if numTransitions < 1 {
		numTransitions = 1
	}
	root := primitives.NewStateConfig("root", primitives.Compound).WithInitial("main")
	b := primitives.NewMachineBuilder(fmt.Sprintf("wide_%d", numTransitions), root)
	main := b.Root().Atomic("main")
	for i := 0; i < numTransitions; i++ {
		target := fmt.Sprintf("root.target%d", i)
		guardName := fmt.Sprintf("onlyFirst%d", i)
		main.Transition("tick", primitives.TransitionConfig{Targets: []string{target}, Guard: guardName})
	}
	for i := 0; i < numTransitions; i++ {
		target := fmt.Sprintf("target%d", i)
		b.Root().Atomic(target).Transition("tick", primitives.TransitionConfig{Targets: []string{"root.main"}})
	}
	config, err := b.Build()
	if err != nil {
		panic(err)
	}
	return config
}

// WideGuards builds the GuardTable matching GenWideTransitions: only guard
// index 0 ever passes.
func WideGuards(numTransitions int) core.GuardTable {
	guards := make(core.GuardTable, numTransitions)
	for i := 0; i < numTransitions; i++ {
		i := i
		guards[fmt.Sprintf("onlyFirst%d", i)] = func(ctx *primitives.Context, e primitives.Event) bool {
			return i == 0
		}
	}
	return guards
}

// SnapshotFromMachine creates a core.Snapshot from a running machine.
func SnapshotFromMachine(m *core.Machine) core.Snapshot {
	return m.Snapshot()
}

// GenSnapshotYAML generates YAML bytes for a snapshot of given size.
func GenSnapshotYAML(numStates int, hierarchical bool) []byte {
	var config primitives.MachineConfig
	if hierarchical {
		config = GenDeepConfig(5)
	} else {
		config = GenFlatConfig(numStates)
	}
	m, err := core.NewMachine(config.ID, config, core.ActionTable{}, core.GuardTable{})
	if err != nil {
		panic(err)
	}
	if err := m.Start(); err != nil {
		panic(err)
	}
	defer m.Stop()
	e := primitives.NewEvent("tick", nil)
	m.Send(e)
	time.Sleep(time.Millisecond)
	snap := SnapshotFromMachine(m)
	data, err := yaml.Marshal(snap)
	if err != nil {
		panic(err)
	}
	return data
}
