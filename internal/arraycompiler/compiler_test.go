package arraycompiler

import (
	"testing"

	"github.com/cmpforge/statefabric/internal/primitives"
)

func buildTrafficGraph(t *testing.T) primitives.MachineConfig {
	t.Helper()
	root := primitives.NewStateConfig("light", primitives.Compound).WithInitial("red")
	b := primitives.NewMachineBuilder("light", root)
	b.Root().
		Atomic("red").
		Transition("TIMER", primitives.TransitionConfig{Targets: []string{"light.yellow"}}).
		Up().
		Atomic("yellow").
		Transition("TIMER", primitives.TransitionConfig{Targets: []string{"light.green"}}).
		Up().
		Atomic("green").
		Transition("TIMER", primitives.TransitionConfig{Targets: []string{"light.red"}, Guard: "canAdvance"})

	graph, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return graph
}

func TestCompileAssignsStableIndices(t *testing.T) {
	graph := buildTrafficGraph(t)
	cg, err := Compile(graph)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(cg.States) != 4 { // light, red, yellow, green
		t.Fatalf("got %d states, want 4", len(cg.States))
	}
	rootIdx, ok := cg.Symbols.StateIndex["light"]
	if !ok || rootIdx != cg.RootIndex {
		t.Errorf("root index mismatch: StateIndex[light]=%d RootIndex=%d", rootIdx, cg.RootIndex)
	}
	redIdx, ok := cg.Symbols.StateIndex["light.red"]
	if !ok {
		t.Fatal("light.red not interned")
	}
	red := cg.States[redIdx]
	if red.ParentIndex != int32(cg.RootIndex) {
		t.Errorf("red.ParentIndex = %d, want %d", red.ParentIndex, cg.RootIndex)
	}
}

func TestCompileInternsEventsActionsGuards(t *testing.T) {
	graph := buildTrafficGraph(t)
	cg, err := Compile(graph)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(cg.Symbols.Events) != 1 || cg.Symbols.Events[0] != "TIMER" {
		t.Errorf("events = %v, want [TIMER]", cg.Symbols.Events)
	}
	if len(cg.Symbols.Guards) != 1 || cg.Symbols.Guards[0] != "canAdvance" {
		t.Errorf("guards = %v, want [canAdvance]", cg.Symbols.Guards)
	}

	greenIdx := cg.Symbols.StateIndex["light.green"]
	timerIdx := cg.Symbols.EventIndex["TIMER"]
	transitions := cg.States[greenIdx].Transitions[timerIdx]
	if len(transitions) != 1 {
		t.Fatalf("green.TIMER transitions = %d, want 1", len(transitions))
	}
	if transitions[0].GuardIndex != int32(cg.Symbols.GuardIndex["canAdvance"]) {
		t.Errorf("guard index mismatch")
	}
	redIdx := cg.Symbols.StateIndex["light.red"]
	if transitions[0].TargetStateIndices[0] != redIdx {
		t.Errorf("target index = %d, want %d", transitions[0].TargetStateIndices[0], redIdx)
	}
}

func TestEnsureWidthRejectsOversizedGraph(t *testing.T) {
	graph := buildTrafficGraph(t)
	cg, err := Compile(graph)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := cg.EnsureWidth(8); err != nil {
		t.Errorf("4-state graph should fit in 8 bits: %v", err)
	}
	if err := cg.EnsureWidth(1); err == nil {
		t.Error("expected EnsureWidth(1) to reject a 4-state graph")
	}
}
