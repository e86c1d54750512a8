package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cmpforge/statefabric/internal/primitives"
)

func buildGraph(t *testing.T, build func(root *primitives.StateBuilder)) primitives.MachineConfig {
	t.Helper()
	root := primitives.NewStateConfig("root", primitives.Compound)
	mb := primitives.NewMachineBuilder("test", root)
	build(mb.Root())
	cfg, err := mb.Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return cfg
}

func TestMachineStartInitialState(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").Atomic("idle")
	})

	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	want := []string{"root.idle"}
	if got := m.Current(); !equalStringSlices(got, want) {
		t.Errorf("Current() = %v, want %v", got, want)
	}
}

func TestMachineBasicTransitions(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").Transition("start", primitives.TransitionConfig{Targets: []string{"root.active"}}).Up().
			Atomic("active").Transition("stop", primitives.TransitionConfig{Targets: []string{"root.idle"}})
	})

	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(primitives.NewEvent("start", nil)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, []string{"root.active"})

	if err := m.Send(primitives.NewEvent("stop", nil)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, []string{"root.idle"})
}

func TestMachineHierarchicalTransitions(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("parent").
			Compound("parent").WithInitial("child1").
			Atomic("child1").Transition("switch", primitives.TransitionConfig{Targets: []string{"root.parent.child2"}}).Up().
			Atomic("child2")
	})

	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	waitFor(t, m, []string{"root.parent.child1"})

	if err := m.Send(primitives.NewEvent("switch", nil)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, []string{"root.parent.child2"})
}

func TestMachineEntryExitActionsRun(t *testing.T) {
	var entries, exits int32
	actions := ActionTable{
		"enterActive": func(ac ActionContext) { atomic.AddInt32(&entries, 1) },
		"exitIdle":    func(ac ActionContext) { atomic.AddInt32(&exits, 1) },
	}

	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").Exit("exitIdle").Transition("go", primitives.TransitionConfig{Targets: []string{"root.active"}}).Up().
			Atomic("active").Entry("enterActive")
	})

	m, err := NewMachine("m1", cfg, actions, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(primitives.NewEvent("go", nil)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, []string{"root.active"})

	if atomic.LoadInt32(&entries) != 1 {
		t.Errorf("entries = %d, want 1", entries)
	}
	if atomic.LoadInt32(&exits) != 1 {
		t.Errorf("exits = %d, want 1", exits)
	}
}

func TestMachineGuardedTransitionFirstMatchWins(t *testing.T) {
	guards := GuardTable{
		"never":  func(ctx *primitives.Context, e primitives.Event) bool { return false },
		"always": func(ctx *primitives.Context, e primitives.Event) bool { return true },
	}

	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").
			Transition("go", primitives.TransitionConfig{Guard: "never", Targets: []string{"root.a"}}).
			Transition("go", primitives.TransitionConfig{Guard: "always", Targets: []string{"root.b"}}).
			Up().
			Atomic("a").Up().
			Atomic("b")
	})

	m, err := NewMachine("m1", cfg, ActionTable{}, guards)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(primitives.NewEvent("go", nil)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, []string{"root.b"})
}

func TestMachineNoTargetTransitionRunsActionsOnly(t *testing.T) {
	var ran int32
	actions := ActionTable{
		"logIt": func(ac ActionContext) { atomic.AddInt32(&ran, 1) },
	}
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").Transition("ping", primitives.TransitionConfig{Actions: []string{"logIt"}})
	})

	m, err := NewMachine("m1", cfg, actions, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(primitives.NewEvent("ping", nil)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("action ran %d times, want 1", ran)
	}
	if got, want := m.Current(), []string{"root.idle"}; !equalStringSlices(got, want) {
		t.Errorf("no-target transition changed Current(): got %v want %v", got, want)
	}
}

func TestMachineUnknownActionFailsConstruction(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").Atomic("idle").Entry("missingAction")
	})

	if _, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{}); err == nil {
		t.Fatal("expected UnknownAction error")
	}
}

func TestMachineUnknownGuardFailsConstruction(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").Transition("go", primitives.TransitionConfig{Guard: "missingGuard", Targets: []string{"root.idle"}})
	})

	if _, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{}); err == nil {
		t.Fatal("expected UnknownGuard error")
	}
}

func TestMachineFaultContainment(t *testing.T) {
	actions := ActionTable{
		"boom": func(ac ActionContext) { panic("kaboom") },
	}
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").Transition("go", primitives.TransitionConfig{Targets: []string{"root.active"}, Actions: []string{"boom"}}).Up().
			Atomic("active")
	})

	m, err := NewMachine("m1", cfg, actions, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(primitives.NewEvent("go", nil)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.PhaseNow() == PhaseFaulted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m.PhaseNow() != PhaseFaulted {
		t.Fatal("expected machine to enter PhaseFaulted")
	}
	if m.Fault() == nil {
		t.Error("expected non-nil Fault()")
	}

	// Rejected while faulted.
	if err := m.Send(primitives.NewEvent("go", nil)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if m.PhaseNow() != PhaseFaulted {
		t.Error("events must be rejected until Reset")
	}

	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	if m.PhaseNow() != PhaseRunning {
		t.Error("Reset should return machine to PhaseRunning")
	}
}

func TestMachineSendWithinMailboxCapacity(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").Atomic("idle")
	})
	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{}, WithMailboxSize(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	for i := 0; i < 2; i++ {
		if err := m.Send(primitives.NewEvent("tick", nil)); err != nil {
			t.Errorf("Send %d: %v", i, err)
		}
	}
}

func TestMachineGracefulShutdown(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").Atomic("idle")
	})
	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err) // idempotent
	}
}

func TestMachineConcurrentSend(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").Transition("go", primitives.TransitionConfig{Targets: []string{"root.active"}}).Up().
			Atomic("active")
	})
	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = m.Send(primitives.NewEvent("go", nil))
		}()
	}
	wg.Wait()

	time.Sleep(200 * time.Millisecond)
	if got := m.Current(); len(got) == 0 {
		t.Error("Current empty after concurrent sends")
	}
}

func TestMachineParallelRegionsBothEnter(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("p").
			Parallel("p").
			Compound("region1").WithInitial("a").Atomic("a").Up().Up().
			Compound("region2").WithInitial("b").Atomic("b")
	})
	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	got := m.Current()
	want := []string{"root.p.region1.a", "root.p.region2.b"}
	if !sameSet(got, want) {
		t.Errorf("Current() = %v, want set %v", got, want)
	}
}

func waitFor(t *testing.T, m *Machine, want []string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if equalStringSlices(m.Current(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Current() never reached %v, last was %v", want, m.Current())
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}

// TestMachineGuardPanicFailsClosed asserts a panicking guard is treated as
// "condition not met" rather than crashing the interpreter goroutine or
// faulting the machine -- the other candidate transition still fires.
func TestMachineGuardPanicFailsClosed(t *testing.T) {
	guards := GuardTable{
		"explodes": func(ctx *primitives.Context, e primitives.Event) bool { panic("boom") },
		"always":   func(ctx *primitives.Context, e primitives.Event) bool { return true },
	}

	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("idle").
			Atomic("idle").
			Transition("go", primitives.TransitionConfig{Guard: "explodes", Targets: []string{"root.a"}}).
			Transition("go", primitives.TransitionConfig{Guard: "always", Targets: []string{"root.b"}}).
			Up().
			Atomic("a").Up().
			Atomic("b")
	})

	m, err := NewMachine("m1", cfg, ActionTable{}, guards)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(primitives.NewEvent("go", nil)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, []string{"root.b"})

	if m.PhaseNow() != PhaseRunning {
		t.Errorf("phase = %v, want running (a panicking guard must not fault the machine)", m.PhaseNow())
	}
}

// TestMachineAlwaysCycleFaults asserts a non-terminating chain of
// unconditional always-transitions converts into a fault instead of
// hanging the interpreter goroutine.
func TestMachineAlwaysCycleFaults(t *testing.T) {
	cfg := buildGraph(t, func(root *primitives.StateBuilder) {
		root.WithInitial("a").
			Atomic("a").Always(primitives.TransitionConfig{Targets: []string{"root.b"}}).
			Up().
			Atomic("b").Always(primitives.TransitionConfig{Targets: []string{"root.a"}})
	})

	m, err := NewMachine("m1", cfg, ActionTable{}, GuardTable{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.PhaseNow() == PhaseFaulted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("machine never entered PhaseFaulted, phase = %v", m.PhaseNow())
}
