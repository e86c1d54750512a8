package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

func buildPingMachine(t *testing.T, trace *orderedTrace) *core.Machine {
	t.Helper()
	root := primitives.NewStateConfig("ping", primitives.Compound).WithInitial("active")
	b := primitives.NewMachineBuilder("ping", root)
	b.Root().Atomic("active").
		Transition("START", primitives.TransitionConfig{Actions: []string{"sendPing"}}).
		Transition("PONG", primitives.TransitionConfig{Actions: []string{"sendPing"}})

	graph, err := b.Build()
	if err != nil {
		t.Fatalf("build ping graph: %v", err)
	}
	actions := core.ActionTable{
		"sendPing": func(ac core.ActionContext) {
			trace.record("ping")
			ac.RequestSend("pong", primitives.NewEvent("PING", nil))
		},
	}
	m, err := core.NewMachine("ping", graph, actions, core.GuardTable{})
	if err != nil {
		t.Fatalf("new ping machine: %v", err)
	}
	return m
}

func buildPongMachine(t *testing.T, trace *orderedTrace) *core.Machine {
	t.Helper()
	root := primitives.NewStateConfig("pong", primitives.Compound).WithInitial("waiting")
	b := primitives.NewMachineBuilder("pong", root)
	b.Root().Atomic("waiting").
		Transition("PING", primitives.TransitionConfig{Actions: []string{"sendPong"}})

	graph, err := b.Build()
	if err != nil {
		t.Fatalf("build pong graph: %v", err)
	}
	actions := core.ActionTable{
		"sendPong": func(ac core.ActionContext) {
			trace.record("pong")
			ac.RequestSend("ping", primitives.NewEvent("PONG", nil))
		},
	}
	m, err := core.NewMachine("pong", graph, actions, core.GuardTable{})
	if err != nil {
		t.Fatalf("new pong machine: %v", err)
	}
	return m
}

// orderedTrace records each action invocation and signals done once it has
// observed the expected count, for asserting the strict-alternation
// cross-machine ordering invariant.
type orderedTrace struct {
	mu     sync.Mutex
	events []string
	want   int
	done   chan struct{}
}

func newOrderedTrace(want int) *orderedTrace {
	return &orderedTrace{want: want, done: make(chan struct{})}
}

func (t *orderedTrace) record(who string) {
	t.mu.Lock()
	t.events = append(t.events, who)
	n := len(t.events)
	t.mu.Unlock()
	if n == t.want {
		close(t.done)
	}
}

func TestOrchestratorPingPongAlternates(t *testing.T) {
	trace := newOrderedTrace(10)
	ping := buildPingMachine(t, trace)
	pong := buildPongMachine(t, trace)

	o := New()
	if err := o.Register("ping", ping); err != nil {
		t.Fatalf("register ping: %v", err)
	}
	if err := o.Register("pong", pong); err != nil {
		t.Fatalf("register pong: %v", err)
	}

	if err := ping.Start(); err != nil {
		t.Fatalf("start ping: %v", err)
	}
	if err := pong.Start(); err != nil {
		t.Fatalf("start pong: %v", err)
	}
	defer o.Stop()

	if err := o.SendFireAndForget(context.Background(), "test", "ping", primitives.NewEvent("START", nil)); err != nil {
		t.Fatalf("send START: %v", err)
	}

	select {
	case <-trace.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out after %d events, want 10", len(trace.events))
	}

	trace.mu.Lock()
	defer trace.mu.Unlock()
	if len(trace.events) != 10 {
		t.Fatalf("got %d events, want 10", len(trace.events))
	}
	for i, ev := range trace.events {
		want := "ping"
		if i%2 == 1 {
			want = "pong"
		}
		if ev != want {
			t.Errorf("event %d = %q, want %q (strict alternation)", i, ev, want)
		}
	}
}

func TestOrchestratorRegisterDuplicate(t *testing.T) {
	trace := newOrderedTrace(1)
	m := buildPingMachine(t, trace)
	o := New()
	if err := o.Register("ping", m); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := o.Register("ping", m)
	if err == nil {
		t.Fatal("expected error registering duplicate id")
	}
	if _, ok := err.(*ErrAlreadyRegistered); !ok {
		t.Errorf("err = %#v, want *ErrAlreadyRegistered", err)
	}
}

func TestOrchestratorSendUnknownTarget(t *testing.T) {
	o := New()
	err := o.SendFireAndForget(context.Background(), "test", "nosuchmachine", primitives.NewEvent("X", nil))
	if err == nil {
		t.Fatal("expected UnknownTarget error")
	}
	serr, ok := err.(*SendError)
	if !ok || serr.Kind != UnknownTarget {
		t.Errorf("err = %#v, want SendError{Kind: UnknownTarget}", err)
	}
}

func TestOrchestratorUnregisterResolvesPendingWaiters(t *testing.T) {
	// pong never calls Reply, so a SendAndWait against it only resolves
	// via Unregister's pending-waiter cancellation or the timeout. This
	// exercises the cancellation path by racing Unregister in first.
	trace := newOrderedTrace(1)
	pong := buildPongMachine(t, trace)
	o := New()
	if err := o.Register("pong", pong); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := pong.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pong.Stop()

	go func() {
		time.Sleep(20 * time.Millisecond)
		o.Unregister("pong")
	}()

	_, err := o.SendAndWait(context.Background(), "test", "pong", primitives.NewEvent("PING", nil), time.Second)
	if err == nil {
		t.Fatal("expected error after target unregistered")
	}
	serr, ok := err.(*SendError)
	if !ok || serr.Kind != UnknownTarget {
		t.Errorf("err = %#v, want SendError{Kind: UnknownTarget}", err)
	}
}

func TestOrchestratorSendAndWaitTimeout(t *testing.T) {
	trace := newOrderedTrace(1)
	// pong never calls Reply (its PING transition only requests a PONG
	// send) and has no transition for NEVER_HANDLED, so the ask must time out.
	pong := buildPongMachine(t, trace)
	o := New()
	if err := o.Register("pong", pong); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := pong.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pong.Stop()

	ctx := context.Background()
	_, err := o.SendAndWait(ctx, "test", "pong", primitives.NewEvent("NEVER_HANDLED", nil), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	serr, ok := err.(*SendError)
	if !ok || serr.Kind != Timeout {
		t.Errorf("err = %#v, want SendError{Kind: Timeout}", err)
	}
}

func TestOrchestratorReplyDeliversValue(t *testing.T) {
	root := primitives.NewStateConfig("echo", primitives.Compound).WithInitial("idle")
	b := primitives.NewMachineBuilder("echo", root)
	b.Root().Atomic("idle").
		Transition("ASK", primitives.TransitionConfig{Actions: []string{"answer"}})
	graph, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	actions := core.ActionTable{
		"answer": func(ac core.ActionContext) {
			envelope, ok := ac.Event.Data.(RequestEnvelope)
			if !ok {
				return
			}
			Reply(ac, envelope, "pong-value", nil)
		},
	}
	m, err := core.NewMachine("echo", graph, actions, core.GuardTable{})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	o := New()
	if err := o.Register("echo", m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	value, err := o.SendAndWait(context.Background(), "test", "echo", primitives.NewEvent("ASK", nil), time.Second)
	if err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
	if value != "pong-value" {
		t.Errorf("reply value = %v, want pong-value", value)
	}
}
