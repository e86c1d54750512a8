// ActionTable and GuardTable are the host-supplied bindings from the string
// symbols used in a StateGraph (entry/exit/transition actions, guard
// conditions) to actual Go functions. Resolution happens once, at Machine
// construction time: a graph that names a symbol missing from its tables
// fails fast with UnknownAction or UnknownGuard rather than failing later
// mid-transition.
package core

import (
	"fmt"

	"github.com/cmpforge/statefabric/internal/primitives"
)

// ActionContext is the handle passed to an ActionFunc. It exposes the
// machine's extended state and the triggering event, plus RequestSend for
// cross-machine sends: actions run inline on the interpreter's single
// consumer goroutine and must never block on another machine's mailbox, so
// RequestSend only enqueues — the orchestrator delivers it after the
// current macrostep completes.
type ActionContext struct {
	Ctx   *primitives.Context
	Event primitives.Event

	machine *Machine
}

// RequestSend enqueues event for delivery to targetMachineID once the
// current macrostep finishes. It never blocks and never fails synchronously;
// delivery failures (unknown target, backpressure) are the orchestrator's
// concern, not the caller's.
func (ac ActionContext) RequestSend(targetMachineID string, event primitives.Event) {
	ac.machine.requestSend(targetMachineID, event)
}

// ActionFunc runs a side effect against the machine's context. It must not
// block indefinitely, since it runs inline on the interpreter's single
// consumer goroutine.
type ActionFunc func(ActionContext)

// GuardFunc evaluates a transition condition. It must be side-effect free.
type GuardFunc func(ctx *primitives.Context, event primitives.Event) bool

// ActionTable maps action symbols named in a StateGraph to their
// implementations.
type ActionTable map[string]ActionFunc

// GuardTable maps guard symbols named in a StateGraph to their
// implementations.
type GuardTable map[string]GuardFunc

// UnknownAction is returned at Machine construction time when a StateGraph
// names an action symbol absent from the supplied ActionTable.
type UnknownAction struct {
	Symbol string
	StateID string
}

func (e *UnknownAction) Error() string {
	return fmt.Sprintf("unknown action %q referenced by state %q", e.Symbol, e.StateID)
}

// UnknownGuard is returned at Machine construction time when a StateGraph
// names a guard symbol absent from the supplied GuardTable.
type UnknownGuard struct {
	Symbol  string
	StateID string
}

func (e *UnknownGuard) Error() string {
	return fmt.Sprintf("unknown guard %q referenced by state %q", e.Symbol, e.StateID)
}

// verifyTables walks every state in the graph and confirms each action and
// guard symbol it names resolves against the supplied tables. Called once
// from NewMachine so resolution failures surface before Start.
func verifyTables(root *primitives.StateConfig, actions ActionTable, guards GuardTable) error {
	var walk func(s *primitives.StateConfig) error
	walk = func(s *primitives.StateConfig) error {
		for _, sym := range s.Entry {
			if _, ok := actions[sym]; !ok {
				return &UnknownAction{Symbol: sym, StateID: s.ID}
			}
		}
		for _, sym := range s.Exit {
			if _, ok := actions[sym]; !ok {
				return &UnknownAction{Symbol: sym, StateID: s.ID}
			}
		}
		checkTransitions := func(transList []primitives.TransitionConfig) error {
			for _, t := range transList {
				if t.Guard != "" {
					if _, ok := guards[t.Guard]; !ok {
						return &UnknownGuard{Symbol: t.Guard, StateID: s.ID}
					}
				}
				for _, sym := range t.Actions {
					if _, ok := actions[sym]; !ok {
						return &UnknownAction{Symbol: sym, StateID: s.ID}
					}
				}
			}
			return nil
		}
		for _, transList := range s.On {
			if err := checkTransitions(transList); err != nil {
				return err
			}
		}
		if err := checkTransitions(s.Always); err != nil {
			return err
		}
		for _, transList := range s.After {
			if err := checkTransitions(transList); err != nil {
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
	return walk(root)
}
