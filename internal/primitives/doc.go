// Package primitives provides the foundational data structures for the
// statechart engine: StateConfig, TransitionConfig, MachineConfig, Event and
// Context.
//
// These types model the graph shape produced by the loader (package
// internal/loader) and consumed by the interpreter (package internal/core).
// They carry no behavior beyond structural validation — symbol resolution
// against host-supplied action/guard tables happens at Machine construction
// time, not here.
//
// Core invariants:
//   - Immutability where possible (Event)
//   - Thread-safe context (sync.Map)
//   - Document order is significant: Children and On/Always/After transition
//     lists preserve declaration order end to end.
package primitives
