package statefabric

import (
	"github.com/cmpforge/statefabric/internal/arraycompiler"
	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/loader"
	"github.com/cmpforge/statefabric/internal/orchestrator"
	"github.com/cmpforge/statefabric/internal/primitives"
)

// Core interpreter types, re-exported so callers never import internal/core.
type (
	Machine            = core.Machine
	ActionTable        = core.ActionTable
	GuardTable         = core.GuardTable
	ActionFunc         = core.ActionFunc
	GuardFunc          = core.GuardFunc
	ActionContext      = core.ActionContext
	Phase              = core.Phase
	Snapshot           = core.Snapshot
	TransitionMetadata = core.TransitionMetadata
	EventSource        = core.EventSource
	Persister          = core.Persister
	EventPublisher     = core.EventPublisher
	Visualizer         = core.Visualizer
	Option             = core.Option
)

const (
	PhaseCreated = core.PhaseCreated
	PhaseRunning = core.PhaseRunning
	PhaseStopped = core.PhaseStopped
	PhaseFaulted = core.PhaseFaulted
)

var (
	WithEventSource  = core.WithEventSource
	WithPersister    = core.WithPersister
	WithPublisher    = core.WithPublisher
	WithVisualizer   = core.WithVisualizer
	WithMailboxSize  = core.WithMailboxSize
	NewMachine       = core.NewMachine
	NewEvent         = primitives.NewEvent
	NewContext       = primitives.NewContext
)

// Event and MachineConfig, re-exported from internal/primitives.
type (
	Event         = primitives.Event
	MachineConfig = primitives.MachineConfig
	Context       = primitives.Context
)

// LoadResult bundles a parsed machine definition with its optional compiled
// event payload schemas.
type LoadResult = loader.Result

// LoadError is returned by Load for any structural problem in the
// definition: unresolved targets, malformed durations, empty compound
// states and the rest of the taxonomy documented on loader.ErrorKind.
type LoadError = loader.LoadError

// Load parses a wire JSON machine definition (see internal/loader for the
// schema) into a validated MachineConfig, ready to pass to NewMachine. It
// performs name resolution and structural validation only; symbol binding
// against an ActionTable/GuardTable happens in NewMachine.
func Load(data []byte) (LoadResult, error) {
	return loader.Load(data)
}

// Orchestrator routes events between registered machines: fire-and-forget,
// request/reply, and the Dispatcher seam an action's RequestSend uses to
// reach a sibling machine.
type Orchestrator = orchestrator.Orchestrator

var (
	NewOrchestrator   = orchestrator.New
	WithBackpressure  = orchestrator.WithBackpressure
	WithRateLimit     = orchestrator.WithRateLimit
	Reply             = orchestrator.Reply
)

// SendError and its taxonomy, re-exported from internal/orchestrator.
type (
	SendError     = orchestrator.SendError
	RequestEnvelope = orchestrator.RequestEnvelope
	ReplyEnvelope   = orchestrator.ReplyEnvelope
)

const (
	UnknownTarget = orchestrator.UnknownTarget
	Timeout       = orchestrator.Timeout
	Backpressure  = orchestrator.Backpressure
	NotRunning    = orchestrator.NotRunning
)

// CompiledGraph and ArrayMachine, re-exported from internal/arraycompiler,
// for callers that want dense index-addressed dispatch on a hot path.
type (
	CompiledGraph = arraycompiler.CompiledGraph
	ArrayMachine  = arraycompiler.ArrayMachine
)

var (
	Compile         = arraycompiler.Compile
	NewArrayMachine = arraycompiler.NewArrayMachine
)
