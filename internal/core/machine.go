// Package core implements the reflective statechart interpreter: the
// Machine runtime, its microstep/macrostep event loop, and the pluggable
// component seams (event sources, persistence, publishing, visualization)
// the rest of the module wires up.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cmpforge/statefabric/internal/primitives"
)

// Phase is a Machine's lifecycle stage.
type Phase string

const (
	PhaseCreated Phase = "created"
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
	// PhaseFaulted is entered when an action panics or returns from a
	// partially applied exit/entry sequence. The machine keeps whatever
	// Configuration it reached — already-applied exits and entries are
	// never rolled back — and rejects further events until Reset.
	PhaseFaulted Phase = "faulted"
)

// EventSource supplies events from outside the machine (timers, I/O,
// upstream systems) into its mailbox.
type EventSource interface {
	Events() <-chan primitives.Event
}

// Persister saves and loads machine snapshots for crash recovery.
type Persister interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context, machineID string) (Snapshot, error)
}

// TransitionMetadata describes one completed transition, for publishers and
// tracers.
type TransitionMetadata struct {
	MachineID string
	EventType string
	From      []string
	To        []string
	Timestamp time.Time
}

// EventPublisher receives a copy of every event the machine processes,
// alongside the transition it produced.
type EventPublisher interface {
	Publish(ctx context.Context, event primitives.Event, meta TransitionMetadata) error
	Close() error
}

// Visualizer renders a MachineConfig and its current Configuration.
type Visualizer interface {
	ExportDOT(config primitives.MachineConfig, active []string) string
	ExportJSON(config primitives.MachineConfig) ([]byte, error)
}

// Dispatcher forwards a RequestSend call to its target machine. Set by the
// orchestrator when it registers a Machine, so actions can reach siblings
// without the core package depending on the orchestrator package.
type Dispatcher func(targetMachineID string, event primitives.Event)

// Snapshot is the serializable state of a running Machine: enough to
// restore Configuration and extended state after a restart.
type Snapshot struct {
	MachineID   string         `json:"machineID" yaml:"machineID"`
	Active      []string       `json:"active" yaml:"active"`
	ContextData map[string]any `json:"context" yaml:"context"`
	Phase       Phase          `json:"phase" yaml:"phase"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
	// Version identifies the MachineConfig this snapshot was taken
	// against (primitives.ComputeVersion), so a Persister/Restore caller
	// can detect a graph change across a restart.
	Version string `json:"version" yaml:"version"`
}

// Option applies configuration to a Machine at construction time.
type Option func(*Machine)

// Machine is a single running instance of a StateGraph: its Configuration
// (active node set), extended state, and the single-consumer mailbox that
// serializes all event processing.
type Machine struct {
	id      string
	graph   *primitives.MachineConfig
	actions ActionTable
	guards  GuardTable
	ctx     *primitives.Context

	mu     sync.RWMutex
	active []string // active leaf paths; >1 only under parallel regions
	phase  Phase
	fault  error

	mailbox chan primitives.Event
	done    chan struct{}
	stopped chan struct{}

	delays     *delayScheduler
	history    *HistoryManager
	eventSrc   EventSource
	persister  Persister
	publisher  EventPublisher
	visualizer Visualizer
	dispatcher Dispatcher

	outboxMu sync.Mutex
	outbox   []outboundRequest
}

type outboundRequest struct {
	target string
	event  primitives.Event
}

// WithEventSource wires an external event producer into the machine.
func WithEventSource(s EventSource) Option { return func(m *Machine) { m.eventSrc = s } }

// WithPersister wires snapshot persistence.
func WithPersister(p Persister) Option { return func(m *Machine) { m.persister = p } }

// WithPublisher wires per-transition publishing.
func WithPublisher(p EventPublisher) Option { return func(m *Machine) { m.publisher = p } }

// WithVisualizer wires DOT/JSON export.
func WithVisualizer(v Visualizer) Option { return func(m *Machine) { m.visualizer = v } }

// WithDispatcher wires cross-machine delivery for RequestSend. Set by the
// orchestrator when it registers the machine.
func WithDispatcher(d Dispatcher) Option { return func(m *Machine) { m.dispatcher = d } }

// SetDispatcher wires or replaces the Dispatcher after construction. The
// orchestrator calls this from Register, since a Machine is normally built
// before the orchestrator that will own it exists.
func (m *Machine) SetDispatcher(d Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = d
}

// WithMailboxSize overrides the default mailbox buffer size.
func WithMailboxSize(size int) Option {
	return func(m *Machine) { m.mailbox = make(chan primitives.Event, size) }
}

// NewMachine validates graph, resolves every action/guard symbol it names
// against actions/guards, and returns a Machine in PhaseCreated. A graph
// that fails Validate or names an unbound symbol is returned as an error —
// call Start to activate it.
func NewMachine(id string, graph primitives.MachineConfig, actions ActionTable, guards GuardTable, opts ...Option) (*Machine, error) {
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph for machine %q: %w", id, err)
	}
	if err := verifyTables(graph.Root, actions, guards); err != nil {
		return nil, err
	}
	g := graph
	m := &Machine{
		id:      id,
		graph:   &g,
		actions: actions,
		guards:  guards,
		ctx:     primitives.NewContext(),
		history: NewHistoryManager(),
		phase:   PhaseCreated,
		mailbox: make(chan primitives.Event, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ID returns the machine's identifier.
func (m *Machine) ID() string { return m.id }

// Start activates the initial Configuration, runs its entry actions, arms
// any after() timers it declares, and launches the interpreter goroutine.
// Not idempotent: calling Start twice on the same Machine returns an error.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.phase != PhaseCreated {
		m.mu.Unlock()
		return fmt.Errorf("machine %q: Start called in phase %q", m.id, m.phase)
	}
	m.delays = newDelayScheduler(func(eventType string) {
		_ = m.Send(primitives.NewEvent(eventType, nil))
	})
	initial := resolveInitialLeaves(m.graph, m.graph.Root.ID)
	m.phase = PhaseRunning
	m.mu.Unlock()

	m.mu.Lock()
	toEnter := dedupPaths(append([]string{m.graph.Root.ID}, unionEntryPaths(m.graph.Root.ID, initial)...))
	m.enterStates(toEnter, primitives.NewEvent("", nil))
	m.active = initial
	m.mu.Unlock()

	m.runAlwaysToFixpoint(primitives.NewEvent("", nil))

	go m.interpret()

	if m.eventSrc != nil {
		go func() {
			for {
				select {
				case event, ok := <-m.eventSrc.Events():
					if !ok {
						return
					}
					_ = m.Send(event)
				case <-m.done:
					return
				}
			}
		}()
	}
	return nil
}

// interpret is the machine's single consumer goroutine: every event is
// processed to completion (including any eventless always-fixpoint it
// triggers) before the next is dequeued.
func (m *Machine) interpret() {
	defer close(m.stopped)
	for {
		select {
		case event := <-m.mailbox:
			m.processEvent(event)
			m.flushOutbox()
		case <-m.done:
		drain:
			for {
				select {
				case event := <-m.mailbox:
					m.processEvent(event)
					m.flushOutbox()
				default:
					break drain
				}
			}
			return
		}
	}
}

// processEvent runs one macrostep: the event's own microstep, followed by
// always-transitions re-evaluated to a fixpoint.
func (m *Machine) processEvent(event primitives.Event) {
	m.mu.Lock()
	if m.phase == PhaseFaulted {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.runMicrostep(event)
	m.runAlwaysToFixpoint(event)
}

// maxAlwaysIterations bounds the always-transition fixpoint loop. A graph
// whose always-transitions never settle (target state's guard is always
// true, looping back to a state with another always-transition) would
// otherwise spin the interpreter goroutine forever; this converts that
// into a fault instead of a hang.
const maxAlwaysIterations = 1000

func (m *Machine) runAlwaysToFixpoint(seed primitives.Event) {
	for i := 0; ; i++ {
		m.mu.RLock()
		if m.phase == PhaseFaulted {
			m.mu.RUnlock()
			return
		}
		active := append([]string(nil), m.active...)
		m.mu.RUnlock()

		selected := selectTransitions(m.graph, active, "", seed, m.guards, m.ctx)
		if len(selected) == 0 {
			return
		}
		if i >= maxAlwaysIterations {
			m.mu.Lock()
			m.phase = PhaseFaulted
			m.fault = fmt.Errorf("always transitions did not reach a fixpoint after %d iterations", maxAlwaysIterations)
			m.mu.Unlock()
			return
		}
		m.applyTransitions(selected, seed)
	}
}

func (m *Machine) runMicrostep(event primitives.Event) {
	m.mu.RLock()
	active := append([]string(nil), m.active...)
	m.mu.RUnlock()

	selected := selectTransitions(m.graph, active, event.Type, event, m.guards, m.ctx)
	if len(selected) == 0 {
		return
	}
	m.applyTransitions(selected, event)
}

// applyTransitions executes every selected transition's exit/action/entry
// sequence and installs the resulting Configuration. If an action panics,
// the machine enters PhaseFaulted with whatever partial Configuration was
// reached — already-applied exits and entries are not rolled back.
func (m *Machine) applyTransitions(selected []selectedTransition, event primitives.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.runGuardedBlock(func() {
		for _, sel := range selected {
			m.active = dedupPaths(m.applyOne(sel, m.active, event))
		}
	}); err != nil {
		m.phase = PhaseFaulted
		m.fault = err
		return
	}

	snap := m.snapshotLocked()
	meta := TransitionMetadata{
		MachineID: m.id,
		EventType: event.Type,
		Timestamp: time.Now(),
	}
	go m.sideEffects(snap, event, meta)
}

func (m *Machine) runGuardedBlock(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action fault: %v", r)
		}
	}()
	f()
	return nil
}

// applyOne exits the source's active descendants (innermost first), then
// trans.sourcePath up to the LCCA; an Internal transition whose targets all
// lie within the source keeps the source itself. It then runs transition actions,
// enters the targets (resolved to their initial leaves), and returns the
// replacement leaf set for the regions this transition touched.
func (m *Machine) applyOne(sel selectedTransition, active []string, event primitives.Event) []string {
	trans := sel.trans
	ac := ActionContext{Ctx: m.ctx, Event: event, machine: m}

	if trans.HasNoTarget() {
		for _, sym := range trans.Actions {
			m.actions[sym](ac)
		}
		return active
	}

	lcca := lccaOfSet(sel.sourcePath, trans.Targets)
	if trans.Internal {
		within := true
		for _, target := range trans.Targets {
			within = within && (target == sel.sourcePath || hasPrefixPath(target, sel.sourcePath))
		}
		if within {
			lcca = sel.sourcePath
		}
	}
	var exitPaths []string
	for _, leaf := range active {
		if hasPrefixPath(leaf, sel.sourcePath) {
			exitPaths = append(exitPaths, getExitStates(leaf, sel.sourcePath)...)
		}
	}
	exitPaths = dedupPaths(append(exitPaths, getExitStates(sel.sourcePath, lcca)...))
	m.exitStates(exitPaths)

	active = removeUnder(active, lcca)

	for _, sym := range trans.Actions {
		m.actions[sym](ac)
	}

	var newLeaves []string
	var toEnter []string
	for _, target := range trans.Targets {
		toEnter = append(toEnter, getEntryStates(lcca, target)...)
		for _, leaf := range m.resolveTargetLeaves(target) {
			if leaf != target {
				toEnter = append(toEnter, getEntryStates(target, leaf)...)
			}
			newLeaves = append(newLeaves, leaf)
		}
	}
	m.enterStates(dedupPaths(toEnter), event)
	active = append(active, newLeaves...)
	return active
}

// unionEntryPaths returns the deduplicated, order-preserving union of entry
// paths from lccaPath down to each of targetPaths.
func unionEntryPaths(lccaPath string, targetPaths []string) []string {
	var out []string
	for _, target := range targetPaths {
		out = append(out, getEntryStates(lccaPath, target)...)
	}
	return dedupPaths(out)
}

// resolveTargetLeaves descends target to its active leaf set, substituting
// a shallow-history pseudo-state's remembered child (or its parent's
// declared Initial, if none was ever recorded) for the history node itself.
func (m *Machine) resolveTargetLeaves(target string) []string {
	state, err := m.graph.FindState(target)
	if err != nil {
		return []string{target}
	}
	if state.Type != primitives.ShallowHistory {
		return resolveInitialLeaves(m.graph, target)
	}
	parentPath := parentPath(target)
	parent, err := m.graph.FindState(parentPath)
	if err != nil {
		return []string{target}
	}
	child, ok := m.history.Lookup(parentPath)
	if !ok {
		child = parentPath + "." + parent.Initial
	}
	return resolveInitialLeaves(m.graph, child)
}

func removeUnder(active []string, ancestor string) []string {
	if ancestor == "" {
		return nil
	}
	var kept []string
	for _, leaf := range active {
		if leaf != ancestor && !hasPrefixPath(leaf, ancestor) {
			kept = append(kept, leaf)
		}
	}
	return kept
}

func hasPrefixPath(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '.'
}

func dedupPaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// exitStates runs Exit actions innermost-first and cancels any after()
// timers armed for each state. Caller holds m.mu.
func (m *Machine) exitStates(paths []string) {
	for i, path := range paths {
		state, err := m.graph.FindState(path)
		if err != nil {
			continue
		}
		if m.delays != nil {
			m.delays.cancelState(path)
		}
		// paths is innermost-first: the entry just before a compound
		// state in this list is the child that was active under it.
		if state.Type == primitives.Compound && i > 0 {
			m.history.Record(state.Path, paths[i-1])
		}
		for _, sym := range state.Exit {
			m.actions[sym](ActionContext{Ctx: m.ctx, machine: m})
		}
	}
}

// enterStates runs Entry actions outer-first and arms any after() timers.
// Caller holds m.mu.
func (m *Machine) enterStates(paths []string, event primitives.Event) {
	for _, path := range paths {
		state, err := m.graph.FindState(path)
		if err != nil {
			continue
		}
		for _, sym := range state.Entry {
			m.actions[sym](ActionContext{Ctx: m.ctx, Event: event, machine: m})
		}
		if m.delays != nil {
			for delayMs := range state.After {
				m.delays.arm(path, delayMs)
			}
		}
	}
}

func (m *Machine) sideEffects(snap Snapshot, event primitives.Event, meta TransitionMetadata) {
	meta.To = snap.Active
	if m.persister != nil {
		_ = m.persister.Save(context.Background(), snap)
	}
	if m.publisher != nil {
		_ = m.publisher.Publish(context.Background(), event, meta)
	}
}

func (m *Machine) flushOutbox() {
	m.outboxMu.Lock()
	pending := m.outbox
	m.outbox = nil
	m.outboxMu.Unlock()

	if m.dispatcher == nil {
		return
	}
	for _, r := range pending {
		m.dispatcher(r.target, r.event)
	}
}

// requestSend is called by ActionContext.RequestSend; it only enqueues.
func (m *Machine) requestSend(targetMachineID string, event primitives.Event) {
	m.outboxMu.Lock()
	m.outbox = append(m.outbox, outboundRequest{target: targetMachineID, event: event})
	m.outboxMu.Unlock()
}

// Send enqueues event onto the mailbox. Fire-and-forget: returns an error
// immediately if the mailbox is full rather than blocking the caller.
func (m *Machine) Send(event primitives.Event) error {
	select {
	case m.mailbox <- event:
		return nil
	default:
		return errors.New("mailbox full")
	}
}

// SendBlocking enqueues event, blocking until there is room or ctx is
// cancelled. Used by orchestrator backpressure strategies that prefer to
// block the sender over dropping events.
func (m *Machine) SendBlocking(ctx context.Context, event primitives.Event) error {
	select {
	case m.mailbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns a copy of the active leaf paths.
func (m *Machine) Current() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.active...)
}

// Ctx returns the machine's extended state store.
func (m *Machine) Ctx() *primitives.Context { return m.ctx }

// PhaseNow returns the machine's current lifecycle phase.
func (m *Machine) PhaseNow() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Fault returns the error that drove the machine into PhaseFaulted, or nil.
func (m *Machine) Fault() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fault
}

// Reset clears a faulted machine back to running, keeping its current
// (possibly partial) Configuration and context. Events are rejected until
// this is called.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseFaulted {
		return fmt.Errorf("machine %q: Reset called in phase %q", m.id, m.phase)
	}
	m.phase = PhaseRunning
	m.fault = nil
	return nil
}

// Stop signals the interpreter goroutine to drain its mailbox and exit.
// Safe to call more than once; blocks until the goroutine has exited.
func (m *Machine) Stop() error {
	m.mu.Lock()
	if m.phase == PhaseStopped {
		m.mu.Unlock()
		return nil
	}
	m.phase = PhaseStopped
	m.mu.Unlock()

	select {
	case <-m.done:
	default:
		close(m.done)
	}
	<-m.stopped
	if m.delays != nil {
		m.delays.cancelAll()
	}
	return nil
}

// Snapshot returns a serializable copy of the machine's current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		MachineID:   m.id,
		Active:      append([]string(nil), m.active...),
		ContextData: m.ctx.Snapshot(),
		Phase:       m.phase,
		Timestamp:   time.Now(),
		Version:     primitives.ComputeVersion(m.graph),
	}
}

// Restore re-activates a machine from a previously captured Snapshot.
// Call before Start.
func (m *Machine) Restore(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.MachineID != m.id {
		return fmt.Errorf("machine ID mismatch: have %q, snapshot %q", m.id, snap.MachineID)
	}
	m.active = append([]string(nil), snap.Active...)
	m.ctx.Restore(snap.ContextData)
	m.phase = PhaseCreated
	return nil
}

// Visualize renders the current Configuration via the configured
// Visualizer.
func (m *Machine) Visualize() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.visualizer == nil {
		return ""
	}
	return m.visualizer.ExportDOT(*m.graph, m.active)
}
