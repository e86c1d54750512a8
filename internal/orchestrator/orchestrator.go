// Package orchestrator routes events between independently running
// machines: a registry of MachineId -> *core.Machine, fire-and-forget and
// request/reply sends, and the Dispatcher seam that lets an action's
// RequestSend reach a sibling machine without the core package knowing the
// orchestrator exists.
//
// Deadlock avoidance is structural, not runtime-detected: core.ActionContext
// exposes only RequestSend, never an Orchestrator handle, so an action has
// no way to issue a blocking SendAndWait against the very macrostep it runs
// inside. SendAndWait is for external callers only.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

const replyTopicPrefix = "reply."

// BackpressureStrategy selects what SendFireAndForget does when a target's
// mailbox is full.
type BackpressureStrategy int

const (
	// DropNewest discards the event being sent; the mailbox is untouched.
	DropNewest BackpressureStrategy = iota
	// Block waits for room, honoring the caller's context. Only sensible
	// for external callers; never used for dispatch of an action's
	// RequestSend, which must never block the interpreter goroutine.
	Block
)

// RequestEnvelope wraps a SendAndWait caller's payload with the reply
// target the callee's action must send its answer to.
type RequestEnvelope struct {
	CorrelationID string
	ReplyTo       string
	Payload       any
}

// ReplyEnvelope is the value a replying action sends back via RequestSend to
// a RequestEnvelope's ReplyTo target.
type ReplyEnvelope struct {
	CorrelationID string
	Value         any
	Err           string
}

type replyWaiter struct {
	ch chan ReplyEnvelope
}

// Orchestrator is the event-routing fabric described in §4.6: it owns the
// MachineId -> Machine registry and mediates all cross-machine
// communication so no two machines ever hold a direct handle to each other.
type Orchestrator struct {
	mu       sync.RWMutex
	machines map[string]*core.Machine
	stopped  bool

	waitersMu       sync.Mutex
	replyWaiters    map[string]*replyWaiter
	pendingByTarget map[string][]string // target machine id -> reply topics awaiting it

	backpressure BackpressureStrategy
	limiters     map[string]*rate.Limiter

	tracer  trace.Tracer
	metrics *metrics
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithBackpressure overrides the default DropNewest strategy for
// SendFireAndForget.
func WithBackpressure(s BackpressureStrategy) Option {
	return func(o *Orchestrator) { o.backpressure = s }
}

// WithRateLimit throttles fire-and-forget sends to a specific target:
// events beyond the token bucket's rate are treated as Backpressure.
func WithRateLimit(targetMachineID string, r rate.Limit, burst int) Option {
	return func(o *Orchestrator) { o.limiters[targetMachineID] = rate.NewLimiter(r, burst) }
}

// WithMetricsRegisterer registers the orchestrator's prometheus collectors
// against r instead of a private registry. Useful when a host wants these
// metrics exposed alongside its own on a shared /metrics endpoint.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.metrics = newMetrics(r) }
}

// New creates an empty Orchestrator. Machines are added via Register.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		machines:        make(map[string]*core.Machine),
		replyWaiters:    make(map[string]*replyWaiter),
		pendingByTarget: make(map[string][]string),
		limiters:        make(map[string]*rate.Limiter),
		tracer:          otel.Tracer("github.com/cmpforge/statefabric/internal/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = newMetrics(prometheus.NewRegistry())
	}
	return o
}

// Register adds machine to the registry under id and wires it as the
// Dispatcher target for that machine's own RequestSend calls. Fails if id
// is already present.
func (o *Orchestrator) Register(id string, m *core.Machine) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.machines[id]; exists {
		return &ErrAlreadyRegistered{MachineID: id}
	}
	o.machines[id] = m
	m.SetDispatcher(o.dispatch)
	o.metrics.registeredMachines.Set(float64(len(o.machines)))
	return nil
}

// Unregister removes id from the registry. Idempotent. Any in-flight
// SendAndWait targeting id is resolved immediately with UnknownTarget.
func (o *Orchestrator) Unregister(id string) {
	o.mu.Lock()
	delete(o.machines, id)
	count := len(o.machines)
	o.mu.Unlock()
	o.metrics.registeredMachines.Set(float64(count))

	o.waitersMu.Lock()
	topics := o.pendingByTarget[id]
	delete(o.pendingByTarget, id)
	var waiters []*replyWaiter
	for _, topic := range topics {
		if w, ok := o.replyWaiters[topic]; ok {
			waiters = append(waiters, w)
			delete(o.replyWaiters, topic)
		}
	}
	o.waitersMu.Unlock()

	for _, w := range waiters {
		select {
		case w.ch <- ReplyEnvelope{Err: string(UnknownTarget)}:
		default:
		}
	}
}

// SendFireAndForget enqueues event onto to's mailbox and returns without
// waiting for it to be processed. If to is unregistered, rate-limited, or
// its mailbox is full, the event is dropped and a SendError describes why.
func (o *Orchestrator) SendFireAndForget(ctx context.Context, from, to string, event primitives.Event) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.SendFireAndForget",
		trace.WithAttributes(attribute.String("from", from), attribute.String("to", to), attribute.String("event", event.Type)))
	defer span.End()

	err := o.deliver(ctx, from, to, event)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.metrics.sendErrors.WithLabelValues(string(errKind(err))).Inc()
	} else {
		o.metrics.sent.Inc()
	}
	return err
}

// SendAndWait sends event to to and blocks until the callee replies (via an
// action calling Reply with this call's correlation id), ctx is cancelled,
// or timeout elapses. Intended for external callers; actions must never
// call this (see package doc).
func (o *Orchestrator) SendAndWait(ctx context.Context, from, to string, event primitives.Event, timeout time.Duration) (any, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.SendAndWait",
		trace.WithAttributes(attribute.String("from", from), attribute.String("to", to), attribute.String("event", event.Type)))
	defer span.End()

	correlationID := uuid.New().String()
	replyTopic := replyTopicPrefix + correlationID
	waiter := &replyWaiter{ch: make(chan ReplyEnvelope, 1)}

	o.waitersMu.Lock()
	o.replyWaiters[replyTopic] = waiter
	o.pendingByTarget[to] = append(o.pendingByTarget[to], replyTopic)
	o.waitersMu.Unlock()

	cleanup := func() {
		o.waitersMu.Lock()
		delete(o.replyWaiters, replyTopic)
		o.waitersMu.Unlock()
	}

	envelope := primitives.NewEvent(event.Type, RequestEnvelope{
		CorrelationID: correlationID,
		ReplyTo:       replyTopic,
		Payload:       event.Data,
	})
	if err := o.deliver(ctx, from, to, envelope); err != nil {
		cleanup()
		span.SetStatus(codes.Error, err.Error())
		o.metrics.sendErrors.WithLabelValues(string(errKind(err))).Inc()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-waiter.ch:
		cleanup()
		if reply.Err != "" {
			err := &SendError{Kind: SendErrorKind(reply.Err), From: from, To: to}
			span.SetStatus(codes.Error, err.Error())
			o.metrics.sendErrors.WithLabelValues(reply.Err).Inc()
			return nil, err
		}
		o.metrics.sent.Inc()
		return reply.Value, nil
	case <-timer.C:
		cleanup()
		err := &SendError{Kind: Timeout, From: from, To: to}
		span.SetStatus(codes.Error, err.Error())
		o.metrics.sendErrors.WithLabelValues(string(Timeout)).Inc()
		return nil, err
	case <-ctx.Done():
		cleanup()
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, ctx.Err()
	}
}

// Reply sends value back to the caller of a RequestEnvelope-carrying
// SendAndWait. Call it from the replying machine's action, passing the
// RequestEnvelope read off the triggering event's Data.
func Reply(ac core.ActionContext, envelope RequestEnvelope, value any, err error) {
	msg := ReplyEnvelope{CorrelationID: envelope.CorrelationID, Value: value}
	if err != nil {
		msg.Err = err.Error()
	}
	ac.RequestSend(envelope.ReplyTo, primitives.NewEvent("__reply__", msg))
}

// deliver applies rate limiting and the configured backpressure strategy,
// then hands event to the target machine's mailbox.
func (o *Orchestrator) deliver(ctx context.Context, from, to string, event primitives.Event) error {
	o.mu.RLock()
	stopped := o.stopped
	m, ok := o.machines[to]
	limiter := o.limiters[to]
	o.mu.RUnlock()

	if stopped {
		return &SendError{Kind: NotRunning, From: from, To: to, Msg: "orchestrator stopped"}
	}
	if !ok {
		return &SendError{Kind: UnknownTarget, From: from, To: to}
	}
	if limiter != nil && !limiter.Allow() {
		return &SendError{Kind: Backpressure, From: from, To: to, Msg: "rate limit exceeded"}
	}

	switch o.backpressure {
	case Block:
		if err := m.SendBlocking(ctx, event); err != nil {
			return &SendError{Kind: Timeout, From: from, To: to, Msg: err.Error()}
		}
		return nil
	default: // DropNewest
		if err := m.Send(event); err != nil {
			return &SendError{Kind: Backpressure, From: from, To: to, Msg: err.Error()}
		}
		return nil
	}
}

// dispatch is installed as every registered machine's core.Dispatcher. It
// routes a RequestSend either to a reply waiter (topics prefixed
// replyTopicPrefix) or to another registered machine's mailbox, silently
// absorbing failures: RequestSend is best-effort by contract.
func (o *Orchestrator) dispatch(targetMachineID string, event primitives.Event) {
	if len(targetMachineID) > len(replyTopicPrefix) && targetMachineID[:len(replyTopicPrefix)] == replyTopicPrefix {
		o.waitersMu.Lock()
		w, ok := o.replyWaiters[targetMachineID]
		delete(o.replyWaiters, targetMachineID)
		o.waitersMu.Unlock()
		if !ok {
			return
		}
		if reply, ok := event.Data.(ReplyEnvelope); ok {
			select {
			case w.ch <- reply:
			default:
			}
		}
		return
	}

	o.mu.RLock()
	m, ok := o.machines[targetMachineID]
	o.mu.RUnlock()
	if !ok {
		o.metrics.sendErrors.WithLabelValues(string(UnknownTarget)).Inc()
		return
	}
	if err := m.Send(event); err != nil {
		o.metrics.sendErrors.WithLabelValues(string(Backpressure)).Inc()
		return
	}
	o.metrics.sent.Inc()
}

// Stop cooperatively shuts down the orchestrator: it stops accepting new
// sends, then stops every registered machine.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	machines := make([]*core.Machine, 0, len(o.machines))
	for _, m := range o.machines {
		machines = append(machines, m)
	}
	o.mu.Unlock()

	for _, m := range machines {
		_ = m.Stop()
	}
}

func errKind(err error) SendErrorKind {
	if se, ok := err.(*SendError); ok {
		return se.Kind
	}
	return SendErrorKind(fmt.Sprintf("%v", err))
}
