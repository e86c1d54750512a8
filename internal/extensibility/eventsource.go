package extensibility

import (
	"time"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

// ChannelEventSource adapts an existing Go channel into a core.EventSource,
// so external producers can feed events into a Machine via its mailbox.
type ChannelEventSource struct {
	ch chan primitives.Event
}

// NewChannelEventSource wraps ch. Buffer it if the producer should tolerate
// momentary consumer lag.
func NewChannelEventSource(ch chan primitives.Event) *ChannelEventSource {
	return &ChannelEventSource{ch: ch}
}

// Events implements core.EventSource.
func (s *ChannelEventSource) Events() <-chan primitives.Event { return s.ch }

var _ core.EventSource = (*ChannelEventSource)(nil)

// TimerEventSource emits a fixed event on every tick of a time.Ticker.
// Useful for heartbeat or polling-driven statecharts.
type TimerEventSource struct {
	ch        chan primitives.Event
	eventType string
	data      any
	ticker    *time.Ticker
	stop      chan struct{}
}

// NewTimerEventSource creates and starts a TimerEventSource emitting
// eventType every d.
func NewTimerEventSource(eventType string, data any, d time.Duration) *TimerEventSource {
	t := &TimerEventSource{
		ch:        make(chan primitives.Event, 10),
		eventType: eventType,
		data:      data,
		ticker:    time.NewTicker(d),
		stop:      make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *TimerEventSource) run() {
	for {
		select {
		case <-t.ticker.C:
			select {
			case t.ch <- primitives.NewEvent(t.eventType, t.data):
			default:
			}
		case <-t.stop:
			t.ticker.Stop()
			close(t.ch)
			return
		}
	}
}

// Events implements core.EventSource.
func (t *TimerEventSource) Events() <-chan primitives.Event { return t.ch }

// Stop halts the ticker and closes the event channel.
func (t *TimerEventSource) Stop() { close(t.stop) }

var _ core.EventSource = (*TimerEventSource)(nil)
