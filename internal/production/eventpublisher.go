package production

import (
	"context"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

// PublishedEvent bundles an event with the transition it produced.
type PublishedEvent struct {
	Event    primitives.Event
	Metadata core.TransitionMetadata
}

// ChannelPublisher forwards events to a Go channel, dropping on backpressure
// rather than blocking the machine's event loop.
type ChannelPublisher struct {
	ch chan<- PublishedEvent
}

// NewChannelPublisher creates a ChannelPublisher with the given output channel.
func NewChannelPublisher(ch chan<- PublishedEvent) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event primitives.Event, metadata core.TransitionMetadata) error {
	select {
	case p.ch <- PublishedEvent{Event: event, Metadata: metadata}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (p *ChannelPublisher) Close() error {
	close(p.ch)
	return nil
}

var _ core.EventPublisher = (*ChannelPublisher)(nil)
