package controlplane

import (
	"context"
	"time"

	"github.com/tallr-dev/tallrd/internal/pubsub"
)

// EventBus fans out ControlPlaneEvents to SSE subscribers via the shared
// pub/sub Broker. Unlike a per-task subscription model, every task's
// events pass through one broker; callers filter with EventFilter.
type EventBus struct {
	broker *pubsub.Broker[ControlPlaneEvent]
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{broker: pubsub.NewBroker[ControlPlaneEvent]()}
}

// Publish broadcasts event to all current subscribers. Timestamps are
// filled in if zero.
func (b *EventBus) Publish(event ControlPlaneEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.broker.Publish(pubsub.UpdatedEvent, event)
}

// Subscribe returns a channel of every published event. The channel
// closes when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context) <-chan pubsub.Event[ControlPlaneEvent] {
	return b.broker.Subscribe(ctx)
}

// SubscribeFiltered returns only events matching filter. Filtering
// happens in a forwarding goroutine so the broker's internal buffer
// isn't held up by a slow consumer's predicate.
func (b *EventBus) SubscribeFiltered(ctx context.Context, filter EventFilter) <-chan ControlPlaneEvent {
	raw := b.broker.Subscribe(ctx)
	out := make(chan ControlPlaneEvent, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				if filter.IsEmpty() || filter.Matches(ev.Payload) {
					select {
					case out <- ev.Payload:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	return b.broker.SubscriberCount()
}

// Close shuts down the bus, closing all subscriber channels.
func (b *EventBus) Close() {
	b.broker.Close()
}
