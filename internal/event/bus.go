// Package event carries transcript and turn lifecycle notifications
// from the session engine to its renderers, so they redraw without
// polling engine state.
package event

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType represents the type of event.
type EventType string

const (
	TurnStarted       EventType = "turn.started"
	TurnFinished      EventType = "turn.finished"
	TurnAborted       EventType = "turn.aborted"
	RecordAppended    EventType = "record.appended"
	RecordUpdated     EventType = "record.updated"
	TranscriptCleared EventType = "transcript.cleared"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// eventsTopic is the single watermill topic all events travel on.
const eventsTopic = "engine.events"

// Bus fans events out to subscribers. Every publish travels through one
// watermill gochannel subscription before dispatch, so subscribers
// observe events in publish order no matter which goroutine published.
// Payloads stay in-process: the message carries only an envelope id, so
// typed Data (record pointers included) survives without serialization.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry
	nextID      uint64
	closed      bool

	pubsub  *gochannel.GoChannel
	cancel  context.CancelFunc
	pending sync.Map // message uuid -> envelope
}

// envelope pairs an in-flight event with the channel a synchronous
// publisher waits on. done is nil for fire-and-forget publishes.
type envelope struct {
	event Event
	done  chan struct{}
}

// NewBus creates an event bus and starts its dispatch loop.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[EventType][]subscriberEntry),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		cancel: cancel,
	}

	// Subscribe on a fresh gochannel cannot fail; it errors only after
	// Close.
	msgs, err := b.pubsub.Subscribe(ctx, eventsTopic)
	if err == nil {
		go b.dispatch(msgs)
	}
	return b
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

// unsubscribe removes a subscriber for a specific event type.
func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// unsubscribeGlobal removes a global subscriber.
func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish sends an event without waiting for subscribers to run.
// Delivery order still follows publish order.
func (b *Bus) Publish(event Event) {
	b.publish(event, false)
}

// PublishSync sends an event and returns after every subscriber ran.
// Must not be called from inside a subscriber; the dispatch loop would
// wait on itself.
func (b *Bus) PublishSync(event Event) {
	b.publish(event, true)
}

func (b *Bus) publish(event Event, wait bool) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	var done chan struct{}
	if wait {
		done = make(chan struct{})
	}

	id := watermill.NewUUID()
	b.pending.Store(id, envelope{event: event, done: done})

	if err := b.pubsub.Publish(eventsTopic, message.NewMessage(id, nil)); err != nil {
		// Bus closed mid-publish. Deliver directly so a waiting caller
		// is not stranded; a closed bus has no subscribers left anyway.
		b.pending.Delete(id)
		b.deliver(event)
		if done != nil {
			close(done)
		}
		return
	}

	if wait {
		<-done
	}
}

// dispatch is the single consumer of the events topic. It resolves each
// message back to its typed event and runs the subscribers.
func (b *Bus) dispatch(msgs <-chan *message.Message) {
	for msg := range msgs {
		msg.Ack()
		v, ok := b.pending.LoadAndDelete(msg.UUID)
		if !ok {
			continue
		}
		env := v.(envelope)
		b.deliver(env.event)
		if env.done != nil {
			close(env.done)
		}
	}

	// Channel closed: release any publisher still waiting.
	b.pending.Range(func(key, v any) bool {
		b.pending.Delete(key)
		if env := v.(envelope); env.done != nil {
			close(env.done)
		}
		return true
	})
}

// deliver runs the subscribers registered for the event's type plus the
// global ones, in registration order.
func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	b.cancel()
	return b.pubsub.Close()
}
