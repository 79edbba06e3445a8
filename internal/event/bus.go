package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventType names a lifecycle event. It doubles as the watermill topic.
type EventType string

const (
	SessionCreated     EventType = "session.created"
	SessionDeleted     EventType = "session.deleted"
	SettingsReloaded   EventType = "settings.reloaded"
	TerminalExited     EventType = "terminal.exited"
	PermissionRequired EventType = "permission.required"
	PermissionResolved EventType = "permission.resolved"
)

// Event is one published occurrence. Data holds one of the *Data types.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber receives events.
type Subscriber func(event Event)

// subscription matches one type, or every type when all is set.
type subscription struct {
	id  uint64
	typ EventType
	all bool
	fn  Subscriber
}

// Bus calls in-process subscribers with the original Go values and mirrors
// every event as JSON onto a watermill GoChannel topic for Stream readers.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	subs   []subscription
	lastID uint64
	closed bool
	quit   chan struct{}
}

var globalBus = NewBus()

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 100}, watermill.NopLogger{}),
		quit:   make(chan struct{}),
	}
}

func (b *Bus) add(sub subscription) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.lastID++
	sub.id = b.lastID
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() { b.remove(id) }
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribe calls fn for every event of type t until the returned function
// is called.
func (b *Bus) Subscribe(t EventType, fn Subscriber) func() {
	return b.add(subscription{typ: t, fn: fn})
}

// SubscribeAll calls fn for every event.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add(subscription{all: true, fn: fn})
}

// Subscribe registers fn on the global bus.
func Subscribe(t EventType, fn Subscriber) func() { return globalBus.Subscribe(t, fn) }

// SubscribeAll registers fn for every event on the global bus.
func SubscribeAll(fn Subscriber) func() { return globalBus.SubscribeAll(fn) }

// matching returns the subscribers for t, or false once the bus is closed.
func (b *Bus) matching(t EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	var fns []Subscriber
	for _, sub := range b.subs {
		if sub.all || sub.typ == t {
			fns = append(fns, sub.fn)
		}
	}
	return fns, true
}

// mirror publishes ev on its topic. Failures only cost Stream readers the
// event, so they are logged and dropped.
func (b *Bus) mirror(ev Event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = b.pubsub.Publish(string(ev.Type), message.NewMessage(watermill.NewUUID(), payload))
	}
	if err != nil {
		log.Debug().Err(err).Str("type", string(ev.Type)).Msg("event not mirrored")
	}
}

// Publish delivers ev to each subscriber on its own goroutine.
func (b *Bus) Publish(ev Event) {
	fns, ok := b.matching(ev.Type)
	if !ok {
		return
	}
	for _, fn := range fns {
		go fn(ev)
	}
	b.mirror(ev)
}

// PublishSync delivers ev to every subscriber before returning.
func (b *Bus) PublishSync(ev Event) {
	fns, ok := b.matching(ev.Type)
	if !ok {
		return
	}
	for _, fn := range fns {
		fn(ev)
	}
	b.mirror(ev)
}

// Publish delivers ev on the global bus.
func Publish(ev Event) { globalBus.Publish(ev) }

// PublishSync delivers ev on the global bus synchronously.
func PublishSync(ev Event) { globalBus.PublishSync(ev) }

// Stream reads the watermill topic for t. Data arrives decoded from JSON
// (maps, not the *Data types). The channel closes when ctx ends or the bus
// closes.
func (b *Bus) Stream(ctx context.Context, t EventType) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, string(t))
	if err != nil {
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			case <-b.quit:
				return
			}
		}
	}()
	return out, nil
}

// Stream reads topic t of the global bus.
func Stream(ctx context.Context, t EventType) (<-chan Event, error) {
	return globalBus.Stream(ctx, t)
}

// Close drops every subscriber and closes the topics. It is idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	close(b.quit)
	b.mu.Unlock()
	return b.pubsub.Close()
}
