package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Listener observes events synchronously, inside Emit.
type Listener func(Event)

// ListenerID identifies a subscription so it can be removed again.
type ListenerID uint64

type subscription struct {
	id        ListenerID
	eventType EventType // empty matches every event
	listener  Listener
}

// Bus is the process-local publish/subscribe hub of a single conversation.
//
// Listeners run synchronously in subscription order before Emit returns.
// A listener that panics is isolated: the remaining listeners still run and
// an error-occurred event of type listener follows. A panic while handling a
// listener error is only logged. Sinks receive every event after the listeners.
type Bus struct {
	conversationID string

	mu     sync.RWMutex
	subs   []subscription
	sinks  []EventSink
	nextID ListenerID

	sequence atomic.Uint64
}

type BusOption func(*Bus)

// WithConversationID tags every emitted event with the given conversation id.
func WithConversationID(id string) BusOption {
	return func(b *Bus) {
		b.conversationID = id
	}
}

// WithSinks registers sinks at construction time.
func WithSinks(sinks ...EventSink) BusOption {
	return func(b *Bus) {
		b.sinks = append(b.sinks, sinks...)
	}
}

func NewBus(options ...BusOption) *Bus {
	b := &Bus{}
	for _, o := range options {
		o(b)
	}
	return b
}

func (b *Bus) ConversationID() string {
	return b.conversationID
}

// On subscribes listener to events of the given type.
func (b *Bus) On(eventType EventType, listener Listener) ListenerID {
	return b.subscribe(eventType, listener)
}

// OnAny subscribes listener to every event.
func (b *Bus) OnAny(listener Listener) ListenerID {
	return b.subscribe("", listener)
}

func (b *Bus) subscribe(eventType EventType, listener Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	// copy on write, Emit iterates over a snapshot
	subs := make([]subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, subscription{id: id, eventType: eventType, listener: listener})
	return id
}

// Off removes a subscription. Unknown ids, or an id registered for another
// event type, are ignored. Use an empty type to remove an OnAny subscription.
func (b *Bus) Off(eventType EventType, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id && s.eventType == eventType {
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// AddSink forwards every subsequent event to sink.
func (b *Bus) AddSink(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// ListenerCount returns the number of listeners that would receive an event
// of the given type.
func (b *Bus) ListenerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == eventType {
			n++
		}
	}
	return n
}

// Emit stamps the event metadata and delivers the event. A nil event is ignored.
func (b *Bus) Emit(e Event) {
	if e == nil {
		return
	}
	e.setMetadata(EventMetadata{
		ID:             uuid.New(),
		ConversationID: b.conversationID,
		Sequence:       b.sequence.Add(1),
		Time:           time.Now(),
	})

	b.mu.RLock()
	subs := b.subs
	sinks := b.sinks
	b.mu.RUnlock()

	log.Trace().
		Str("component", "events.bus").
		Str("event_type", string(e.Type())).
		Int("listener_count", len(subs)).
		Msg("emit")

	var failures []error
	for _, s := range subs {
		if s.eventType != "" && s.eventType != e.Type() {
			continue
		}
		if err := b.deliver(s, e); err != nil {
			failures = append(failures, err)
		}
	}

	for _, sink := range sinks {
		// best-effort: a failing sink must not disturb the conversation
		if err := sink.PublishEvent(e); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish event to sink")
		}
	}

	if isListenerError(e) {
		return
	}
	for _, err := range failures {
		b.Emit(NewErrorEvent(ErrorTypeListener, "listener failed", err))
	}
}

func isListenerError(e Event) bool {
	ee, ok := e.(*EventError)
	return ok && ee.ErrorType == ErrorTypeListener
}

func (b *Bus) deliver(s subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("listener %d panicked on %s: %v", s.id, e.Type(), r)
			log.Error().
				Str("component", "events.bus").
				Str("event_type", string(e.Type())).
				Uint64("listener_id", uint64(s.id)).
				Str("panic", fmt.Sprint(r)).
				Msg("listener panicked")
		}
	}()
	s.listener(e)
	return nil
}
