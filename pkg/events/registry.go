package events

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// EventFactory returns a zero-value concrete event to decode a payload into.
type EventFactory func() Event

var (
	registryOnce sync.Once
	reg          *eventRegistry
)

type eventRegistry struct {
	mu        sync.RWMutex
	factories map[EventType]EventFactory
}

func ensureRegistry() {
	registryOnce.Do(func() {
		reg = &eventRegistry{
			factories: map[EventType]EventFactory{
				EventTypeMessageAdded:     func() Event { return &EventMessage{} },
				EventTypeMessageUpdated:   func() Event { return &EventMessageUpdated{} },
				EventTypeMessageRemoved:   func() Event { return &EventMessageRemoved{} },
				EventTypeMessageCleared:   func() Event { return &EventMessageCleared{} },
				EventTypeActionShown:      func() Event { return &EventAction{} },
				EventTypeActionCleared:    func() Event { return &EventAction{} },
				EventTypeActionResolved:   func() Event { return &EventActionResolved{} },
				EventTypeBotBusy:          func() Event { return &EventBusy{} },
				EventTypeErrorOccurred:    func() Event { return &EventError{} },
				EventTypeErrorCleared:     func() Event { return &EventErrorCleared{} },
				EventTypeStreamStarted:    func() Event { return &EventStreamStarted{} },
				EventTypeStreamProgressed: func() Event { return &EventStreamProgress{} },
				EventTypeStreamCompleted:  func() Event { return &EventStreamProgress{} },
				EventTypeStreamCancelled:  func() Event { return &EventStreamCancelled{} },
				EventTypeStreamErrored:    func() Event { return &EventStreamErrored{} },
			},
		}
	})
}

// RegisterEventFactory registers a factory for a custom event type so that
// NewEventFromJSON can decode it into its concrete struct.
// It returns an error if a factory is already registered for the type.
func RegisterEventFactory(eventType EventType, factory EventFactory) error {
	ensureRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.factories[eventType]; exists {
		return errors.Errorf("factory already registered for event type %q", eventType)
	}
	reg.factories[eventType] = factory
	return nil
}

func lookupFactory(eventType EventType) EventFactory {
	ensureRegistry()
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.factories[eventType]
}

// NewEventFromJSON decodes an event serialized by a sink. Unknown types are
// decoded into an EventCustom whose payload holds the generic JSON value.
func NewEventFromJSON(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "decode event header")
	}
	if hdr.Type == "" {
		return nil, errors.New("event payload has no type")
	}

	factory := lookupFactory(hdr.Type)
	if factory == nil {
		factory = func() Event { return &EventCustom{} }
	}
	ev := factory()
	if err := json.Unmarshal(b, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", hdr.Type)
	}
	return ev, nil
}
