package events

import (
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeMessageAdded   EventType = "message-added"
	EventTypeMessageUpdated EventType = "message-updated"
	EventTypeMessageRemoved EventType = "message-removed"
	EventTypeMessageCleared EventType = "message-cleared"

	EventTypeActionShown    EventType = "action-shown"
	EventTypeActionCleared  EventType = "action-cleared"
	EventTypeActionResolved EventType = "action-resolved"

	EventTypeBotBusy EventType = "bot-busy-changed"

	EventTypeErrorOccurred EventType = "error-occurred"
	EventTypeErrorCleared  EventType = "error-cleared"

	EventTypeStreamStarted    EventType = "stream-started"
	EventTypeStreamProgressed EventType = "stream-progressed"
	EventTypeStreamCompleted  EventType = "stream-completed"
	EventTypeStreamCancelled  EventType = "stream-cancelled"
	EventTypeStreamErrored    EventType = "stream-errored"

	// Caller-defined events emitted through Engine.Emit
	EventTypeCustom EventType = "custom"
)

// Event is implemented by every event travelling through a Bus. Concrete
// events embed EventImpl, which carries the type and the metadata stamped by
// the bus at emission time.
type Event interface {
	Type() EventType
	Metadata() EventMetadata
	setMetadata(EventMetadata)
}

// EventMetadata is stamped on every event when it is emitted.
type EventMetadata struct {
	ID             uuid.UUID `json:"event_id" yaml:"event_id" mapstructure:"event_id"`
	ConversationID string    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty" mapstructure:"conversation_id"`
	Sequence       uint64    `json:"sequence" yaml:"sequence" mapstructure:"sequence"`
	Time           time.Time `json:"time" yaml:"time" mapstructure:"time"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	e.Uint64("sequence", em.Sequence)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) setMetadata(m EventMetadata) {
	e.Metadata_ = m
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

// EventMessage is emitted when a message block is added to the log. It is
// also emitted once, for the last block, after a bulk load.
type EventMessage struct {
	EventImpl
	Block blocks.Block `json:"block"`
}

func NewMessageAddedEvent(b blocks.Block) *EventMessage {
	return &EventMessage{
		EventImpl: EventImpl{Type_: EventTypeMessageAdded},
		Block:     b,
	}
}

var _ Event = &EventMessage{}

// EventMessageUpdated carries the stringified key of the updated block.
type EventMessageUpdated struct {
	EventImpl
	ID    string       `json:"id"`
	Block blocks.Block `json:"block"`
}

func NewMessageUpdatedEvent(id string, b blocks.Block) *EventMessageUpdated {
	return &EventMessageUpdated{
		EventImpl: EventImpl{Type_: EventTypeMessageUpdated},
		ID:        id,
		Block:     b,
	}
}

var _ Event = &EventMessageUpdated{}

type EventMessageRemoved struct {
	EventImpl
	Key int `json:"key"`
}

func NewMessageRemovedEvent(key int) *EventMessageRemoved {
	return &EventMessageRemoved{
		EventImpl: EventImpl{Type_: EventTypeMessageRemoved},
		Key:       key,
	}
}

var _ Event = &EventMessageRemoved{}

// EventMessageCleared is emitted once when the whole log is cleared.
type EventMessageCleared struct {
	EventImpl
}

func NewMessageClearedEvent() *EventMessageCleared {
	return &EventMessageCleared{EventImpl: EventImpl{Type_: EventTypeMessageCleared}}
}

var _ Event = &EventMessageCleared{}

// EventAction is used for both action-shown and action-cleared.
type EventAction struct {
	EventImpl
	Block blocks.Block `json:"block"`
}

func NewActionShownEvent(b blocks.Block) *EventAction {
	return &EventAction{
		EventImpl: EventImpl{Type_: EventTypeActionShown},
		Block:     b,
	}
}

func NewActionClearedEvent(b blocks.Block) *EventAction {
	return &EventAction{
		EventImpl: EventImpl{Type_: EventTypeActionCleared},
		Block:     b,
	}
}

var _ Event = &EventAction{}

// EventActionResolved carries the raw arguments passed to Next.
type EventActionResolved struct {
	EventImpl
	Data blocks.Data `json:"data,omitempty"`
	Meta blocks.Meta `json:"meta_args,omitempty"`
}

func NewActionResolvedEvent(data blocks.Data, meta blocks.Meta) *EventActionResolved {
	return &EventActionResolved{
		EventImpl: EventImpl{Type_: EventTypeActionResolved},
		Data:      data,
		Meta:      meta,
	}
}

var _ Event = &EventActionResolved{}

type BusySource string

const (
	BusySourceBot    BusySource = "bot"
	BusySourceHuman  BusySource = "human"
	BusySourceSystem BusySource = "system"
)

type EventBusy struct {
	EventImpl
	Busy   bool       `json:"busy"`
	Source BusySource `json:"source"`
}

func NewBusyEvent(busy bool, source BusySource) *EventBusy {
	return &EventBusy{
		EventImpl: EventImpl{Type_: EventTypeBotBusy},
		Busy:      busy,
		Source:    source,
	}
}

var _ Event = &EventBusy{}

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypePlugin     ErrorType = "plugin"
	ErrorTypeStream     ErrorType = "stream"
	ErrorTypeListener   ErrorType = "listener"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// EventError is the typed error payload {type, message, cause?}.
type EventError struct {
	EventImpl
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
	Cause     string    `json:"cause,omitempty"`
}

func NewErrorEvent(errorType ErrorType, message string, cause error) *EventError {
	ret := &EventError{
		EventImpl: EventImpl{Type_: EventTypeErrorOccurred},
		ErrorType: errorType,
		Message:   message,
	}
	if cause != nil {
		ret.Cause = cause.Error()
	}
	return ret
}

var _ Event = &EventError{}

type EventErrorCleared struct {
	EventImpl
}

func NewErrorClearedEvent() *EventErrorCleared {
	return &EventErrorCleared{EventImpl: EventImpl{Type_: EventTypeErrorCleared}}
}

var _ Event = &EventErrorCleared{}

type EventStreamStarted struct {
	EventImpl
	Key int `json:"key"`
}

func NewStreamStartedEvent(key int) *EventStreamStarted {
	return &EventStreamStarted{
		EventImpl: EventImpl{Type_: EventTypeStreamStarted},
		Key:       key,
	}
}

var _ Event = &EventStreamStarted{}

// EventStreamProgress is used for stream-progressed and stream-completed.
// Text is the full buffered text at the time of the flush.
type EventStreamProgress struct {
	EventImpl
	Key         int    `json:"key"`
	Text        string `json:"text"`
	UpdateCount int    `json:"update_count"`
}

func NewStreamProgressedEvent(key int, text string, updateCount int) *EventStreamProgress {
	return &EventStreamProgress{
		EventImpl:   EventImpl{Type_: EventTypeStreamProgressed},
		Key:         key,
		Text:        text,
		UpdateCount: updateCount,
	}
}

func NewStreamCompletedEvent(key int, text string, updateCount int) *EventStreamProgress {
	return &EventStreamProgress{
		EventImpl:   EventImpl{Type_: EventTypeStreamCompleted},
		Key:         key,
		Text:        text,
		UpdateCount: updateCount,
	}
}

var _ Event = &EventStreamProgress{}

type EventStreamCancelled struct {
	EventImpl
	Key    int    `json:"key"`
	Reason string `json:"reason,omitempty"`
}

func NewStreamCancelledEvent(key int, reason string) *EventStreamCancelled {
	return &EventStreamCancelled{
		EventImpl: EventImpl{Type_: EventTypeStreamCancelled},
		Key:       key,
		Reason:    reason,
	}
}

var _ Event = &EventStreamCancelled{}

type EventStreamErrored struct {
	EventImpl
	Key   int    `json:"key"`
	Error string `json:"error"`
}

func NewStreamErroredEvent(key int, err error) *EventStreamErrored {
	ret := &EventStreamErrored{
		EventImpl: EventImpl{Type_: EventTypeStreamErrored},
		Key:       key,
	}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret
}

var _ Event = &EventStreamErrored{}

// EventCustom lets callers push their own notifications through the bus.
// Type_ may be any caller-chosen EventType.
type EventCustom struct {
	EventImpl
	Payload any `json:"payload,omitempty"`
}

func NewCustomEvent(eventType EventType, payload any) *EventCustom {
	if eventType == "" {
		eventType = EventTypeCustom
	}
	return &EventCustom{
		EventImpl: EventImpl{Type_: eventType},
		Payload:   payload,
	}
}

var _ Event = &EventCustom{}
