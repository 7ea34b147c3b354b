package events

// EventSink represents a destination for conversation events, such as a
// watermill topic or a log.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

// NullSink is a no-op EventSink implementation that discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(event Event) error {
	return nil
}

var _ EventSink = (*NullSink)(nil)

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event) error

func (f SinkFunc) PublishEvent(event Event) error {
	return f(event)
}

var _ EventSink = SinkFunc(nil)
