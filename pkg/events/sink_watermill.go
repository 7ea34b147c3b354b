package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/convoflow/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WatermillSink publishes events to a watermill Publisher so they can be
// consumed asynchronously, possibly out of process.
//
// Every message carries the event type and sequence number as metadata, and
// the conversation id.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillSink creates a new WatermillSink that publishes to the given
// publisher and topic.
func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: helpers.NewConversationPublisher(publisher),
		topic:     topic,
	}
}

// PublishEvent serializes the event to JSON and publishes it.
func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", event.Type())
	}

	md := event.Metadata()
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(helpers.MetadataEventType, string(event.Type()))
	msg.Metadata.Set(helpers.MetadataSequence, strconv.FormatUint(md.Sequence, 10))
	if md.ConversationID != "" {
		msg.SetContext(helpers.WithConversationID(context.Background(), md.ConversationID))
	}

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s event to %s", event.Type(), w.topic)
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)
