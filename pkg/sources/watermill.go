package sources

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/pkg/errors"
)

// MetadataStreamDone marks the message that ends a chunk topic.
const MetadataStreamDone = "stream_done"

// Watermill emits the payload of every message published on Topic, as a
// string, until a message carrying MetadataStreamDone=true arrives.
type Watermill struct {
	Subscriber message.Subscriber
	Topic      string
}

var _ stream.Source = &Watermill{}

func (w *Watermill) Run(ctx context.Context, emit stream.EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := w.Subscriber.Subscribe(ctx, w.Topic)
	if err != nil {
		return errors.Wrapf(err, "could not subscribe to %s", w.Topic)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Metadata.Get(MetadataStreamDone) == "true" {
				msg.Ack()
				return nil
			}
			err := emit(string(msg.Payload))
			msg.Ack()
			if err != nil {
				return err
			}
		}
	}
}

// PublishChunk publishes one chunk for a Watermill source.
func PublishChunk(pub message.Publisher, topic string, chunk string) error {
	return pub.Publish(topic, message.NewMessage(watermill.NewUUID(), []byte(chunk)))
}

// PublishDone ends the chunk topic for a Watermill source.
func PublishDone(pub message.Publisher, topic string) error {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set(MetadataStreamDone, "true")
	return pub.Publish(topic, msg)
}
