// Package helpers connects watermill plumbing to the conversation's logging
// and metadata.
package helpers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Metadata keys set on every message published for a conversation event.
const (
	MetadataConversationID = "conversation_id"
	MetadataEventType      = "event_type"
	MetadataSequence       = "sequence_number"
)

// WatermillLogger is a watermill.LoggerAdapter writing to the global zerolog
// logger, tagged with a component. Watermill's info lines are demoted to
// debug.
type WatermillLogger struct {
	zl zerolog.Logger
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)

func NewWatermillLogger(component string) *WatermillLogger {
	return &WatermillLogger{zl: log.Logger.With().Str("component", component).Logger()}
}

func (l *WatermillLogger) write(level zerolog.Level, msg string, err error, fields watermill.LogFields) {
	ev := l.zl.WithLevel(level)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Fields(map[string]any(fields)).Msg(msg)
}

func (l *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.write(zerolog.ErrorLevel, msg, err, fields)
}

func (l *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.write(zerolog.DebugLevel, msg, nil, fields)
}

func (l *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.write(zerolog.DebugLevel, msg, nil, fields)
}

func (l *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.write(zerolog.TraceLevel, msg, nil, fields)
}

func (l *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{zl: l.zl.With().Fields(map[string]any(fields)).Logger()}
}

type conversationKey struct{}

// WithConversationID attaches a conversation id to ctx.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationIDFromContext returns the conversation id attached to ctx.
func ConversationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(conversationKey{}).(string)
	return id, ok && id != ""
}

// ConversationPublisher stamps outgoing messages with the conversation id of
// their context. A message that already carries one keeps it; a message
// without any gets an "anon_" id so that untagged publishes stand out
// downstream.
type ConversationPublisher struct {
	message.Publisher
}

func NewConversationPublisher(p message.Publisher) *ConversationPublisher {
	return &ConversationPublisher{Publisher: p}
}

func (p *ConversationPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if msg.Metadata.Get(MetadataConversationID) != "" {
			continue
		}
		id, ok := ConversationIDFromContext(msg.Context())
		if !ok {
			id = "anon_" + shortuuid.New()
			log.Debug().Str("topic", topic).Str("message_uuid", msg.UUID).Msg("publishing message without conversation id")
		}
		msg.Metadata.Set(MetadataConversationID, id)
	}
	return p.Publisher.Publish(topic, msgs...)
}
