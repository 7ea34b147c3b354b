package helpers

import (
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topic string
	msgs  []*message.Message
}

func (c *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	c.topic = topic
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestConversationPublisher_StampsFromContext(t *testing.T) {
	inner := &capturePublisher{}
	p := NewConversationPublisher(inner)

	tagged := message.NewMessage(watermill.NewUUID(), nil)
	tagged.SetContext(WithConversationID(context.Background(), "conv-1"))
	preset := message.NewMessage(watermill.NewUUID(), nil)
	preset.Metadata.Set(MetadataConversationID, "kept")
	bare := message.NewMessage(watermill.NewUUID(), nil)

	require.NoError(t, p.Publish("chat", tagged, preset, bare))

	assert.Equal(t, "chat", inner.topic)
	require.Len(t, inner.msgs, 3)
	assert.Equal(t, "conv-1", inner.msgs[0].Metadata.Get(MetadataConversationID))
	assert.Equal(t, "kept", inner.msgs[1].Metadata.Get(MetadataConversationID))
	assert.True(t, strings.HasPrefix(inner.msgs[2].Metadata.Get(MetadataConversationID), "anon_"))
}

func TestConversationIDFromContext(t *testing.T) {
	_, ok := ConversationIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = ConversationIDFromContext(WithConversationID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := ConversationIDFromContext(WithConversationID(context.Background(), "c"))
	assert.True(t, ok)
	assert.Equal(t, "c", id)
}

func TestWatermillLogger_With(t *testing.T) {
	l := NewWatermillLogger("test")
	child := l.With(watermill.LogFields{"topic": "chat"})
	assert.NotSame(t, l, child)
	assert.NotPanics(t, func() {
		child.Info("subscribed", nil)
		child.Error("failed", assert.AnError, watermill.LogFields{"n": 1})
	})
}
