package events

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJSON_Catalog(t *testing.T) {
	b := NewBus(WithConversationID("c"))
	var emitted []Event
	b.OnAny(func(e Event) { emitted = append(emitted, e) })

	b.Emit(NewMessageUpdatedEvent("2", blocks.Block{Key: 2, Kind: blocks.KindMessage, Data: blocks.Data{"text": "x"}}))
	b.Emit(NewActionResolvedEvent(blocks.Data{"value": "yes"}, blocks.Meta{"human": true}))
	b.Emit(NewErrorEvent(ErrorTypePlugin, "plugin failed", errors.New("bad input")))
	b.Emit(NewStreamCompletedEvent(2, "done", 4))

	for _, e := range emitted {
		payload, err := json.Marshal(e)
		require.NoError(t, err)
		decoded, err := NewEventFromJSON(payload)
		require.NoError(t, err)
		assert.Equal(t, e.Type(), decoded.Type())
		assert.Equal(t, e.Metadata().Sequence, decoded.Metadata().Sequence)
		assert.Equal(t, "c", decoded.Metadata().ConversationID)
	}

	upd, err := NewEventFromJSON(mustJSON(t, emitted[0]))
	require.NoError(t, err)
	require.IsType(t, &EventMessageUpdated{}, upd)
	assert.Equal(t, "2", upd.(*EventMessageUpdated).ID)
	assert.Equal(t, "x", upd.(*EventMessageUpdated).Block.Text())

	res, err := NewEventFromJSON(mustJSON(t, emitted[1]))
	require.NoError(t, err)
	assert.Equal(t, "yes", res.(*EventActionResolved).Data.String("value"))
	assert.True(t, res.(*EventActionResolved).Meta.Bool("human"))

	ev, err := NewEventFromJSON(mustJSON(t, emitted[2]))
	require.NoError(t, err)
	assert.Equal(t, ErrorTypePlugin, ev.(*EventError).ErrorType)
	assert.Equal(t, "bad input", ev.(*EventError).Cause)
}

func TestNewEventFromJSON_UnknownTypeIsCustom(t *testing.T) {
	ev, err := NewEventFromJSON([]byte(`{"type":"typing","payload":{"who":"human"}}`))
	require.NoError(t, err)
	c, ok := ev.(*EventCustom)
	require.True(t, ok)
	assert.Equal(t, EventType("typing"), c.Type())
	assert.Equal(t, map[string]any{"who": "human"}, c.Payload)
}

func TestNewEventFromJSON_Invalid(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`not json`))
	assert.Error(t, err)
	_, err = NewEventFromJSON([]byte(`{"payload":1}`))
	assert.Error(t, err)
}

func TestRegisterEventFactory_Duplicate(t *testing.T) {
	require.NoError(t, RegisterEventFactory("test-registry-dup", func() Event { return &EventCustom{} }))
	assert.Error(t, RegisterEventFactory("test-registry-dup", func() Event { return &EventCustom{} }))
	assert.Error(t, RegisterEventFactory(EventTypeMessageAdded, func() Event { return &EventMessage{} }))
}

func mustJSON(t *testing.T, e Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}
