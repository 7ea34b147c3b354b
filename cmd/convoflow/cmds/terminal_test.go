package cmds

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/flow"
	"github.com/go-go-golems/convoflow/pkg/script"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalPrintsMessagesAndStreams(t *testing.T) {
	out := &bytes.Buffer{}
	e := flow.New()
	term := NewTerminal(out, strings.NewReader(""), "")
	term.Attach(e)

	_, err := e.AddMessage(blocks.Data{blocks.DataText: "hello"}, nil)
	require.NoError(t, err)

	st, err := e.Stream(stream.Config{Throttle: time.Hour, MaxDelay: time.Nanosecond})
	require.NoError(t, err)
	assert.True(t, st.Append("one "))
	assert.True(t, st.Append("two"))
	require.NoError(t, st.Finish(nil, nil))

	assert.Equal(t, "bot> hello\nbot> one two\n", out.String())
}

func TestTerminalRestartsReplacedStreamText(t *testing.T) {
	out := &bytes.Buffer{}
	e := flow.New()
	NewTerminal(out, strings.NewReader(""), "").Attach(e)

	st, err := e.Stream(stream.Config{Throttle: time.Hour, MaxDelay: time.Nanosecond})
	require.NoError(t, err)
	st.Append("draft")
	require.NoError(t, st.Finish(blocks.Data{blocks.DataText: "final"}, nil))

	assert.Equal(t, "bot> draft\nbot> final\n", out.String())
}

func TestTerminalRespondAsk(t *testing.T) {
	out := &bytes.Buffer{}
	term := NewTerminal(out, strings.NewReader("Ada\n"), "")

	data, err := term.Respond(context.Background(), blocks.NewAction(blocks.Data{blocks.DataText: "Your name?"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "Ada", data.String(blocks.DataText))
	assert.Contains(t, out.String(), "Your name?")
}

func TestTerminalRespondSelect(t *testing.T) {
	out := &bytes.Buffer{}
	term := NewTerminal(out, strings.NewReader("2\n"), "")

	action := blocks.NewAction(
		blocks.Data{blocks.DataText: "Level?"},
		blocks.Meta{script.MetaChoices: []any{"beginner", "pro"}},
	)
	data, err := term.Respond(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "pro", data.String(blocks.DataText))
}

func TestTerminalRespondWaiting(t *testing.T) {
	term := NewTerminal(&bytes.Buffer{}, strings.NewReader("\n"), "")

	action := blocks.NewAction(nil, blocks.Meta{blocks.MetaWaiting: true})
	data, err := term.Respond(context.Background(), action)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestTerminalRunsScript(t *testing.T) {
	out := &bytes.Buffer{}
	e := flow.New()
	term := NewTerminal(out, strings.NewReader("Ada\n"), "")
	term.Attach(e)

	sc, err := script.ParseString(`
name: greet
steps:
  - say: Hi
  - ask: Name?
    var: name
  - say: "Nice to meet you, {{ .Vars.name }}"
`)
	require.NoError(t, err)

	err = script.NewRunner(e, script.WithResponder(term)).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "bot> Hi\n")
	assert.Contains(t, out.String(), "bot> Nice to meet you, Ada\n")
	assert.NotContains(t, out.String(), "bot> Ada")

	msgs := e.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Ada", msgs[1].Text())
}
