package script

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/go-go-golems/convoflow/pkg/flow"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, e *flow.Engine, doc string, options ...RunnerOption) (*Runner, error) {
	t.Helper()
	s, err := ParseString(doc)
	require.NoError(t, err)
	r := NewRunner(e, options...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r, r.Run(ctx, s)
}

func texts(e *flow.Engine) []string {
	var ret []string
	for _, b := range e.Messages() {
		ret = append(ret, b.Text())
	}
	return ret
}

func TestRunner_Conversation(t *testing.T) {
	e := flow.New()
	r, err := run(t, e, `
vars:
  product: convoflow
steps:
  - say: "Welcome to {{ .Vars.product }}"
  - ask: "Your name?"
    var: name
  - ask: "Plan?"
    var: plan
    choices: [free, pro]
  - wait: 10ms
  - say: "{{ .Vars.name | upper }} picked {{ .Vars.plan }}"
  - set:
      summary: "{{ .Vars.name }}/{{ .Vars.plan }}"
`, WithResponder(Scripted("Ada", "pro")))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Welcome to convoflow",
		"Ada",
		"pro",
		"ADA picked pro",
	}, texts(e))

	msgs := e.Messages()
	prev, ok := msgs[2].Meta[blocks.MetaPrevious].(blocks.Block)
	require.True(t, ok)
	assert.Equal(t, "choice", prev.Meta.String(blocks.MetaActionType))
	assert.Equal(t, []string{"free", "pro"}, prev.Meta[MetaChoices])

	vars := r.Vars()
	assert.Equal(t, "Ada", vars["name"])
	assert.Equal(t, "Ada/pro", vars["summary"])
}

func TestRunner_ExternalResponder(t *testing.T) {
	e := flow.New()
	e.On(events.EventTypeActionShown, func(ev events.Event) {
		a := ev.(*events.EventAction).Block
		go e.Next(blocks.Data{blocks.DataText: "re: " + a.Text()}, nil)
	})
	_, err := run(t, e, "steps:\n  - ask: ping\n  - ask: pong\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"re: ping", "re: pong"}, texts(e))
}

func TestRunner_EphemeralAsk(t *testing.T) {
	e := flow.New()
	r, err := run(t, e, "steps:\n  - ask: continue?\n    ephemeral: true\n    var: ok\n", WithResponder(Scripted("yes")))
	require.NoError(t, err)
	assert.Empty(t, e.Messages())
	assert.Equal(t, "yes", r.Vars()["ok"])
}

func TestRunner_WaitForNext(t *testing.T) {
	e := flow.New()
	responded := 0
	responder := ResponderFunc(func(ctx context.Context, a blocks.Block) (blocks.Data, error) {
		responded++
		assert.True(t, a.IsWaiting())
		return nil, nil
	})
	_, err := run(t, e, "steps:\n  - wait: next\n", WithResponder(responder))
	require.NoError(t, err)
	assert.Equal(t, 1, responded)
	assert.Empty(t, e.Messages())
}

func TestRunner_Stream(t *testing.T) {
	e := flow.New()
	var completed int
	e.On(events.EventTypeStreamCompleted, func(events.Event) { completed++ })
	_, err := run(t, e, `
vars:
  who: world
steps:
  - stream: "hello there {{ .Vars.who }}"
    format: markdown
    chunk_delay: 1ms
`)
	require.NoError(t, err)
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there world", msgs[0].Text())
	assert.Equal(t, "markdown", msgs[0].Meta.String(blocks.MetaFormat))
	assert.False(t, msgs[0].Meta.Bool(blocks.MetaStreaming))
	assert.Equal(t, 1, completed)
}

func TestRunner_ResponderError(t *testing.T) {
	e := flow.New()
	_, err := run(t, e, "steps:\n  - ask: a\n  - ask: b\n", WithResponder(Scripted("only one")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (ask)")
}

func TestRunner_CompleteNeedsClient(t *testing.T) {
	_, err := run(t, flow.New(), "steps:\n  - complete: hi\n")
	assert.Error(t, err)
}

func TestRunner_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Bon", "jour"} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"x\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	e := flow.New()
	_, err := run(t, e, "steps:\n  - complete: \"Say hello in French\"\n",
		WithOpenAI(openai.NewClientWithConfig(cfg), openai.GPT3Dot5Turbo))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bonjour"}, texts(e))
}

func TestRunner_ContextCancelled(t *testing.T) {
	e := flow.New()
	s, err := ParseString("steps:\n  - ask: never answered\n")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = NewRunner(e).Run(ctx, s)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
