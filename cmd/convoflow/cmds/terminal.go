package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/go-go-golems/convoflow/pkg/flow"
	"github.com/go-go-golems/convoflow/pkg/script"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tcnksm/go-input"
)

// Terminal renders a conversation line by line and answers its actions from
// a reader.
type Terminal struct {
	out io.Writer
	ui  *input.UI
	// glamour style for markdown messages, empty for plain text
	style string

	mu sync.Mutex
	// text of each streamed message printed so far
	printed map[int]string
}

var _ script.Responder = &Terminal{}

func NewTerminal(out io.Writer, in io.Reader, style string) *Terminal {
	return &Terminal{
		out:     out,
		ui:      &input.UI{Writer: out, Reader: in},
		style:   style,
		printed: map[int]string{},
	}
}

// Attach subscribes the terminal to the engine's events.
func (t *Terminal) Attach(e *flow.Engine) {
	e.On(events.EventTypeMessageAdded, func(ev events.Event) {
		b := ev.(*events.EventMessage).Block
		// answers were typed by the user, streams print as they progress
		if _, answer := b.Meta[blocks.MetaPrevious]; answer || b.Meta.Bool(blocks.MetaStreaming) {
			return
		}
		t.PrintBlock(b)
	})
	e.On(events.EventTypeStreamStarted, func(ev events.Event) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.printed[ev.(*events.EventStreamStarted).Key] = ""
		_, _ = io.WriteString(t.out, "bot> ")
	})
	e.On(events.EventTypeStreamProgressed, func(ev events.Event) {
		p := ev.(*events.EventStreamProgress)
		t.printDelta(p.Key, p.Text)
	})
	e.On(events.EventTypeStreamCompleted, func(ev events.Event) {
		p := ev.(*events.EventStreamProgress)
		t.printDelta(p.Key, p.Text)
		t.endStream(p.Key, "")
	})
	e.On(events.EventTypeStreamCancelled, func(ev events.Event) {
		c := ev.(*events.EventStreamCancelled)
		t.endStream(c.Key, fmt.Sprintf(" [cancelled: %s]", c.Reason))
	})
	e.On(events.EventTypeStreamErrored, func(ev events.Event) {
		t.endStream(ev.(*events.EventStreamErrored).Key, " [failed]")
	})
	e.On(events.EventTypeErrorOccurred, func(ev events.Event) {
		er := ev.(*events.EventError)
		msg := er.Message
		if er.Cause != "" {
			msg += ": " + er.Cause
		}
		t.println(fmt.Sprintf("! %s error: %s", er.ErrorType, msg))
	})
}

func (t *Terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.out, s)
}

func (t *Terminal) endStream(key int, suffix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.printed, key)
	_, _ = fmt.Fprintln(t.out, suffix)
}

func (t *Terminal) printDelta(key int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.printed[key]
	if !strings.HasPrefix(text, prev) {
		// the text was replaced, start over on a fresh line
		_, _ = io.WriteString(t.out, "\nbot> ")
		prev = ""
	}
	_, _ = io.WriteString(t.out, text[len(prev):])
	t.printed[key] = text
}

// PrintBlock prints a single message, rendering markdown when styled.
func (t *Terminal) PrintBlock(b blocks.Block) {
	text := b.Text()
	if t.style != "" && b.Meta.String(blocks.MetaFormat) == "markdown" {
		styled, err := glamour.Render(text, t.style)
		if err != nil {
			log.Warn().Err(err).Msg("could not render markdown")
		} else {
			text = strings.TrimRight(styled, "\n")
		}
	}
	prefix := "bot"
	if _, answer := b.Meta[blocks.MetaPrevious]; answer {
		prefix = "you"
	}
	t.println(fmt.Sprintf("%s> %s", prefix, text))
}

// PrintHistory prints restored messages, answers included.
func (t *Terminal) PrintHistory(bs []blocks.Block) {
	for _, b := range bs {
		t.PrintBlock(b)
	}
}

// Respond asks the user on the terminal. It gives up when ctx is done, but
// the pending read is only released by the next line of input.
func (t *Terminal) Respond(ctx context.Context, action blocks.Block) (blocks.Data, error) {
	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := t.ask(action)
		done <- result{answer, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "could not read answer")
		}
		if action.IsWaiting() {
			return blocks.Data{}, nil
		}
		return blocks.Data{blocks.DataText: r.answer}, nil
	}
}

func (t *Terminal) ask(action blocks.Block) (string, error) {
	if action.IsWaiting() {
		return t.ui.Ask("(press enter to continue)", &input.Options{HideOrder: true})
	}

	query := action.Text()
	if choices := stringList(action.Meta[script.MetaChoices]); len(choices) > 0 {
		return t.ui.Select(query, choices, &input.Options{
			Default: choices[0],
			Loop:    true,
		})
	}
	return t.ui.Ask(query, &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
	})
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		ret := make([]string, 0, len(l))
		for _, s := range l {
			ret = append(ret, fmt.Sprint(s))
		}
		return ret
	default:
		return nil
	}
}
