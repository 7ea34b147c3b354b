// Package flow sequences a conversation: bot messages go into an ordered
// log, and the flow parks on a single pending action until a responder
// resumes it with Next.
package flow

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/convoflow/pkg/action"
	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/continuation"
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/go-go-golems/convoflow/pkg/plugins"
	"github.com/go-go-golems/convoflow/pkg/store"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine owns one conversation: its message store, action slot,
// continuation register, plugin pipeline and event bus. Engines never share
// state; create one per conversation.
type Engine struct {
	conversationID string
	bus            *events.Bus
	store          *store.Store
	slot           *action.Slot
	register       *continuation.Register
	pipeline       *plugins.Pipeline
	strict         bool
	streamDefaults stream.Config
	logger         zerolog.Logger

	// serializes installing continuations, never held while emitting
	actionMu sync.Mutex
}

var _ stream.Target = &Engine{}

func New(options ...Option) *Engine {
	e := &Engine{
		register:       continuation.NewRegister(),
		pipeline:       plugins.NewPipeline(),
		streamDefaults: stream.DefaultConfig(),
		logger:         log.Logger.With().Str("component", "flow").Logger(),
	}
	for _, o := range options {
		o(e)
	}

	if e.bus == nil {
		if e.conversationID == "" {
			e.conversationID = uuid.NewString()
		}
		e.bus = events.NewBus(events.WithConversationID(e.conversationID))
	} else {
		e.conversationID = e.bus.ConversationID()
	}
	if e.conversationID != "" {
		e.logger = e.logger.With().Str("conversation_id", e.conversationID).Logger()
	}

	e.store = store.New(e.bus)
	e.slot = action.NewSlot(e.bus)
	return e
}

func (e *Engine) ConversationID() string {
	return e.conversationID
}

func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Use registers a plugin at the end of the pipeline.
func (e *Engine) Use(p plugins.Plugin) *Engine {
	n := e.pipeline.Register(p)
	e.logger.Debug().Int("plugin_count", n).Msg("registered plugin")
	return e
}

func (e *Engine) On(eventType events.EventType, l events.Listener) events.ListenerID {
	return e.bus.On(eventType, l)
}

func (e *Engine) OnAny(l events.Listener) events.ListenerID {
	return e.bus.OnAny(l)
}

func (e *Engine) Off(eventType events.EventType, id events.ListenerID) {
	e.bus.Off(eventType, id)
}

func (e *Engine) Emit(ev events.Event) {
	e.bus.Emit(ev)
}

func (e *Engine) AddSink(sink events.EventSink) {
	e.bus.AddSink(sink)
}

// runPlugins runs the pipeline and raises a plugin error event on failure.
func (e *Engine) runPlugins(b blocks.Block) (blocks.Block, error) {
	out, err := e.pipeline.Run(b)
	if err != nil {
		e.logger.Warn().Err(err).Str("kind", string(b.Kind)).Msg("plugin pipeline failed")
		e.bus.Emit(events.NewErrorEvent(events.ErrorTypePlugin, "plugin pipeline failed", err))
		return b, errors.Wrap(err, "plugin pipeline failed")
	}
	return out, nil
}

// AddMessage runs a new message through the plugins and appends it to the
// log. The message-added listeners have run by the time it returns.
func (e *Engine) AddMessage(data blocks.Data, meta blocks.Meta) (int, error) {
	if len(data) == 0 {
		return blocks.NoKey, &ValidationError{Field: "data", Message: "a message needs a data payload"}
	}
	return e.appendMessage(blocks.NewMessage(data, meta))
}

func (e *Engine) appendMessage(b blocks.Block) (int, error) {
	b, err := e.runPlugins(b)
	if err != nil {
		return blocks.NoKey, err
	}
	key := e.store.Add(b)
	e.logger.Trace().Int("key", key).Msg("message added")
	return key, nil
}

func (e *Engine) GetMessage(key int) (blocks.Block, bool) {
	return e.store.Get(key)
}

func (e *Engine) Messages() []blocks.Block {
	return e.store.GetAll()
}

// UpdateMessage shallow-merges data and meta into a stored message and runs
// the result through the plugins.
func (e *Engine) UpdateMessage(key int, data blocks.Data, meta blocks.Meta) error {
	return e.PatchMessage(key, data, meta, true)
}

// PatchMessage is UpdateMessage with the plugin run made optional. Streams
// use it for their intermediate updates.
func (e *Engine) PatchMessage(key int, data blocks.Data, meta blocks.Meta, runPlugins bool) error {
	old, ok := e.store.Get(key)
	if !ok {
		return errors.Wrapf(ErrNotFound, "key %d", key)
	}
	b := old.Merged(data, meta)
	if runPlugins {
		var err error
		b, err = e.runPlugins(b)
		if err != nil {
			return err
		}
	}
	if !e.store.Update(key, b) {
		return errors.Wrapf(ErrNotFound, "key %d", key)
	}
	return nil
}

func (e *Engine) RemoveMessage(key int) bool {
	return e.store.Remove(key)
}

func (e *Engine) ClearMessages() {
	e.store.Clear()
}

// SetMessages replaces the log, typically with a restored transcript. The
// blocks are not run through the plugins again.
func (e *Engine) SetMessages(bs []blocks.Block) {
	e.store.SetAll(bs)
}

// CurrentAction returns the pending action.
func (e *Engine) CurrentAction() (blocks.Block, bool) {
	return e.slot.Get()
}

// SetAction shows an action and parks the conversation on it. The returned
// continuation is resolved by the next call to Next: the slot is cleared,
// the response is appended as a message whose meta.previous is the action
// (unless the action is ephemeral), and the response is delivered to Wait.
//
// The action is announced after the engine's locks are released, so
// action-shown and message-added listeners may answer it and ask the next
// question. An action with neither data nor meta is accepted.
func (e *Engine) SetAction(data blocks.Data, meta blocks.Meta) (*continuation.Continuation, error) {
	if e.strict {
		if _, pending := e.register.Pending(); pending {
			return nil, ErrActionPending
		}
	}

	b, err := e.runPlugins(blocks.NewAction(data, meta))
	if err != nil {
		return nil, err
	}

	c := continuation.New(func(resp continuation.Response) (continuation.Response, error) {
		return e.resolveAction(b, resp)
	})

	e.actionMu.Lock()
	if e.strict {
		if _, pending := e.register.Pending(); pending {
			e.actionMu.Unlock()
			return nil, ErrActionPending
		}
	}
	// installed before the slot announces the action, so that an
	// action-shown listener may already answer it
	prev := e.register.Set(c)
	e.actionMu.Unlock()

	if prev != nil {
		e.logger.Warn().Str("continuation_id", prev.ID).Msg("pending action superseded by a new one")
		prev.Reject(continuation.ErrSuperseded)
	}
	if !c.IsPending() {
		// answered before it could be shown
		return c, nil
	}
	e.slot.Set(b)
	return c, nil
}

func (e *Engine) resolveAction(a blocks.Block, resp continuation.Response) (continuation.Response, error) {
	e.slot.Clear()
	if a.IsEphemeral() {
		return resp, nil
	}
	meta := blocks.MergeMeta(resp.Meta, blocks.Meta{blocks.MetaPrevious: a.WithoutKey()})
	if _, err := e.appendMessage(blocks.NewMessage(resp.Data, meta)); err != nil {
		return resp, err
	}
	return resp, nil
}

// Ask is SetAction followed by waiting for the response. Giving up on ctx
// leaves the action pending.
func (e *Engine) Ask(ctx context.Context, data blocks.Data, meta blocks.Meta) (continuation.Response, error) {
	c, err := e.SetAction(data, meta)
	if err != nil {
		return continuation.Response{}, err
	}
	return c.Wait(ctx)
}

type WaitOptions struct {
	// WaitTime resolves the wait on its own after the duration. Zero waits
	// for Next.
	WaitTime time.Duration
	// Meta is merged under the waiting and ephemeral flags.
	Meta blocks.Meta
}

// Wait parks the conversation on an invisible action that marks the bot
// busy. With a WaitTime, a timer resolves that very continuation with the
// forwarded data; whichever of the timer and Next comes first wins.
func (e *Engine) Wait(opts WaitOptions, forwardData blocks.Data, forwardMeta blocks.Meta) (*continuation.Continuation, error) {
	meta := blocks.MergeMeta(opts.Meta, blocks.Meta{
		blocks.MetaWaiting:   true,
		blocks.MetaEphemeral: true,
	})
	c, err := e.SetAction(nil, meta)
	if err != nil {
		return nil, err
	}
	if opts.WaitTime > 0 {
		time.AfterFunc(opts.WaitTime, func() {
			if c.Resolve(continuation.Response{Data: forwardData, Meta: forwardMeta}) {
				e.logger.Trace().Dur("wait_time", opts.WaitTime).Msg("wait elapsed")
				e.bus.Emit(events.NewActionResolvedEvent(forwardData, forwardMeta))
			}
		})
	}
	return c, nil
}

// Next resumes the pending continuation and emits action-resolved with the
// arguments. With nothing pending it does nothing and returns false.
func (e *Engine) Next(data blocks.Data, meta blocks.Meta) bool {
	if !e.register.Resolve(continuation.Response{Data: data, Meta: meta}) {
		e.logger.Debug().Msg("next called without a pending action")
		return false
	}
	e.bus.Emit(events.NewActionResolvedEvent(data, meta))
	return true
}

func (e *Engine) SetBusy(busy bool, source events.BusySource) {
	e.bus.Emit(events.NewBusyEvent(busy, source))
}

// ReportError raises error-occurred on behalf of the caller.
func (e *Engine) ReportError(errorType events.ErrorType, err error) {
	if err == nil {
		return
	}
	var cause error
	if c := errors.Cause(err); c != err {
		cause = c
	}
	e.bus.Emit(events.NewErrorEvent(errorType, err.Error(), cause))
}

func (e *Engine) ClearError() {
	e.bus.Emit(events.NewErrorClearedEvent())
}

// Stream starts streaming into a new message. Zero fields of cfg come from
// the engine's stream defaults.
func (e *Engine) Stream(cfg stream.Config) (*stream.Stream, error) {
	return stream.New(e, cfg.Inherit(e.streamDefaults))
}

// StreamFrom starts a stream and pumps src into it in the background. Wait
// on the stream's Done channel for the outcome.
func (e *Engine) StreamFrom(ctx context.Context, src stream.Source, cfg stream.Config) (*stream.Stream, error) {
	st, err := e.Stream(cfg)
	if err != nil {
		return nil, err
	}
	parser := st.Config().Parser
	go func() {
		if err := stream.Pump(ctx, st, src, parser); err != nil {
			e.logger.Debug().Err(err).Int("key", st.Key()).Msg("stream pump ended with error")
		}
	}()
	return st, nil
}
