package flow

import (
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/go-go-golems/convoflow/pkg/plugins"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/rs/zerolog"
)

type Option func(*Engine)

// WithConversationID tags every event of the engine's own bus. It has no
// effect together with WithBus.
func WithConversationID(id string) Option {
	return func(e *Engine) {
		e.conversationID = id
	}
}

// WithBus makes the engine emit on an existing bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

func WithPlugins(ps ...plugins.Plugin) Option {
	return func(e *Engine) {
		for _, p := range ps {
			e.pipeline.Register(p)
		}
	}
}

// WithStrictContinuations refuses a new action while another one is pending
// instead of superseding it.
func WithStrictContinuations() Option {
	return func(e *Engine) {
		e.strict = true
	}
}

// WithStreamDefaults sets the configuration that Stream fills zero fields from.
func WithStreamDefaults(cfg stream.Config) Option {
	return func(e *Engine) {
		e.streamDefaults = cfg.Inherit(stream.DefaultConfig())
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}
