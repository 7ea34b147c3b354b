package stream

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EmitFunc hands one raw chunk to the stream. A non-nil error tells the
// source to stop.
type EmitFunc func(raw any) error

// Source pushes raw chunks until it is exhausted, fails, or ctx is done.
// Returning nil means the source ended cleanly.
type Source interface {
	Run(ctx context.Context, emit EmitFunc) error
}

type SourceFunc func(ctx context.Context, emit EmitFunc) error

func (f SourceFunc) Run(ctx context.Context, emit EmitFunc) error {
	return f(ctx, emit)
}

// Parser turns a raw chunk into text. An empty result is ignored.
type Parser func(raw any) (string, error)

// TextParser accepts strings, byte slices and fmt.Stringers.
func TextParser(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", errors.Errorf("unsupported chunk type %T", raw)
	}
}

// Pump feeds src into st until the source ends. A clean end finishes the
// stream, a cancelled ctx cancels it and any other error fails it. If st is
// ended by someone else while pumping, the source is stopped and Pump
// returns nil.
func Pump(ctx context.Context, st *Stream, src Source, parser Parser) error {
	if parser == nil {
		parser = TextParser
	}

	err := src.Run(ctx, func(raw any) error {
		chunk, err := parser(raw)
		if err != nil {
			return errors.Wrap(err, "could not parse stream chunk")
		}
		if chunk == "" {
			return nil
		}
		if !st.Append(chunk) {
			return ErrNotStreaming
		}
		return nil
	})

	switch {
	case err == nil:
		return st.Finish(nil, nil)
	case errors.Is(err, ErrNotStreaming):
		log.Debug().Str("component", "stream").Int("key", st.Key()).Msg("stream ended while pumping")
		return nil
	case ctx.Err() != nil:
		st.Cancel(ctx.Err().Error())
		return ctx.Err()
	default:
		st.Fail(err)
		return err
	}
}
