package sources

import (
	"context"

	"github.com/coder/websocket"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WebSocket dials URL and emits every received frame: text frames as
// strings, binary frames as byte slices. A normal closure by the peer ends
// the stream cleanly.
type WebSocket struct {
	URL     string
	Options *websocket.DialOptions
	// ReadLimit overrides the library's default frame size limit.
	ReadLimit int64
	// Policy, when set, is checked before dialing.
	Policy *URLPolicy
}

var _ stream.Source = &WebSocket{}

func (w *WebSocket) Run(ctx context.Context, emit stream.EmitFunc) error {
	if err := checkURL(w.Policy, w.URL); err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, w.URL, w.Options)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "could not dial websocket %s", w.URL)
	}
	defer func() {
		_ = conn.CloseNow()
	}()
	if w.ReadLimit > 0 {
		conn.SetReadLimit(w.ReadLimit)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				log.Debug().Str("component", "sources.websocket").Str("url", w.URL).Msg("websocket closed by peer")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "could not read websocket frame")
		}

		var raw any = data
		if typ == websocket.MessageText {
			raw = string(data)
		}
		if err := emit(raw); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
			return err
		}
	}
}
