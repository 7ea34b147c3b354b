package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SSEDone is the data payload that ends an event stream regardless of the
// event name.
const SSEDone = "[DONE]"

// SSE reads a text/event-stream body. The data of every matching event is
// emitted as a string.
type SSE struct {
	Body io.Reader
	// DataEvents are the event names carrying chunks. Empty accepts unnamed
	// events and "message".
	DataEvents []string
	// DoneEvent ends the stream when received.
	DoneEvent string
	// ErrorEvent fails the stream with the event's data. Defaults to "error".
	ErrorEvent string
}

var _ stream.Source = &SSE{}

func (s *SSE) isData(name string) bool {
	if len(s.DataEvents) == 0 {
		return name == "" || name == "message"
	}
	for _, n := range s.DataEvents {
		if n == name {
			return true
		}
	}
	return false
}

func (s *SSE) Run(ctx context.Context, emit stream.EmitFunc) error {
	errorEvent := s.ErrorEvent
	if errorEvent == "" {
		errorEvent = "error"
	}

	reader := bufio.NewReader(s.Body)
	var eventName string
	var data strings.Builder
	hasData := false

	// dispatch reports true once the stream is over
	dispatch := func() (bool, error) {
		name, payload := eventName, data.String()
		eventName = ""
		data.Reset()
		if !hasData && name == "" {
			return false, nil
		}
		hasData = false

		log.Trace().Str("component", "sources.sse").Str("event", name).Int("len", len(payload)).Msg("sse event")
		switch {
		case s.DoneEvent != "" && name == s.DoneEvent:
			return true, nil
		case name == errorEvent:
			return true, errors.Errorf("event stream error: %s", payload)
		case payload == SSEDone:
			return true, nil
		case s.isData(name):
			return false, emit(payload)
		default:
			return false, nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "could not read event stream")
		}
		eof := err != nil
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			done, err := dispatch()
			if err != nil || done {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				eventName = value
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			}
		}

		if eof {
			_, err := dispatch()
			return err
		}
	}
}

// HTTPSSE opens a GET request and reads its body as an event stream.
type HTTPSSE struct {
	Client *http.Client
	URL    string
	Header http.Header
	SSE    SSE
	// Policy, when set, is checked before connecting.
	Policy *URLPolicy
}

var _ stream.Source = &HTTPSSE{}

func (h *HTTPSSE) Run(ctx context.Context, emit stream.EmitFunc) error {
	if err := checkURL(h.Policy, h.URL); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return errors.Wrap(err, "could not create event stream request")
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "could not open event stream")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("event stream returned status %d", resp.StatusCode)
	}

	sse := h.SSE
	sse.Body = resp.Body
	return sse.Run(ctx, emit)
}

// JSONField returns a parser that decodes JSON chunks and extracts the
// string at path. Numeric path elements index arrays. A missing field
// yields an empty chunk.
func JSONField(path ...string) stream.Parser {
	return func(raw any) (string, error) {
		var b []byte
		switch v := raw.(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			return "", errors.Errorf("JSONField expects string or []byte chunks, got %T", raw)
		}

		var cur any
		if err := json.Unmarshal(b, &cur); err != nil {
			return "", errors.Wrap(err, "could not decode JSON chunk")
		}
		for _, p := range path {
			switch c := cur.(type) {
			case map[string]any:
				cur = c[p]
			case []any:
				i, err := strconv.Atoi(p)
				if err != nil || i < 0 || i >= len(c) {
					return "", nil
				}
				cur = c[i]
			default:
				return "", nil
			}
		}
		s, _ := cur.(string)
		return s, nil
	}
}
