package sources

import (
	"context"
	"io"

	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// OpenAIChat streams a chat completion. Every received
// openai.ChatCompletionStreamResponse is emitted; pair it with ChatDelta.
type OpenAIChat struct {
	Client  *openai.Client
	Request openai.ChatCompletionRequest
}

var _ stream.Source = &OpenAIChat{}

func (o *OpenAIChat) Run(ctx context.Context, emit stream.EmitFunc) error {
	req := o.Request
	req.Stream = true

	log.Debug().Str("component", "sources.openai").Str("model", req.Model).Int("messages", len(req.Messages)).Msg("starting chat completion stream")
	st, err := o.Client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "could not create chat completion stream")
	}
	defer st.Close()

	chunks := 0
	for {
		resp, err := st.Recv()
		if errors.Is(err, io.EOF) {
			log.Debug().Str("component", "sources.openai").Int("chunks_received", chunks).Msg("chat completion stream completed")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "chat completion stream receive failed")
		}
		chunks++
		if err := emit(resp); err != nil {
			return err
		}
	}
}

// ChatDelta extracts the content delta of the first choice.
func ChatDelta(raw any) (string, error) {
	var resp openai.ChatCompletionStreamResponse
	switch v := raw.(type) {
	case openai.ChatCompletionStreamResponse:
		resp = v
	case *openai.ChatCompletionStreamResponse:
		if v == nil {
			return "", nil
		}
		resp = *v
	default:
		return "", errors.Errorf("ChatDelta expects chat completion stream responses, got %T", raw)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}
