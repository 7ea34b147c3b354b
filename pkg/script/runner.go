package script

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/continuation"
	"github.com/go-go-golems/convoflow/pkg/flow"
	"github.com/go-go-golems/convoflow/pkg/plugins"
	"github.com/go-go-golems/convoflow/pkg/sources"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// MetaChoices lists the options of a choice action.
const MetaChoices = "choices"

// Runner executes scripts step by step against one engine. Answers to ask
// steps are kept as variables that later texts can use as {{ .Vars.name }}.
type Runner struct {
	engine    *flow.Engine
	responder Responder
	openai    *openai.Client
	model     string

	mu   sync.RWMutex
	vars map[string]any
}

type RunnerOption func(*Runner)

// WithResponder answers every action through r. Without a responder the
// runner waits for somebody else to call Engine.Next.
func WithResponder(r Responder) RunnerOption {
	return func(runner *Runner) {
		runner.responder = r
	}
}

// WithOpenAI enables complete steps.
func WithOpenAI(client *openai.Client, model string) RunnerOption {
	return func(runner *Runner) {
		runner.openai = client
		runner.model = model
	}
}

// NewRunner registers the template plugin, bound to the runner's variables,
// on the engine.
func NewRunner(e *flow.Engine, options ...RunnerOption) *Runner {
	r := &Runner{
		engine: e,
		vars:   map[string]any{},
		model:  openai.GPT3Dot5Turbo,
	}
	for _, o := range options {
		o(r)
	}
	e.Use(plugins.Template(r.Vars))
	return r
}

// Vars returns a copy of the script variables.
func (r *Runner) Vars() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make(map[string]any, len(r.vars))
	for k, v := range r.vars {
		ret[k] = v
	}
	return ret
}

func (r *Runner) setVar(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vars[name] = value
}

func (r *Runner) Run(ctx context.Context, s *Script) error {
	for k, v := range s.Vars {
		r.setVar(k, v)
	}
	log.Debug().Str("component", "script").Str("script", s.Name).Int("steps", len(s.Steps)).Msg("running script")

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		kind, err := step.Kind()
		if err != nil {
			return errors.Wrapf(err, "step %d", i)
		}
		log.Trace().Str("component", "script").Int("step", i).Str("kind", string(kind)).Msg("running step")
		if err := r.runStep(ctx, kind, step); err != nil {
			return errors.Wrapf(err, "step %d (%s)", i, kind)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, kind StepKind, step Step) error {
	switch kind {
	case StepSay:
		_, err := r.engine.AddMessage(blocks.Data{blocks.DataText: step.Say}, r.meta(step, step.Say))
		return err

	case StepAsk:
		return r.ask(ctx, step)

	case StepWait:
		d, err := step.WaitDuration()
		if err != nil {
			return err
		}
		c, err := r.engine.Wait(flow.WaitOptions{WaitTime: d, Meta: step.Meta}, nil, nil)
		if err != nil {
			return err
		}
		if d == 0 {
			if err := r.respond(ctx); err != nil {
				return err
			}
		}
		_, err = c.Wait(ctx)
		return err

	case StepStream:
		delay, err := step.chunkDelay()
		if err != nil {
			return err
		}
		text, err := r.render(step.Stream)
		if err != nil {
			return err
		}
		return r.stream(ctx, step, words(text, delay), nil)

	case StepComplete:
		if r.openai == nil {
			return errors.New("complete steps need an OpenAI client")
		}
		prompt, err := r.render(step.Complete)
		if err != nil {
			return err
		}
		src := &sources.OpenAIChat{
			Client: r.openai,
			Request: openai.ChatCompletionRequest{
				Model: r.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleUser, Content: prompt},
				},
			},
		}
		return r.stream(ctx, step, src, sources.ChatDelta)

	case StepSet:
		for k, v := range step.Set {
			rendered, err := r.render(v)
			if err != nil {
				return err
			}
			r.setVar(k, rendered)
		}
		return nil
	}
	return errors.Errorf("unknown step kind %q", kind)
}

func (r *Runner) meta(step Step, text string) blocks.Meta {
	meta := blocks.Meta{}
	for k, v := range step.Meta {
		meta[k] = v
	}
	if step.Format != "" {
		meta[blocks.MetaFormat] = step.Format
	}
	if strings.Contains(text, "{{") {
		meta[plugins.MetaTemplate] = true
	}
	return meta
}

func (r *Runner) ask(ctx context.Context, step Step) error {
	meta := r.meta(step, step.Ask)
	switch {
	case step.ActionType != "":
		meta[blocks.MetaActionType] = step.ActionType
	case len(step.Choices) > 0:
		meta[blocks.MetaActionType] = "choice"
	default:
		meta[blocks.MetaActionType] = "input"
	}
	if len(step.Choices) > 0 {
		meta[MetaChoices] = step.Choices
	}
	if step.Ephemeral {
		meta[blocks.MetaEphemeral] = true
	}

	c, err := r.engine.SetAction(blocks.Data{blocks.DataText: step.Ask}, meta)
	if err != nil {
		return err
	}
	if err := r.respond(ctx); err != nil {
		return err
	}
	resp, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if step.Var != "" {
		r.setVar(step.Var, answerValue(resp))
	}
	return nil
}

// respond hands the pending action to the responder, if there is one.
func (r *Runner) respond(ctx context.Context) error {
	if r.responder == nil {
		return nil
	}
	a, ok := r.engine.CurrentAction()
	if !ok {
		// answered already, e.g. by an action-shown listener
		return nil
	}
	answer, err := r.responder.Respond(ctx, a)
	if err != nil {
		return errors.Wrap(err, "responder failed")
	}
	r.engine.Next(answer, nil)
	return nil
}

func answerValue(resp continuation.Response) any {
	if v, ok := resp.Data[blocks.DataText]; ok && len(resp.Data) == 1 {
		return v
	}
	return map[string]any(resp.Data)
}

// render expands a template against the script variables.
func (r *Runner) render(text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	b, err := plugins.Template(r.Vars)(blocks.NewMessage(
		blocks.Data{blocks.DataText: text},
		blocks.Meta{plugins.MetaTemplate: true},
	))
	if err != nil {
		return "", err
	}
	return b.Text(), nil
}

func (r *Runner) stream(ctx context.Context, step Step, src stream.Source, parser stream.Parser) error {
	cfg := stream.Config{Parser: parser}
	if step.Format != "" || len(step.Meta) > 0 {
		cfg.Meta = r.meta(step, "")
	}
	st, err := r.engine.StreamFrom(ctx, src, cfg)
	if err != nil {
		return err
	}
	select {
	case <-st.Done():
	case <-ctx.Done():
		st.Cancel(ctx.Err().Error())
		return ctx.Err()
	}
	switch st.Status() {
	case stream.StatusFinished:
		return nil
	case stream.StatusCancelled:
		return errors.New("stream cancelled")
	default:
		return errors.Errorf("stream ended with status %s", st.Status())
	}
}

// words emits text word by word, keeping the separating spaces.
func words(text string, delay time.Duration) stream.Source {
	return stream.SourceFunc(func(ctx context.Context, emit stream.EmitFunc) error {
		fields := strings.SplitAfter(text, " ")
		for i, w := range fields {
			if i > 0 && delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			if err := emit(w); err != nil {
				return err
			}
		}
		return nil
	})
}
