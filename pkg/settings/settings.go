// Package settings loads engine, stream and logging configuration through
// viper.
package settings

import (
	"github.com/go-go-golems/convoflow/pkg/flow"
	"github.com/go-go-golems/convoflow/pkg/plugins"
	"github.com/go-go-golems/convoflow/pkg/stream"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/viper"
)

type EngineSettings struct {
	ConversationID      string `yaml:"conversation_id" mapstructure:"conversation_id"`
	StrictContinuations bool   `yaml:"strict_continuations" mapstructure:"strict_continuations"`
	// Markdown renders message text to data.html.
	Markdown bool `yaml:"markdown" mapstructure:"markdown"`
	// NormalizeMetaKeys rewrites meta keys to lowerCamel before other plugins run.
	NormalizeMetaKeys bool `yaml:"normalize_meta_keys" mapstructure:"normalize_meta_keys"`
	// Schema validates data against meta.schema.
	Schema bool `yaml:"schema" mapstructure:"schema"`
}

type OpenAISettings struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// Client returns a go-openai client for the settings.
func (o OpenAISettings) Client() *openai.Client {
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type Settings struct {
	Log    LogSettings    `yaml:",inline" mapstructure:",squash"`
	Engine EngineSettings `yaml:"engine" mapstructure:"engine"`
	Stream stream.Config  `yaml:"stream" mapstructure:"stream"`
	OpenAI OpenAISettings `yaml:"openai" mapstructure:"openai"`
}

func Default() *Settings {
	return &Settings{
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
		Stream: stream.DefaultConfig(),
		OpenAI: OpenAISettings{
			Model: openai.GPT3Dot5Turbo,
		},
	}
}

// NewFromViper overlays whatever v knows on top of the defaults.
func NewFromViper(v *viper.Viper) (*Settings, error) {
	s := Default()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if err := s.Log.Validate(); err != nil {
		return err
	}
	if err := s.Stream.Validate(); err != nil {
		return errors.Wrap(err, "invalid stream settings")
	}
	return nil
}

// EngineOptions translates the settings into flow options. Extra plugins run
// after the configured built-ins.
func (s *Settings) EngineOptions(extra ...plugins.Plugin) []flow.Option {
	var ps []plugins.Plugin
	if s.Engine.NormalizeMetaKeys {
		ps = append(ps, plugins.NormalizeMetaKeys())
	}
	if s.Engine.Schema {
		ps = append(ps, plugins.Schema())
	}
	ps = append(ps, extra...)
	if s.Engine.Markdown {
		ps = append(ps, plugins.Markdown())
	}

	opts := []flow.Option{
		flow.WithPlugins(ps...),
		flow.WithStreamDefaults(s.Stream),
	}
	if s.Engine.ConversationID != "" {
		opts = append(opts, flow.WithConversationID(s.Engine.ConversationID))
	}
	if s.Engine.StrictContinuations {
		opts = append(opts, flow.WithStrictContinuations())
	}
	return opts
}
