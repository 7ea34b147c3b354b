package stream

import (
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
)

// PluginExecution decides when the plugin pipeline runs on a streamed block.
type PluginExecution string

const (
	// PluginsFinal skips plugins on intermediate updates and runs them once on Finish.
	PluginsFinal PluginExecution = "final"
	// PluginsAlways runs plugins on every flushed update.
	PluginsAlways PluginExecution = "always"
	// PluginsInterval runs plugins on a fixed cadence while content changes.
	PluginsInterval PluginExecution = "interval"
	// PluginsManual only runs plugins on TriggerPlugins (and on Finish).
	PluginsManual PluginExecution = "manual"
)

const (
	DefaultThrottle = 16 * time.Millisecond
	DefaultMaxDelay = 100 * time.Millisecond
)

type Config struct {
	// Throttle is the debounce window between two flushed updates.
	Throttle time.Duration `yaml:"throttle" mapstructure:"throttle"`
	// MaxDelay bounds how long buffered content may stay unflushed.
	MaxDelay        time.Duration   `yaml:"max_delay" mapstructure:"max_delay"`
	PluginExecution PluginExecution `yaml:"plugin_execution" mapstructure:"plugin_execution"`
	// PluginInterval is required with PluginsInterval.
	PluginInterval time.Duration `yaml:"plugin_interval" mapstructure:"plugin_interval"`

	// Meta is merged into the placeholder block's meta.
	Meta blocks.Meta `yaml:"meta,omitempty" mapstructure:"meta"`
	// Parser turns raw source chunks into text. Used by Pump.
	Parser Parser `yaml:"-" mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Throttle:        DefaultThrottle,
		MaxDelay:        DefaultMaxDelay,
		PluginExecution: PluginsFinal,
	}
}

// Inherit fills every zero field of c from defaults.
func (c Config) Inherit(defaults Config) Config {
	if c.Throttle == 0 {
		c.Throttle = defaults.Throttle
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.PluginExecution == "" {
		c.PluginExecution = defaults.PluginExecution
	}
	if c.PluginInterval == 0 {
		c.PluginInterval = defaults.PluginInterval
	}
	if c.Meta == nil {
		c.Meta = defaults.Meta
	}
	if c.Parser == nil {
		c.Parser = defaults.Parser
	}
	return c
}

func (c Config) Validate() error {
	if c.Throttle < 0 {
		return errors.Errorf("stream throttle must not be negative, got %s", c.Throttle)
	}
	if c.MaxDelay < 0 {
		return errors.Errorf("stream max delay must not be negative, got %s", c.MaxDelay)
	}
	switch c.PluginExecution {
	case PluginsFinal, PluginsAlways, PluginsManual:
	case PluginsInterval:
		if c.PluginInterval <= 0 {
			return errors.New("plugin execution \"interval\" requires a positive plugin interval")
		}
	default:
		return errors.Errorf("unknown plugin execution %q (expected always, final, interval or manual)", c.PluginExecution)
	}
	return nil
}
