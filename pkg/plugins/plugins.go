// Package plugins implements the ordered chain of block transforms run on
// every block before it is stored or exposed.
package plugins

import (
	"sync"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
)

// Plugin transforms a block. Plugins must not touch engine state; they may
// replace the block's kind and payload wholesale.
type Plugin func(b blocks.Block) (blocks.Block, error)

// Pipeline folds registered plugins left to right.
type Pipeline struct {
	mu      sync.RWMutex
	plugins []Plugin
}

func NewPipeline(plugins ...Plugin) *Pipeline {
	p := &Pipeline{}
	for _, pl := range plugins {
		p.Register(pl)
	}
	return p
}

// Register appends a plugin and returns the new pipeline length.
// A nil plugin is ignored.
func (p *Pipeline) Register(plugin Plugin) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if plugin != nil {
		p.plugins = append(p.plugins, plugin)
	}
	return len(p.plugins)
}

func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.plugins)
}

// Run feeds the block through every plugin, each receiving the previous
// plugin's output. The first error stops the fold and is returned wrapped
// with the failing plugin's position. Panics are not recovered.
func (p *Pipeline) Run(b blocks.Block) (blocks.Block, error) {
	p.mu.RLock()
	plugins := p.plugins
	p.mu.RUnlock()

	for i, plugin := range plugins {
		out, err := plugin(b)
		if err != nil {
			return b, errors.Wrapf(err, "plugin %d", i)
		}
		b = out
	}
	return b, nil
}

// Chain composes plugins into a single plugin applying them left to right.
func Chain(plugins ...Plugin) Plugin {
	return func(b blocks.Block) (blocks.Block, error) {
		return NewPipeline(plugins...).Run(b)
	}
}

// MessagesOnly restricts a plugin to message blocks; actions pass through.
func MessagesOnly(plugin Plugin) Plugin {
	return func(b blocks.Block) (blocks.Block, error) {
		if !b.IsMessage() {
			return b, nil
		}
		return plugin(b)
	}
}
