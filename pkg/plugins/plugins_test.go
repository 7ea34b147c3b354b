package plugins

import (
	"strings"
	"testing"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendText(suffix string) Plugin {
	return func(b blocks.Block) (blocks.Block, error) {
		b.Data = blocks.MergeData(b.Data, blocks.Data{"text": b.Text() + suffix})
		return b, nil
	}
}

func upper(b blocks.Block) (blocks.Block, error) {
	b.Data = blocks.MergeData(b.Data, blocks.Data{"text": strings.ToUpper(b.Text())})
	return b, nil
}

func TestPipeline_FoldsLeftToRight(t *testing.T) {
	p := NewPipeline()
	assert.Equal(t, 1, p.Register(appendText("[p1]")))
	assert.Equal(t, 2, p.Register(upper))

	out, err := p.Run(blocks.NewMessage(blocks.Data{"text": "x"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "X[P1]", out.Text())
}

func TestPipeline_EmptyReturnsInput(t *testing.T) {
	in := blocks.NewMessage(blocks.Data{"text": "same"}, blocks.Meta{"a": 1})
	out, err := NewPipeline().Run(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPipeline_RegisterNilIsIgnored(t *testing.T) {
	p := NewPipeline(nil, upper)
	assert.Equal(t, 1, p.Len())
}

func TestPipeline_ErrorStopsAndPropagates(t *testing.T) {
	called := false
	p := NewPipeline(
		func(b blocks.Block) (blocks.Block, error) { return b, errors.New("nope") },
		func(b blocks.Block) (blocks.Block, error) { called = true; return b, nil },
	)
	_, err := p.Run(blocks.NewMessage(blocks.Data{"text": "x"}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin 0")
	assert.Contains(t, err.Error(), "nope")
	assert.False(t, called)
}

func TestPipeline_PanicsPropagate(t *testing.T) {
	p := NewPipeline(func(b blocks.Block) (blocks.Block, error) { panic("bad plugin") })
	assert.Panics(t, func() {
		_, _ = p.Run(blocks.NewMessage(blocks.Data{"text": "x"}, nil))
	})
}

func TestPipeline_PluginMayReplaceKind(t *testing.T) {
	p := NewPipeline(func(b blocks.Block) (blocks.Block, error) {
		b.Kind = blocks.KindAction
		b.Data = blocks.Data{"replaced": true}
		return b, nil
	})
	out, err := p.Run(blocks.NewMessage(blocks.Data{"text": "x"}, nil))
	require.NoError(t, err)
	assert.Equal(t, blocks.KindAction, out.Kind)
	assert.Equal(t, blocks.Data{"replaced": true}, out.Data)
}

func TestChainAndMessagesOnly(t *testing.T) {
	pl := MessagesOnly(Chain(appendText("!"), upper))

	out, err := pl(blocks.NewMessage(blocks.Data{"text": "hey"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "HEY!", out.Text())

	act, err := pl(blocks.NewAction(blocks.Data{"text": "hey"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "hey", act.Text())
}
