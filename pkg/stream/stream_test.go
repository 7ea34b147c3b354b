package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget stores blocks in a map and records, for every patch that asked
// for plugins, the text the plugins would have seen.
type fakeTarget struct {
	mu         sync.Mutex
	blocks     map[int]blocks.Block
	nextKey    int
	pluginRuns []string
	events     []events.Event
	addErr     error
	patchErr   error
	// gate, when set, parks the next PatchMessage until it is closed
	gate    chan struct{}
	entered chan struct{}
	onEmit  func(events.Event)
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{blocks: map[int]blocks.Block{}}
}

func (f *fakeTarget) AddMessage(data blocks.Data, meta blocks.Meta) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return blocks.NoKey, f.addErr
	}
	key := f.nextKey
	f.nextKey++
	b := blocks.NewMessage(data, meta)
	b.Key = key
	f.blocks[key] = b
	return key, nil
}

func (f *fakeTarget) PatchMessage(key int, data blocks.Data, meta blocks.Meta, runPlugins bool) error {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return f.patchErr
	}
	b, ok := f.blocks[key]
	if !ok {
		return errors.Errorf("no block %d", key)
	}
	b = b.Merged(data, meta)
	if runPlugins {
		f.pluginRuns = append(f.pluginRuns, b.Text())
	}
	f.blocks[key] = b
	return nil
}

func (f *fakeTarget) Emit(e events.Event) {
	f.mu.Lock()
	f.events = append(f.events, e)
	onEmit := f.onEmit
	f.mu.Unlock()
	if onEmit != nil {
		onEmit(e)
	}
}

func (f *fakeTarget) types() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		ret = append(ret, e.Type())
	}
	return ret
}

func (f *fakeTarget) block(key int) blocks.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocks[key].Clone()
}

func (f *fakeTarget) runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pluginRuns...)
}

func (f *fakeTarget) count(t events.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type() == t {
			n++
		}
	}
	return n
}

func (f *fakeTarget) busy() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ret []bool
	for _, e := range f.events {
		if b, ok := e.(*events.EventBusy); ok {
			ret = append(ret, b.Busy)
		}
	}
	return ret
}

// inline flushes on every mutation
func inline(pe PluginExecution) Config {
	return Config{Throttle: time.Hour, MaxDelay: time.Nanosecond, PluginExecution: pe}
}

// held never flushes before a terminal call
func held(pe PluginExecution) Config {
	return Config{Throttle: time.Hour, MaxDelay: time.Hour, PluginExecution: pe}
}

func TestNew_AddsPlaceholder(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, Config{Meta: blocks.Meta{blocks.MetaFormat: "markdown"}})
	require.NoError(t, err)

	assert.Equal(t, 0, st.Key())
	b := target.block(st.Key())
	assert.Equal(t, "", b.Text())
	assert.True(t, b.Meta.Bool(blocks.MetaStreaming))
	assert.Equal(t, "markdown", b.Meta.String(blocks.MetaFormat))

	assert.Equal(t, 1, target.count(events.EventTypeStreamStarted))
	assert.Equal(t, []bool{true}, target.busy())
	assert.Equal(t, StatusStreaming, st.Status())

	cfg := st.Config()
	assert.Equal(t, DefaultThrottle, cfg.Throttle)
	assert.Equal(t, DefaultMaxDelay, cfg.MaxDelay)
	assert.Equal(t, PluginsFinal, cfg.PluginExecution)
}

func TestNew_InvalidConfig(t *testing.T) {
	target := newFakeTarget()
	_, err := New(target, Config{PluginExecution: PluginsInterval})
	assert.Error(t, err)
	_, err = New(target, Config{PluginExecution: "sometimes"})
	assert.Error(t, err)
	assert.Empty(t, target.blocks)

	target.addErr = errors.New("plugin failed")
	_, err = New(target, Config{})
	assert.Error(t, err)
}

func TestStream_AppendThenWriteReplaces(t *testing.T) {
	st, err := New(newFakeTarget(), held(PluginsFinal))
	require.NoError(t, err)

	st.Append("a")
	st.Append("b")
	assert.Equal(t, "ab", st.State().Text)
	st.Write("c")
	assert.Equal(t, "c", st.State().Text)
	assert.Equal(t, 0, st.State().UpdateCount)
}

func TestStream_FinalRunsPluginsOnlyOnFinish(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, inline(PluginsFinal))
	require.NoError(t, err)

	for _, tok := range []string{"The ", "quick ", "brown ", "fox"} {
		require.True(t, st.Append(tok))
	}
	assert.Equal(t, "The quick brown fox", target.block(st.Key()).Text())
	assert.Empty(t, target.runs())

	require.NoError(t, st.Finish(nil, nil))
	assert.Equal(t, []string{"The quick brown fox"}, target.runs())

	b := target.block(st.Key())
	assert.False(t, b.Meta.Bool(blocks.MetaStreaming))
	assert.Equal(t, StatusFinished, st.Status())
	assert.Equal(t, 1, target.count(events.EventTypeStreamCompleted))
	assert.Equal(t, []bool{true, false}, target.busy())
}

func TestStream_FinishIsIdempotent(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, held(PluginsFinal))
	require.NoError(t, err)

	st.Append("x")
	require.NoError(t, st.Finish(blocks.Data{"model": "m"}, nil))
	require.NoError(t, st.Finish(blocks.Data{"model": "other"}, nil))

	assert.Equal(t, 1, target.count(events.EventTypeStreamCompleted))
	assert.Len(t, target.runs(), 1)
	assert.Equal(t, "m", target.block(st.Key()).Data.String("model"))
	assert.False(t, st.Append("y"))

	select {
	case <-st.Done():
	default:
		t.Fatal("done not closed after finish")
	}
}

func TestStream_FinishDataReplacesText(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, held(PluginsFinal))
	require.NoError(t, err)

	st.Append("draft")
	require.NoError(t, st.Finish(blocks.Data{blocks.DataText: "final"}, blocks.Meta{"tokens": 2}))
	b := target.block(st.Key())
	assert.Equal(t, "final", b.Text())
	assert.Equal(t, 2, b.Meta["tokens"])
}

func TestStream_FinishPluginError(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, held(PluginsFinal))
	require.NoError(t, err)

	target.patchErr = errors.New("schema mismatch")
	err = st.Finish(nil, nil)
	assert.Error(t, err)
	assert.Equal(t, StatusError, st.Status())
	assert.Equal(t, 1, target.count(events.EventTypeStreamErrored))
	assert.Equal(t, 1, target.count(events.EventTypeErrorOccurred))
	assert.Equal(t, 0, target.count(events.EventTypeStreamCompleted))
	assert.Equal(t, []bool{true, false}, target.busy())
}

func TestStream_NoProgressAfterFinish(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, inline(PluginsFinal))
	require.NoError(t, err)

	target.mu.Lock()
	target.gate = make(chan struct{})
	target.entered = make(chan struct{})
	gate, entered := target.gate, target.entered
	target.mu.Unlock()

	go st.Append("late")
	<-entered

	finished := make(chan error, 1)
	go func() {
		finished <- st.Finish(nil, nil)
	}()
	require.Eventually(t, func() bool {
		return st.Status() == StatusFinished
	}, time.Second, time.Millisecond)
	close(gate)

	require.NoError(t, <-finished)
	<-st.Done()

	types := target.types()
	assert.Equal(t, 0, target.count(events.EventTypeStreamProgressed))
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventTypeBotBusy, types[len(types)-1])
	assert.Equal(t, events.EventTypeStreamCompleted, types[len(types)-2])
	assert.Equal(t, "late", target.block(st.Key()).Text())
}

func TestStream_FinishFromProgressListener(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, inline(PluginsFinal))
	require.NoError(t, err)

	var once sync.Once
	target.mu.Lock()
	target.onEmit = func(e events.Event) {
		if e.Type() != events.EventTypeStreamProgressed {
			return
		}
		once.Do(func() {
			assert.NoError(t, st.Finish(nil, nil))
		})
	}
	target.mu.Unlock()

	assert.True(t, st.Append("hi"))

	select {
	case <-st.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not finish")
	}
	assert.Equal(t, []events.EventType{
		events.EventTypeStreamStarted,
		events.EventTypeBotBusy,
		events.EventTypeStreamProgressed,
		events.EventTypeStreamCompleted,
		events.EventTypeBotBusy,
	}, target.types())
}

func TestStream_ManualTriggerPlugins(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, held(PluginsManual))
	require.NoError(t, err)

	st.Append("a")
	assert.Empty(t, target.runs())
	require.NoError(t, st.TriggerPlugins())
	assert.Equal(t, []string{"a"}, target.runs())
	assert.Equal(t, 1, target.count(events.EventTypeStreamProgressed))

	st.Append("b")
	assert.Len(t, target.runs(), 1)
	require.NoError(t, st.Finish(nil, nil))
	assert.Equal(t, []string{"a", "ab"}, target.runs())

	err = st.TriggerPlugins()
	assert.ErrorIs(t, err, ErrNotStreaming)
}

func TestStream_TriggerPluginsRequiresManual(t *testing.T) {
	for _, pe := range []PluginExecution{PluginsFinal, PluginsAlways} {
		st, err := New(newFakeTarget(), held(pe))
		require.NoError(t, err)
		err = st.TriggerPlugins()
		require.ErrorIs(t, err, ErrNotManual)
		assert.Contains(t, err.Error(), string(pe))
	}
}

func TestStream_AlwaysRunsPluginsOnEveryFlush(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, inline(PluginsAlways))
	require.NoError(t, err)

	st.Append("a")
	st.Append("b")
	runs := target.runs()
	require.NotEmpty(t, runs)
	assert.Equal(t, "ab", runs[len(runs)-1])
}

func TestStream_ThrottleDebouncesUpdates(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, Config{Throttle: 20 * time.Millisecond, MaxDelay: time.Hour})
	require.NoError(t, err)

	st.Append("a")
	st.Append("b")
	st.Append("c")
	assert.Equal(t, "", target.block(st.Key()).Text())
	assert.Equal(t, 0, st.State().UpdateCount)

	require.Eventually(t, func() bool {
		return target.count(events.EventTypeStreamProgressed) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "abc", target.block(st.Key()).Text())
	assert.Equal(t, 1, st.State().UpdateCount)
}

func TestStream_MaxDelayFlushesInline(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, Config{Throttle: time.Hour, MaxDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	st.Append("late")
	assert.Equal(t, "late", target.block(st.Key()).Text())
	assert.Equal(t, 1, st.State().UpdateCount)
}

func TestStream_PauseBuffersUntilResume(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, inline(PluginsFinal))
	require.NoError(t, err)

	st.Pause()
	assert.True(t, st.Append("hidden"))
	assert.True(t, st.State().Paused)
	assert.Equal(t, "", target.block(st.Key()).Text())

	st.Resume()
	assert.Equal(t, "hidden", target.block(st.Key()).Text())
	assert.False(t, st.State().Paused)
}

func TestStream_UpdateMergesFields(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, inline(PluginsFinal))
	require.NoError(t, err)

	st.Append("x")
	st.Update(blocks.Data{"model": "gpt", blocks.DataText: "y"}, blocks.Meta{"source": "sse"})
	state := st.State()
	assert.Equal(t, "y", state.Text)
	assert.Equal(t, "gpt", state.Data.String("model"))
	assert.NotContains(t, state.Data, blocks.DataText)

	b := target.block(st.Key())
	assert.Equal(t, "y", b.Text())
	assert.Equal(t, "gpt", b.Data.String("model"))
	assert.Equal(t, "sse", b.Meta.String("source"))
	assert.True(t, b.Meta.Bool(blocks.MetaStreaming))
}

func TestStream_Cancel(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, held(PluginsFinal))
	require.NoError(t, err)

	st.Append("partial")
	st.Cancel("user stopped")
	st.Cancel("again")

	b := target.block(st.Key())
	assert.Equal(t, "partial", b.Text())
	assert.True(t, b.Meta.Bool(blocks.MetaCancelled))
	assert.Equal(t, "user stopped", b.Meta.String(blocks.MetaCancelReason))
	assert.False(t, b.Meta.Bool(blocks.MetaStreaming))

	assert.Equal(t, StatusCancelled, st.Status())
	assert.Equal(t, 1, target.count(events.EventTypeStreamCancelled))
	assert.Equal(t, []bool{true, false}, target.busy())
	assert.False(t, st.Append("more"))
	assert.NoError(t, st.Finish(nil, nil))
	assert.Equal(t, 0, target.count(events.EventTypeStreamCompleted))
	assert.Empty(t, target.runs())
}

func TestStream_CancelStopsPendingTimer(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, Config{Throttle: 10 * time.Millisecond, MaxDelay: time.Hour})
	require.NoError(t, err)

	st.Append("a")
	st.Cancel("")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, target.count(events.EventTypeStreamProgressed))
}

func TestStream_Fail(t *testing.T) {
	target := newFakeTarget()
	st, err := New(target, held(PluginsFinal))
	require.NoError(t, err)

	st.Fail(errors.New("connection reset"))
	assert.Equal(t, StatusError, st.Status())
	assert.Equal(t, "connection reset", target.block(st.Key()).Meta.String("error"))
	assert.Equal(t, 1, target.count(events.EventTypeStreamErrored))
	assert.Equal(t, 1, target.count(events.EventTypeErrorOccurred))
	assert.Equal(t, []bool{true, false}, target.busy())
}

func TestStream_IntervalRunsPluginsOnCadence(t *testing.T) {
	target := newFakeTarget()
	cfg := inline(PluginsInterval)
	cfg.PluginInterval = 10 * time.Millisecond
	st, err := New(target, cfg)
	require.NoError(t, err)

	st.Append("tick")
	require.Eventually(t, func() bool {
		return len(target.runs()) >= 1
	}, time.Second, 5*time.Millisecond)

	// no new content, no new plugin runs
	n := len(target.runs())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, len(target.runs()))

	require.NoError(t, st.Finish(nil, nil))
	n = len(target.runs())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, len(target.runs()))
}
