// Package stream reveals a single message block incrementally, with a bounded
// update rate and a configurable point at which the plugin pipeline runs.
package stream

import (
	"sync"
	"time"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotStreaming = errors.New("stream is not streaming")
	ErrNotManual    = errors.New("plugins can only be triggered with plugin execution \"manual\"")
)

// Target is the conversation a stream writes into. The flow engine
// implements it.
type Target interface {
	AddMessage(data blocks.Data, meta blocks.Meta) (int, error)
	PatchMessage(key int, data blocks.Data, meta blocks.Meta, runPlugins bool) error
	Emit(e events.Event)
}

type Status string

const (
	StatusStreaming Status = "streaming"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Snapshot is the observable state of a stream.
type Snapshot struct {
	Key         int
	Status      Status
	Text        string
	Data        blocks.Data
	Meta        blocks.Meta
	UpdateCount int
	Paused      bool
}

// Stream is the handle of one streamed message block.
//
// Mutations are buffered and flushed to the block by a throttle: when the
// last flush is older than MaxDelay the mutating call flushes itself,
// otherwise a debounce timer of Throttle is (re)armed. Once the stream left
// StatusStreaming every mutating call is a no-op.
//
// Finish, Cancel and Fail wait for an in-flight update to be written. They
// must not be called from a message-updated listener of the same stream;
// stream-progressed listeners are fine. No stream-progressed event is
// emitted after the terminal event.
type Stream struct {
	target Target
	cfg    Config
	key    int

	mu          sync.Mutex
	status      Status
	text        string
	pendingData blocks.Data
	pendingMeta blocks.Meta
	updateCount int
	paused      bool
	dirty       bool
	lastFlush   time.Time
	timer       *time.Timer
	generation  uint64
	// content written since plugins last ran, for PluginsInterval
	pluginsStale bool
	stopTicker   chan struct{}

	// stream-progressed emissions in flight, terminal events wait for them
	emitting  int
	afterEmit []func()

	// flushMu serializes writes of the block
	flushMu sync.Mutex
	done    chan struct{}
}

// New adds the placeholder message to target and starts streaming into it.
func New(target Target, cfg Config) (*Stream, error) {
	cfg = cfg.Inherit(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	meta := blocks.MergeMeta(cfg.Meta, blocks.Meta{blocks.MetaStreaming: true})
	key, err := target.AddMessage(blocks.Data{blocks.DataText: ""}, meta)
	if err != nil {
		return nil, errors.Wrap(err, "could not add stream placeholder")
	}

	s := &Stream{
		target:      target,
		cfg:         cfg,
		key:         key,
		status:      StatusStreaming,
		pendingData: blocks.Data{},
		pendingMeta: blocks.Meta{},
		lastFlush:   time.Now(),
		done:        make(chan struct{}),
	}

	log.Debug().
		Str("component", "stream").
		Int("key", key).
		Str("plugin_execution", string(cfg.PluginExecution)).
		Dur("throttle", cfg.Throttle).
		Dur("max_delay", cfg.MaxDelay).
		Msg("stream started")

	target.Emit(events.NewStreamStartedEvent(key))
	target.Emit(events.NewBusyEvent(true, events.BusySourceBot))

	if cfg.PluginExecution == PluginsInterval {
		s.stopTicker = make(chan struct{})
		go s.runInterval(cfg.PluginInterval, s.stopTicker)
	}

	return s, nil
}

func (s *Stream) Key() int {
	return s.key
}

func (s *Stream) Config() Config {
	return s.cfg
}

// Done is closed when the stream reaches a terminal state.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns the buffered state without side effects.
func (s *Stream) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Key:         s.key,
		Status:      s.status,
		Text:        s.text,
		Data:        s.pendingData.Clone(),
		Meta:        s.pendingMeta.Clone(),
		UpdateCount: s.updateCount,
		Paused:      s.paused,
	}
}

// Append concatenates text to the buffer. It reports whether the stream
// accepted the mutation.
func (s *Stream) Append(text string) bool {
	return s.mutate(func() {
		s.text += text
	})
}

// Write replaces the buffer.
func (s *Stream) Write(text string) bool {
	return s.mutate(func() {
		s.text = text
	})
}

// Update merges extra fields into the block. A string data.text replaces the
// buffer.
func (s *Stream) Update(data blocks.Data, meta blocks.Meta) bool {
	return s.mutate(func() {
		s.absorbLocked(data, meta)
	})
}

func (s *Stream) absorbLocked(data blocks.Data, meta blocks.Meta) {
	if text, ok := data[blocks.DataText].(string); ok {
		s.text = text
	}
	for k, v := range data {
		if k == blocks.DataText {
			continue
		}
		s.pendingData[k] = v
	}
	for k, v := range meta {
		s.pendingMeta[k] = v
	}
}

func (s *Stream) mutate(f func()) bool {
	s.mu.Lock()
	if s.status != StatusStreaming {
		s.mu.Unlock()
		return false
	}
	f()
	s.dirty = true
	now := s.scheduleLocked()
	s.mu.Unlock()

	if now {
		s.flush(true)
	}
	return true
}

// scheduleLocked arms the debounce timer or reports that the caller should
// flush right away.
func (s *Stream) scheduleLocked() bool {
	if s.paused || !s.dirty {
		return false
	}
	if time.Since(s.lastFlush) >= s.cfg.MaxDelay {
		s.stopTimerLocked()
		return true
	}
	s.armLocked()
	return false
}

// armLocked (re)starts the debounce timer. Timers from earlier generations
// fire into nothing.
func (s *Stream) armLocked() {
	s.stopTimerLocked()
	gen := s.generation
	s.timer = time.AfterFunc(s.cfg.Throttle, func() {
		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()
		if !stale {
			s.flush(false)
		}
	})
}

func (s *Stream) stopTimerLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pause keeps accepting mutations but stops writing them to the block.
func (s *Stream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusStreaming {
		return
	}
	s.paused = true
	s.stopTimerLocked()
}

// Resume schedules a flush of whatever was buffered while paused.
func (s *Stream) Resume() {
	s.mu.Lock()
	if s.status != StatusStreaming || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	now := s.scheduleLocked()
	s.mu.Unlock()

	if now {
		s.flush(true)
	}
}

// flush writes the buffer to the block. A synchronous flush that finds
// another flush in progress (a listener appending from within the update)
// falls back to the debounce timer.
func (s *Stream) flush(inline bool) {
	if inline {
		if !s.flushMu.TryLock() {
			s.mu.Lock()
			if s.status == StatusStreaming && !s.paused {
				s.armLocked()
			}
			s.mu.Unlock()
			return
		}
	} else {
		s.flushMu.Lock()
	}

	s.mu.Lock()
	if s.status != StatusStreaming || s.paused || !s.dirty {
		s.mu.Unlock()
		s.flushMu.Unlock()
		return
	}
	s.stopTimerLocked()
	data, meta := s.payloadLocked(blocks.Meta{blocks.MetaStreaming: true})
	text := s.text
	s.dirty = false
	s.lastFlush = time.Now()
	s.updateCount++
	count := s.updateCount
	runPlugins := s.cfg.PluginExecution == PluginsAlways
	if s.cfg.PluginExecution == PluginsInterval {
		s.pluginsStale = true
	}
	s.mu.Unlock()

	err := s.target.PatchMessage(s.key, data, meta, runPlugins)
	if err != nil {
		s.flushMu.Unlock()
		log.Warn().Err(err).Str("component", "stream").Int("key", s.key).Msg("stream update failed")
		return
	}
	s.emitProgressUnlock(text, count)
}

// emitProgressUnlock releases flushMu and emits stream-progressed, unless
// the stream ended while the block was being written.
func (s *Stream) emitProgressUnlock(text string, count int) {
	s.mu.Lock()
	if s.status != StatusStreaming {
		s.mu.Unlock()
		s.flushMu.Unlock()
		return
	}
	s.emitting++
	s.mu.Unlock()
	s.flushMu.Unlock()

	s.target.Emit(events.NewStreamProgressedEvent(s.key, text, count))

	s.mu.Lock()
	s.emitting--
	var pending []func()
	if s.emitting == 0 {
		pending, s.afterEmit = s.afterEmit, nil
	}
	s.mu.Unlock()
	for _, f := range pending {
		f()
	}
}

// announce runs f once no stream-progressed emission is in flight. When one
// is, f runs on that goroutine after the emission.
func (s *Stream) announce(f func()) {
	s.mu.Lock()
	if s.emitting > 0 {
		s.afterEmit = append(s.afterEmit, f)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	f()
}

func (s *Stream) payloadLocked(extraMeta blocks.Meta) (blocks.Data, blocks.Meta) {
	data := blocks.MergeData(s.pendingData, blocks.Data{blocks.DataText: s.text})
	meta := blocks.MergeMeta(s.pendingMeta, extraMeta)
	return data, meta
}

func (s *Stream) runInterval(every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.runIntervalPlugins()
		}
	}
}

func (s *Stream) runIntervalPlugins() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.status != StatusStreaming || !s.pluginsStale {
		s.mu.Unlock()
		return
	}
	s.pluginsStale = false
	s.mu.Unlock()

	if err := s.target.PatchMessage(s.key, nil, nil, true); err != nil {
		log.Warn().Err(err).Str("component", "stream").Int("key", s.key).Msg("interval plugin run failed")
	}
}

// TriggerPlugins flushes the buffer and runs the plugin pipeline on it. It
// fails unless the stream uses PluginsManual and is still streaming.
func (s *Stream) TriggerPlugins() error {
	s.mu.Lock()
	if s.cfg.PluginExecution != PluginsManual {
		s.mu.Unlock()
		return errors.Wrapf(ErrNotManual, "stream %d uses plugin execution %q", s.key, s.cfg.PluginExecution)
	}
	if s.status != StatusStreaming {
		status := s.status
		s.mu.Unlock()
		return errors.Wrapf(ErrNotStreaming, "stream %d is %s", s.key, status)
	}
	s.mu.Unlock()

	s.flushMu.Lock()
	s.mu.Lock()
	if s.status != StatusStreaming {
		s.mu.Unlock()
		s.flushMu.Unlock()
		return errors.Wrapf(ErrNotStreaming, "stream %d is %s", s.key, s.status)
	}
	s.stopTimerLocked()
	data, meta := s.payloadLocked(blocks.Meta{blocks.MetaStreaming: true})
	text := s.text
	s.dirty = false
	s.lastFlush = time.Now()
	s.updateCount++
	count := s.updateCount
	s.mu.Unlock()

	err := s.target.PatchMessage(s.key, data, meta, true)
	if err != nil {
		s.flushMu.Unlock()
		return err
	}
	s.emitProgressUnlock(text, count)
	return nil
}

// terminate moves the stream into status and returns the final payload. It
// returns false if the stream had already ended.
func (s *Stream) terminate(status Status, data blocks.Data, meta blocks.Meta, extraMeta blocks.Meta) (blocks.Data, blocks.Meta, string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusStreaming {
		return nil, nil, "", 0, false
	}
	s.status = status
	s.stopTimerLocked()
	if s.stopTicker != nil {
		close(s.stopTicker)
		s.stopTicker = nil
	}
	s.absorbLocked(data, meta)
	d, m := s.payloadLocked(blocks.MergeMeta(extraMeta, blocks.Meta{blocks.MetaStreaming: false}))
	s.dirty = false
	s.updateCount++
	return d, m, s.text, s.updateCount, true
}

// Finish writes the final content, always running the plugin pipeline, and
// ends the stream. Calling it again is a no-op.
func (s *Stream) Finish(data blocks.Data, meta blocks.Meta) error {
	d, m, text, count, ok := s.terminate(StatusFinished, data, meta, nil)
	if !ok {
		return nil
	}

	s.flushMu.Lock()
	err := s.target.PatchMessage(s.key, d, m, true)
	s.flushMu.Unlock()
	if err != nil {
		s.mu.Lock()
		s.status = StatusError
		s.mu.Unlock()
		s.announce(func() {
			s.target.Emit(events.NewStreamErroredEvent(s.key, err))
			s.target.Emit(events.NewErrorEvent(events.ErrorTypeStream, "could not finish stream", err))
			s.target.Emit(events.NewBusyEvent(false, events.BusySourceBot))
			close(s.done)
		})
		return errors.Wrapf(err, "could not finish stream %d", s.key)
	}

	log.Debug().Str("component", "stream").Int("key", s.key).Int("update_count", count).Msg("stream finished")
	s.announce(func() {
		s.target.Emit(events.NewStreamCompletedEvent(s.key, text, count))
		s.target.Emit(events.NewBusyEvent(false, events.BusySourceBot))
		close(s.done)
	})
	return nil
}

// Cancel ends the stream, keeping the text written so far and flagging the
// block as cancelled.
func (s *Stream) Cancel(reason string) {
	d, m, _, _, ok := s.terminate(StatusCancelled, nil, nil, blocks.Meta{
		blocks.MetaCancelled:    true,
		blocks.MetaCancelReason: reason,
	})
	if !ok {
		return
	}

	s.flushMu.Lock()
	err := s.target.PatchMessage(s.key, d, m, false)
	s.flushMu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("component", "stream").Int("key", s.key).Msg("could not flag cancelled stream")
	}

	log.Debug().Str("component", "stream").Int("key", s.key).Str("reason", reason).Msg("stream cancelled")
	s.announce(func() {
		s.target.Emit(events.NewStreamCancelledEvent(s.key, reason))
		s.target.Emit(events.NewBusyEvent(false, events.BusySourceBot))
		close(s.done)
	})
}

// Fail ends the stream because its source broke.
func (s *Stream) Fail(cause error) {
	if cause == nil {
		cause = errors.New("unknown stream failure")
	}
	d, m, _, _, ok := s.terminate(StatusError, nil, nil, blocks.Meta{"error": cause.Error()})
	if !ok {
		return
	}

	s.flushMu.Lock()
	err := s.target.PatchMessage(s.key, d, m, false)
	s.flushMu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("component", "stream").Int("key", s.key).Msg("could not flag failed stream")
	}

	log.Warn().Err(cause).Str("component", "stream").Int("key", s.key).Msg("stream failed")
	s.announce(func() {
		s.target.Emit(events.NewStreamErroredEvent(s.key, cause))
		s.target.Emit(events.NewErrorEvent(events.ErrorTypeStream, "stream source failed", cause))
		s.target.Emit(events.NewBusyEvent(false, events.BusySourceBot))
		close(s.done)
	})
}
