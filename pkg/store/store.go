// Package store holds the ordered, keyed log of message blocks.
package store

import (
	"strconv"
	"sync"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
)

// Emitter receives the store's notifications. *events.Bus implements it.
type Emitter interface {
	Emit(events.Event)
}

// Store keeps message blocks in insertion order.
//
// Keys are assigned on insertion from a monotonic counter: for a store that
// never saw a removal the key equals the store length before the insertion.
// Keys are never reused until SetAll renumbers the whole log by position.
//
// Operations on unknown keys are no-ops. Notifications are emitted after the
// mutation is complete and the store lock released, so listeners may call
// back into the store.
type Store struct {
	emitter Emitter

	mu      sync.RWMutex
	order   []int
	blocks  map[int]blocks.Block
	nextKey int
}

func New(emitter Emitter) *Store {
	return &Store{
		emitter: emitter,
		blocks:  map[int]blocks.Block{},
	}
}

// Add appends the block, assigns its key and returns it.
func (s *Store) Add(b blocks.Block) int {
	b = b.Clone()
	s.mu.Lock()
	key := s.nextKey
	s.nextKey++
	b.Key = key
	s.order = append(s.order, key)
	s.blocks[key] = b
	s.mu.Unlock()

	s.emit(events.NewMessageAddedEvent(b.Clone()))
	return key
}

// Get returns the block stored under key.
func (s *Store) Get(key int) (blocks.Block, bool) {
	s.mu.RLock()
	b, ok := s.blocks[key]
	s.mu.RUnlock()
	if !ok {
		return blocks.Block{}, false
	}
	return b.Clone(), true
}

// GetAll returns copies of all blocks in insertion order.
func (s *Store) GetAll() []blocks.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]blocks.Block, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.blocks[k].Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Update replaces the block stored under key. Merging old and new payloads
// is the caller's job. The stored key is kept whatever b.Key says.
func (s *Store) Update(key int, b blocks.Block) bool {
	b = b.Clone()
	s.mu.Lock()
	if _, ok := s.blocks[key]; !ok {
		s.mu.Unlock()
		return false
	}
	b.Key = key
	s.blocks[key] = b
	s.mu.Unlock()

	s.emit(events.NewMessageUpdatedEvent(strconv.Itoa(key), b.Clone()))
	return true
}

// Remove deletes the block stored under key.
func (s *Store) Remove(key int) bool {
	s.mu.Lock()
	if _, ok := s.blocks[key]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.blocks, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.emit(events.NewMessageRemovedEvent(key))
	return true
}

// Clear empties the store and emits a single message-cleared event. The key
// counter keeps running.
func (s *Store) Clear() {
	s.mu.Lock()
	s.order = nil
	s.blocks = map[int]blocks.Block{}
	s.mu.Unlock()

	s.emit(events.NewMessageClearedEvent())
}

// SetAll replaces the log with bs, keyed by position. Listeners only get a
// message-added event for the last block; call GetAll to see the whole
// history.
func (s *Store) SetAll(bs []blocks.Block) {
	s.mu.Lock()
	s.order = make([]int, 0, len(bs))
	s.blocks = make(map[int]blocks.Block, len(bs))
	for i, b := range bs {
		b = b.Clone()
		b.Key = i
		s.order = append(s.order, i)
		s.blocks[i] = b
	}
	s.nextKey = len(bs)
	var last *blocks.Block
	if len(bs) > 0 {
		l := s.blocks[len(bs)-1].Clone()
		last = &l
	}
	s.mu.Unlock()

	if last != nil {
		s.emit(events.NewMessageAddedEvent(*last))
	}
}

func (s *Store) emit(e events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(e)
	}
}
