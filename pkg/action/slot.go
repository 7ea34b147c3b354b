// Package action holds the single pending action of a conversation.
package action

import (
	"sync"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/go-go-golems/convoflow/pkg/events"
)

// Emitter receives the slot's notifications. *events.Bus implements it.
type Emitter interface {
	Emit(events.Event)
}

// Slot holds at most one pending action block.
//
//	empty --Set--> pending --Clear--> empty
//
// Set while pending clears and replaces the previous action (last writer
// wins).
type Slot struct {
	emitter Emitter

	mu      sync.Mutex
	current *blocks.Block
}

func NewSlot(emitter Emitter) *Slot {
	return &Slot{emitter: emitter}
}

// Set stores the action. An action-shown event is emitted unless the action
// is ephemeral; a waiting action additionally marks the bot busy. An action
// that is overwritten is cleared first, releasing its busy flag.
func (s *Slot) Set(b blocks.Block) {
	b = b.Clone()
	s.mu.Lock()
	prev := s.current
	s.current = &b
	s.mu.Unlock()

	if prev != nil {
		s.cleared(*prev)
	}
	if !b.IsEphemeral() {
		s.emit(events.NewActionShownEvent(b.Clone()))
	}
	if b.IsWaiting() {
		s.emit(events.NewBusyEvent(true, events.BusySourceBot))
	}
}

// Get returns the pending action, if any.
func (s *Slot) Get() (blocks.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return blocks.Block{}, false
	}
	return s.current.Clone(), true
}

// IsPending reports whether an action occupies the slot.
func (s *Slot) IsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Clear empties the slot and returns the action it held. Clearing an empty
// slot emits nothing.
func (s *Slot) Clear() (blocks.Block, bool) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur == nil {
		return blocks.Block{}, false
	}
	s.cleared(*cur)
	return *cur, true
}

func (s *Slot) cleared(b blocks.Block) {
	s.emit(events.NewActionClearedEvent(b.Clone()))
	if b.IsWaiting() {
		s.emit(events.NewBusyEvent(false, events.BusySourceBot))
	}
}

func (s *Slot) emit(e events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(e)
	}
}
