package store

import (
	"sync"

	"github.com/duochat/internal/model"
)

// Store is the message log shared between the conversation loop (the only
// writer) and the presentation layer (readers). Readers always observe a
// complete State; there is no torn read between operations.
type Store struct {
	mu      sync.RWMutex
	state   State
	changes chan struct{}
}

func New() *Store {
	return &Store{state: Empty(), changes: make(chan struct{}, 1)}
}

// Dispatch applies ev and returns the new state.
func (s *Store) Dispatch(ev Event) State {
	s.mu.Lock()
	prev := s.state
	s.state = Reduce(prev, ev)
	next := s.state
	s.mu.Unlock()
	s.notify()
	return next
}

// State returns the current state. State values are immutable and safe to keep.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a copy of the log, oldest first.
func (s *Store) Snapshot() []model.Message {
	return s.State().Messages()
}

func (s *Store) Len() int {
	return s.State().Len()
}

func (s *Store) Get(id string) (model.Message, bool) {
	return s.State().Get(id)
}

// Changes is signalled (coalesced) after every dispatch.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// ReplaceAll discards the log and installs messages.
func (s *Store) ReplaceAll(messages []model.Message) {
	s.Dispatch(Replaced{Messages: messages})
}

// Append adds m at the tail unless its id is already present.
func (s *Store) Append(m model.Message) {
	s.Dispatch(Appended{Message: m})
}

// PrependPage inserts page at the head, skipping known ids, and returns how
// many entries were inserted.
func (s *Store) PrependPage(page []model.Message) int {
	s.mu.Lock()
	before := s.state.Len()
	s.state = Reduce(s.state, PagePrepended{Messages: page})
	added := s.state.Len() - before
	s.mu.Unlock()
	if added > 0 {
		s.notify()
	}
	return added
}

// MarkDeleted marks id deleted. It returns false when id is unknown, in which
// case the caller may choose to resync.
func (s *Store) MarkDeleted(id string) bool {
	s.mu.Lock()
	_, found := s.state.Get(id)
	s.state = Reduce(s.state, DeleteConfirmed{ID: id})
	s.mu.Unlock()
	s.notify()
	return found
}
