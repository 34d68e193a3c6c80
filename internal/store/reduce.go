// Package store holds the ordered message log of the open conversation.
//
// Every mutation is an Event applied by Reduce, a pure function from the
// current State to the next one. Store wraps the latest State for concurrent
// readers; only the conversation loop dispatches events.
package store

import "github.com/duochat/internal/model"

// State is an immutable value: Reduce never modifies its input.
type State struct {
	messages []model.Message
	index    map[string]int
	// pendingDeletes holds ids deleted locally and not yet confirmed by the server.
	pendingDeletes map[string]struct{}
	// outbox holds sends keyed by client nonce until the server echoes them.
	outbox map[string]model.MessageData
	// needsResync is raised by DeleteRejected and lowered by Replaced.
	needsResync bool
}

// Empty returns the state of a freshly opened conversation.
func Empty() State {
	return State{
		index:          map[string]int{},
		pendingDeletes: map[string]struct{}{},
		outbox:         map[string]model.MessageData{},
	}
}

// Messages returns a copy of the log, oldest first.
func (s State) Messages() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s State) Len() int { return len(s.messages) }

// Get looks a message up by id.
func (s State) Get(id string) (model.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	return s.messages[i], true
}

func (s State) IsPendingDelete(id string) bool {
	_, ok := s.pendingDeletes[id]
	return ok
}

// PendingDeletes returns the ids awaiting server confirmation.
func (s State) PendingDeletes() []string {
	ids := make([]string, 0, len(s.pendingDeletes))
	for id := range s.pendingDeletes {
		ids = append(ids, id)
	}
	return ids
}

// Outbox returns the sends not yet echoed by the server.
func (s State) Outbox() map[string]model.MessageData {
	out := make(map[string]model.MessageData, len(s.outbox))
	for k, v := range s.outbox {
		out[k] = v
	}
	return out
}

func (s State) NeedsResync() bool { return s.needsResync }

// Event is a state transition input. The concrete types below are the only implementations.
type Event interface{ event() }

// Replaced installs an authoritative snapshot (initial load, previousMessages, resync).
type Replaced struct{ Messages []model.Message }

// Appended is a live message from the server.
type Appended struct{ Message model.Message }

// PagePrepended is an older page loaded by pagination.
type PagePrepended struct{ Messages []model.Message }

// DeleteRequested is the local, tentative half of a delete.
type DeleteRequested struct{ ID string }

// DeleteConfirmed is the server's messageDeleted for ID.
type DeleteConfirmed struct{ ID string }

// DeleteRejected is the server's deleteError. The log must be resynced.
type DeleteRejected struct{}

// SendRequested records an emitted sendMessage until it is echoed.
type SendRequested struct{ Data model.MessageData }

// SendRejected is the server's messageError for the send with ClientID.
type SendRejected struct{ ClientID string }

func (Replaced) event()        {}
func (Appended) event()        {}
func (PagePrepended) event()   {}
func (DeleteRequested) event() {}
func (DeleteConfirmed) event() {}
func (DeleteRejected) event()  {}
func (SendRequested) event()   {}
func (SendRejected) event()    {}

// Reduce applies ev to s and returns the resulting state. Unknown events
// and no-op transitions return s itself.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case Replaced:
		next := Empty()
		next.messages, next.index = dedupe(e.Messages)
		return next
	case Appended:
		return appendMessage(s, e.Message)
	case PagePrepended:
		return prepend(s, e.Messages)
	case DeleteRequested:
		next, _ := markDeleted(s, e.ID)
		if _, ok := next.index[e.ID]; ok {
			next.pendingDeletes = withKey(next.pendingDeletes, e.ID)
		}
		return next
	case DeleteConfirmed:
		next, _ := markDeleted(s, e.ID)
		if _, ok := next.pendingDeletes[e.ID]; ok {
			next.pendingDeletes = withoutKey(next.pendingDeletes, e.ID)
		}
		return next
	case DeleteRejected:
		next := s
		next.pendingDeletes = map[string]struct{}{}
		next.needsResync = true
		return next
	case SendRequested:
		if e.Data.ClientID == "" {
			return s
		}
		next := s
		next.outbox = copyOutbox(s.outbox)
		next.outbox[e.Data.ClientID] = e.Data
		return next
	case SendRejected:
		if _, ok := s.outbox[e.ClientID]; !ok {
			return s
		}
		next := s
		next.outbox = copyOutbox(s.outbox)
		delete(next.outbox, e.ClientID)
		return next
	}
	return s
}

func appendMessage(s State, m model.Message) State {
	next := s
	if m.ClientID != "" {
		if _, ok := s.outbox[m.ClientID]; ok {
			next.outbox = copyOutbox(s.outbox)
			delete(next.outbox, m.ClientID)
		}
	}
	if m.ID == "" {
		return next
	}
	if _, dup := s.index[m.ID]; dup {
		return next
	}
	next.messages = make([]model.Message, len(s.messages), len(s.messages)+1)
	copy(next.messages, s.messages)
	next.messages = append(next.messages, m)
	next.index = make(map[string]int, len(s.index)+1)
	for k, v := range s.index {
		next.index[k] = v
	}
	next.index[m.ID] = len(next.messages) - 1
	return next
}

func prepend(s State, page []model.Message) State {
	fresh := make([]model.Message, 0, len(page))
	seen := make(map[string]struct{}, len(page))
	for _, m := range page {
		if m.ID == "" {
			continue
		}
		if _, ok := s.index[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return s
	}
	next := s
	next.messages = make([]model.Message, 0, len(fresh)+len(s.messages))
	next.messages = append(next.messages, fresh...)
	next.messages = append(next.messages, s.messages...)
	next.index = make(map[string]int, len(next.messages))
	for i, m := range next.messages {
		next.index[m.ID] = i
	}
	return next
}

// markDeleted reports whether the entry changed.
func markDeleted(s State, id string) (State, bool) {
	i, ok := s.index[id]
	if !ok || s.messages[i].IsDeleted() {
		return s, false
	}
	next := s
	next.messages = make([]model.Message, len(s.messages))
	copy(next.messages, s.messages)
	next.messages[i].Kind = model.KindDeleted
	next.messages[i].Text = model.DeletedPlaceholder
	return next, true
}

func dedupe(in []model.Message) ([]model.Message, map[string]int) {
	out := make([]model.Message, 0, len(in))
	index := make(map[string]int, len(in))
	for _, m := range in {
		if m.ID == "" {
			continue
		}
		if _, ok := index[m.ID]; ok {
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out, index
}

func withKey(m map[string]struct{}, k string) map[string]struct{} {
	out := make(map[string]struct{}, len(m)+1)
	for key := range m {
		out[key] = struct{}{}
	}
	out[k] = struct{}{}
	return out
}

func withoutKey(m map[string]struct{}, k string) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for key := range m {
		if key != k {
			out[key] = struct{}{}
		}
	}
	return out
}

func copyOutbox(m map[string]model.MessageData) map[string]model.MessageData {
	out := make(map[string]model.MessageData, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
