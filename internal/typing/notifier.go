// Package typing turns draft edits into typing / stopTyping signals.
package typing

import (
	"sync"
	"time"
)

const DefaultDelay = 300 * time.Millisecond

// Emitter delivers the two signals to the peer.
type Emitter interface {
	Typing()
	StopTyping()
}

// Timer is the subset of *time.Timer the notifier needs.
type Timer interface {
	Stop() bool
}

// Clock schedules fn after d. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// Notifier emits Typing once per burst of edits, delayed by the debounce
// window, and StopTyping when the draft is cleared, sent or loses focus.
type Notifier struct {
	emit  Emitter
	delay time.Duration
	clock Clock

	mu      sync.Mutex
	pending Timer
	gen     uint64
}

func New(emit Emitter, delay time.Duration, clock Clock) *Notifier {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Notifier{emit: emit, delay: delay, clock: clock}
}

// Change is called on every edit of the draft.
func (n *Notifier) Change(text string) {
	if text == "" {
		n.Stop()
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending != nil {
		return
	}
	gen := n.gen
	n.pending = n.clock.AfterFunc(n.delay, func() { n.fire(gen) })
}

func (n *Notifier) fire(gen uint64) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	n.pending = nil
	n.gen++
	n.mu.Unlock()
	n.emit.Typing()
}

// Stop cancels a scheduled Typing and emits StopTyping.
func (n *Notifier) Stop() {
	n.cancel()
	n.emit.StopTyping()
}

func (n *Notifier) cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	if n.pending != nil {
		n.pending.Stop()
		n.pending = nil
	}
}

// Pending reports whether a Typing emission is scheduled.
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending != nil
}
