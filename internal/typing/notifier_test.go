package typing_test

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/typing"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Typing()     { r.add("typing") }
func (r *recorder) StopTyping() { r.add("stopTyping") }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// manualClock fires timers only when Advance passes their deadline.
type manualClock struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) typing.Timer {
	t := &manualTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.now += d
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at < c.timers[j].at })
	for _, t := range c.timers {
		if !t.fired && t.at <= c.now {
			t.fired = true
			// A stopped timer whose callback already raced past Stop still runs.
			t.fn()
		}
	}
}

func setup() (*typing.Notifier, *recorder, *manualClock) {
	rec := &recorder{}
	clk := &manualClock{}
	return typing.New(rec, 300*time.Millisecond, clk), rec, clk
}

func TestClearBeforeDelayOnlyStops(t *testing.T) {
	n, rec, clk := setup()

	n.Change("h")
	clk.Advance(100 * time.Millisecond)
	n.Change("")
	clk.Advance(time.Second)

	assert.Equal(t, []string{"stopTyping"}, rec.Events())
}

func TestTypingEmittedAfterDelay(t *testing.T) {
	n, rec, clk := setup()

	n.Change("h")
	clk.Advance(299 * time.Millisecond)
	assert.Empty(t, rec.Events())
	clk.Advance(time.Millisecond)
	assert.Equal(t, []string{"typing"}, rec.Events())
	assert.False(t, n.Pending())
}

func TestBurstSchedulesOnce(t *testing.T) {
	n, rec, clk := setup()

	for _, s := range []string{"h", "he", "hel", "hell", "hello"} {
		n.Change(s)
		clk.Advance(50 * time.Millisecond)
	}
	clk.Advance(time.Second)
	assert.Equal(t, []string{"typing"}, rec.Events())
}

func TestStopCancelsPending(t *testing.T) {
	n, rec, clk := setup()

	n.Change("hi")
	require.True(t, n.Pending())
	n.Stop()
	assert.False(t, n.Pending())
	clk.Advance(time.Second)

	assert.Equal(t, []string{"stopTyping"}, rec.Events())
}

func TestLateFireAfterCancelIsSuppressed(t *testing.T) {
	rec := &recorder{}
	var captured func()
	n := typing.New(rec, time.Millisecond, clockFunc(func(d time.Duration, fn func()) typing.Timer {
		captured = fn
		return noopTimer{}
	}))

	n.Change("x")
	n.Stop()
	captured()

	assert.Equal(t, []string{"stopTyping"}, rec.Events())
}

func TestTypingAgainAfterFire(t *testing.T) {
	n, rec, clk := setup()

	n.Change("a")
	clk.Advance(300 * time.Millisecond)
	n.Change("ab")
	clk.Advance(300 * time.Millisecond)

	assert.Equal(t, []string{"typing", "typing"}, rec.Events())
}

func TestRealClock(t *testing.T) {
	rec := &recorder{}
	n := typing.New(rec, 10*time.Millisecond, nil)
	n.Change("x")
	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"typing"}, rec.Events())
}

type clockFunc func(d time.Duration, fn func()) typing.Timer

func (f clockFunc) AfterFunc(d time.Duration, fn func()) typing.Timer { return f(d, fn) }

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }
