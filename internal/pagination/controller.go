// Package pagination loads older history when the view is scrolled near its top.
package pagination

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
)

const (
	DefaultThreshold = 50
	DefaultInterval  = 150 * time.Millisecond
)

type State int

const (
	Idle State = iota
	Loading
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Cursor is the last page merged into the log. Page 1 is the initial load.
type Cursor struct {
	Page    int
	HasMore bool
}

// Fetcher loads one page of history.
type Fetcher interface {
	FetchPage(ctx context.Context, page int) (model.Page, error)
}

type Options struct {
	// Threshold is the scroll offset below which the view counts as near the top.
	Threshold int
	// Interval between two scroll checks. The last scroll inside an interval is
	// checked when the interval ends.
	Interval time.Duration
	// Merge inserts a page at the head of the log and returns how many rows were added.
	Merge func([]model.Message) int
	// Anchor is told how many rows were inserted above the viewport.
	Anchor func(added int)
	// Post runs completions on the goroutine that owns the log. Defaults to a direct call.
	Post func(func())
}

// Controller issues at most one page fetch at a time.
type Controller struct {
	fetcher   Fetcher
	threshold int
	interval  time.Duration
	limiter   *rate.Limiter
	merge     func([]model.Message) int
	anchor    func(int)
	post      func(func())

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	cursor     Cursor
	gen        uint64
	lastOffset int
	trailing   *time.Timer
	closed     bool
}

func New(f Fetcher, opts Options) *Controller {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Merge == nil {
		opts.Merge = func([]model.Message) int { return 0 }
	}
	if opts.Anchor == nil {
		opts.Anchor = func(int) {}
	}
	if opts.Post == nil {
		opts.Post = func(fn func()) { fn() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		fetcher:   f,
		threshold: opts.Threshold,
		interval:  opts.Interval,
		limiter:   rate.NewLimiter(rate.Every(opts.Interval), 1),
		merge:     opts.Merge,
		anchor:    opts.Anchor,
		post:      opts.Post,
		ctx:       ctx,
		cancel:    cancel,
		cursor:    Cursor{Page: 1, HasMore: true},
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Cursor() Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// OnScroll reports the distance between the viewport top and the top of the log.
func (c *Controller) OnScroll(offset int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastOffset = offset
	if !c.limiter.Allow() {
		if c.trailing == nil {
			c.trailing = time.AfterFunc(c.interval, c.trailingCheck)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.check(offset)
}

func (c *Controller) trailingCheck() {
	c.post(func() {
		c.mu.Lock()
		c.trailing = nil
		offset := c.lastOffset
		c.mu.Unlock()
		c.check(offset)
	})
}

func (c *Controller) check(offset int) {
	c.mu.Lock()
	if c.closed || c.state != Idle || !c.cursor.HasMore || offset >= c.threshold {
		c.mu.Unlock()
		return
	}
	c.state = Loading
	page := c.cursor.Page + 1
	gen := c.gen
	c.mu.Unlock()

	logger.Debugf("pagination: fetching page %d", page)
	go func() {
		defer logger.DeferLogDuration("pagination.FetchPage", time.Now())()
		p, err := c.fetcher.FetchPage(c.ctx, page)
		c.post(func() { c.complete(gen, page, p, err) })
	}()
}

func (c *Controller) complete(gen uint64, page int, p model.Page, err error) {
	c.mu.Lock()
	if gen != c.gen {
		// Reset happened while this page was in flight.
		if c.state == Loading {
			c.state = Idle
		}
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.state = Idle
		c.mu.Unlock()
		logger.Errorf("pagination: page %d: %v", page, err)
		return
	}
	if len(p.Messages) == 0 {
		c.cursor.HasMore = false
		c.state = Exhausted
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	added := c.merge(p.Messages)
	c.anchor(added)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.state = Idle
		return
	}
	c.cursor = Cursor{Page: page, HasMore: p.HasMore}
	if p.HasMore {
		c.state = Idle
	} else {
		c.state = Exhausted
	}
}

// Reset rewinds the cursor to the initial page. A fetch already in flight is
// discarded when it completes and still counts against the single-flight rule.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cursor = Cursor{Page: 1, HasMore: true}
	if c.state == Exhausted {
		c.state = Idle
	}
}

// Close stops scroll handling and cancels an in-flight fetch.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.trailing != nil {
		c.trailing.Stop()
		c.trailing = nil
	}
	c.mu.Unlock()
	c.cancel()
}
