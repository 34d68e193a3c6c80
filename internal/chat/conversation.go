// Package chat runs one open conversation: it owns the message log, applies
// server events in arrival order and turns failures into user notices.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duochat/internal/cache"
	"github.com/duochat/internal/composer"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/media"
	"github.com/duochat/internal/metrics"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/pagination"
	"github.com/duochat/internal/storage"
	"github.com/duochat/internal/store"
	"github.com/duochat/internal/typing"
	"github.com/duochat/internal/ws"
)

const (
	postBuffer   = 256
	noticeBuffer = 16
	fetchTimeout = 15 * time.Second
)

// API is the REST surface used by an open conversation. *api.Client satisfies it.
type API interface {
	composer.Uploader
	pagination.Fetcher
	FetchMessages(ctx context.Context) ([]model.Message, error)
	Stickers(ctx context.Context) (model.StickerPacks, error)
}

// Socket is the live connection. *ws.Manager satisfies it.
type Socket interface {
	On(event ws.EventType, fn func(json.RawMessage))
	OnConnect(fn func())
	Start(ctx context.Context)
	Send(event ws.EventType, payload any) bool
	Close()
	Wait() error
	Done() <-chan struct{}
}

type Options struct {
	Username string
	API      API
	Socket   Socket
	Prefs    *storage.Prefs
	Metrics  *metrics.Client

	TypingDelay    time.Duration
	TypingClock    typing.Clock
	ScrollInterval time.Duration
	NearTop        int
	RecentStickers int
	MaxImageSize   int64
	MaxAudioSize   int64
	// OnAnchor is told how many rows a history page inserted above the viewport.
	OnAnchor func(added int)
}

// Conversation is the single writer of the message log. Socket handlers,
// pagination completions and resync results are posted to Run as closures.
type Conversation struct {
	username string
	api      API
	sock     Socket
	prefs    *storage.Prefs
	metrics  *metrics.Client
	onAnchor func(int)

	store    *store.Store
	pager    *pagination.Controller
	typing   *typing.Notifier
	composer *composer.Composer

	posts   chan func()
	notices chan model.Notice
	stopped chan struct{}
	stop    sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	typingUsers []string
	typingCh    chan struct{}
}

func New(opts Options) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		username: opts.Username,
		api:      opts.API,
		sock:     opts.Socket,
		prefs:    opts.Prefs,
		metrics:  opts.Metrics,
		onAnchor: opts.OnAnchor,
		store:    store.New(),
		posts:    make(chan func(), postBuffer),
		notices:  make(chan model.Notice, noticeBuffer),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		typingCh: make(chan struct{}, 1),
	}
	c.typing = typing.New(socketTyping{c}, opts.TypingDelay, opts.TypingClock)
	c.pager = pagination.New(opts.API, pagination.Options{
		Threshold: opts.NearTop,
		Interval:  opts.ScrollInterval,
		Merge:     c.mergePage,
		Anchor:    c.anchor,
		Post:      c.post,
	})

	var initial []string
	if opts.Prefs != nil {
		list, err := opts.Prefs.RecentStickers(ctx)
		if err != nil {
			logger.Errorf("chat: load recent stickers: %v", err)
		}
		initial = list
	}
	c.composer = composer.New(composer.Options{
		Uploader:     opts.API,
		Emitter:      opts.Socket,
		Typing:       c.typing,
		Prefs:        opts.Prefs,
		Recent:       cache.NewRecent(opts.RecentStickers, initial),
		Outbox:       outbox{c},
		Metrics:      opts.Metrics,
		MaxImageSize: opts.MaxImageSize,
		MaxAudioSize: opts.MaxAudioSize,
	})
	c.composer.SetUsername(opts.Username)
	c.subscribe()
	return c
}

func (c *Conversation) Username() string            { return c.username }
func (c *Conversation) Store() *store.Store          { return c.store }
func (c *Conversation) Composer() *composer.Composer { return c.composer }

// Notices delivers user-visible notices. Old notices are dropped when the reader lags.
func (c *Conversation) Notices() <-chan model.Notice { return c.notices }

// TypingChanges is signalled (coalesced) when the typing list changes.
func (c *Conversation) TypingChanges() <-chan struct{} { return c.typingCh }

// Run connects, loads the newest page and applies events until ctx ends or
// the socket gives up. It returns ws.ErrReconnectExhausted in the latter case.
func (c *Conversation) Run(ctx context.Context) error {
	defer c.teardown()
	c.sock.Start(c.ctx)
	go c.load(func(msgs []model.Message) {
		c.store.Dispatch(store.Replaced{Messages: msgs})
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.sock.Done():
			err := c.sock.Wait()
			if err != nil {
				c.notify(Classify(err))
			}
			return err
		case fn := <-c.posts:
			fn()
		}
	}
}

const leaveFlushWait = 2 * time.Second

func (c *Conversation) teardown() {
	c.stop.Do(func() {
		close(c.stopped)
		c.pager.Close()
		c.typing.Stop()
		c.sock.Send(ws.EventUserLeave, c.username)
		c.sock.Close()
		c.cancel()
		// Дать сокету дописать userLeave.
		select {
		case <-c.sock.Done():
		case <-time.After(leaveFlushWait):
		}
	})
}

// post hands fn to the loop. It is dropped once the loop has stopped.
func (c *Conversation) post(fn func()) {
	select {
	case c.posts <- fn:
	case <-c.stopped:
	}
}

func (c *Conversation) notify(n model.Notice) {
	c.metrics.Notice(n.Kind)
	for {
		select {
		case c.notices <- n:
			return
		default:
		}
		select {
		case <-c.notices:
		default:
		}
	}
}

// Report turns err into a notice; nil is ignored.
func (c *Conversation) Report(err error) {
	if err != nil {
		c.notify(Classify(err))
	}
}

// Scroll reports the viewport offset from the top of the log.
func (c *Conversation) Scroll(offset int) {
	c.pager.OnScroll(offset)
}

// SetDraft forwards draft edits to the composer and typing notifier.
func (c *Conversation) SetDraft(text string) {
	c.composer.SetDraft(text)
}

// Blur stops the typing indicator when the input loses focus.
func (c *Conversation) Blur() {
	c.typing.Stop()
}

// Send sends the composed message and reports failures as notices.
func (c *Conversation) Send(ctx context.Context) error {
	_, err := c.composer.Send(ctx)
	c.Report(err)
	return err
}

// Delete marks id deleted locally and asks the server to delete it. Unknown
// or already deleted messages are ignored.
func (c *Conversation) Delete(id string) {
	c.post(func() {
		m, ok := c.store.Get(id)
		if !ok || m.IsDeleted() {
			return
		}
		c.store.Dispatch(store.DeleteRequested{ID: id})
		c.sock.Send(ws.EventDeleteMessage, model.DeleteRequest{MessageID: id, Username: c.username})
	})
}

// TypingUsers lists the other users currently typing.
func (c *Conversation) TypingUsers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.typingUsers...)
}

// TypingLine renders the typing indicator, or "" when nobody types.
func (c *Conversation) TypingLine() string {
	return TypingLine(c.TypingUsers())
}

func TypingLine(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is typing…"
	}
	return strings.Join(users, ", ") + " are typing…"
}

// Media indexes the shared media of the current log.
func (c *Conversation) Media() media.Index {
	return media.Organize(c.store.Snapshot())
}

// StickerPacks fetches the sticker collection and caches it; on failure the
// cached collection is returned together with the error.
func (c *Conversation) StickerPacks(ctx context.Context) (model.StickerPacks, error) {
	packs, err := c.api.Stickers(ctx)
	if err == nil {
		if c.prefs != nil {
			if err := c.prefs.SetCustomStickers(ctx, packs); err != nil {
				logger.Errorf("chat: cache stickers: %v", err)
			}
		}
		return packs, nil
	}
	if c.prefs == nil {
		return model.DefaultCustomStickers(), err
	}
	cached, cerr := c.prefs.CustomStickers(ctx)
	if cerr != nil {
		logger.Errorf("chat: read cached stickers: %v", cerr)
	}
	return cached, err
}

// Resync replaces the log with the newest page from the server and resets
// pagination.
func (c *Conversation) Resync() {
	go c.load(func(msgs []model.Message) {
		c.store.Dispatch(store.Replaced{Messages: msgs})
		c.pager.Reset()
		c.metrics.Resync()
		logger.Infof("chat: resynced %d messages", len(msgs))
	})
}

// load fetches the newest page off the loop and posts apply with the result.
func (c *Conversation) load(apply func([]model.Message)) {
	ctx, cancel := context.WithTimeout(c.ctx, fetchTimeout)
	defer cancel()
	msgs, err := c.api.FetchMessages(ctx)
	if err != nil {
		if c.ctx.Err() == nil {
			c.notify(Classify(err))
		}
		return
	}
	c.post(func() { apply(msgs) })
}

func (c *Conversation) mergePage(page []model.Message) int {
	c.metrics.PageLoaded()
	return c.store.PrependPage(page)
}

func (c *Conversation) anchor(added int) {
	if c.onAnchor != nil && added > 0 {
		c.onAnchor(added)
	}
}

func (c *Conversation) setTyping(users []string) {
	others := make([]string, 0, len(users))
	for _, u := range users {
		if u != "" && u != c.username {
			others = append(others, u)
		}
	}
	c.mu.Lock()
	c.typingUsers = others
	c.mu.Unlock()
	select {
	case c.typingCh <- struct{}{}:
	default:
	}
}

// subscribe wires socket events to the loop. Handlers run on the read pump
// and only decode; state changes happen in posted closures.
func (c *Conversation) subscribe() {
	c.sock.OnConnect(func() {
		c.metrics.Reconnect()
		c.sock.Send(ws.EventUserJoin, c.username)
	})
	on := func(ev ws.EventType, fn func(json.RawMessage) (func(), error)) {
		c.sock.On(ev, func(data json.RawMessage) {
			c.metrics.Event(string(ev))
			apply, err := fn(data)
			if err != nil {
				logger.Errorf("chat: decode %s: %v", ev, err)
				return
			}
			c.post(apply)
		})
	}

	on(ws.EventMessage, func(data json.RawMessage) (func(), error) {
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return func() { c.store.Dispatch(store.Appended{Message: m}) }, nil
	})
	on(ws.EventPreviousMessages, func(data json.RawMessage) (func(), error) {
		var msgs []model.Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
		return func() {
			c.store.Dispatch(store.Replaced{Messages: msgs})
			c.pager.Reset()
		}, nil
	})
	on(ws.EventMessageDeleted, func(data json.RawMessage) (func(), error) {
		var d model.MessageDeleted
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return func() { c.store.Dispatch(store.DeleteConfirmed{ID: d.MessageID}) }, nil
	})
	on(ws.EventUserTyping, func(data json.RawMessage) (func(), error) {
		var users []string
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, err
		}
		return func() { c.setTyping(users) }, nil
	})
	on(ws.EventDeleteError, func(data json.RawMessage) (func(), error) {
		var e model.ServerError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return func() {
			c.store.Dispatch(store.DeleteRejected{})
			c.notify(Rejected(e, "Failed to delete message"))
			c.Resync()
		}, nil
	})
	on(ws.EventMessageError, func(data json.RawMessage) (func(), error) {
		var e model.ServerError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return func() {
			if e.ClientID != "" {
				c.store.Dispatch(store.SendRejected{ClientID: e.ClientID})
			}
			c.notify(Rejected(e, "Failed to send message"))
		}, nil
	})
	on(ws.EventConnectError, func(data json.RawMessage) (func(), error) {
		var e ws.ConnectError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return func() {
			c.notify(model.Notice{Kind: model.NoticeNetwork, Text: fmt.Sprintf("%s (%s)", unavailableText, e.Message)})
		}, nil
	})
}

// socketTyping adapts the socket to typing.Emitter.
type socketTyping struct{ c *Conversation }

func (s socketTyping) Typing()     { s.c.sock.Send(ws.EventTyping, s.c.username) }
func (s socketTyping) StopTyping() { s.c.sock.Send(ws.EventStopTyping, nil) }

// outbox records composer sends in the log through the loop.
type outbox struct{ c *Conversation }

func (o outbox) Requested(d model.MessageData) {
	o.c.post(func() { o.c.store.Dispatch(store.SendRequested{Data: d}) })
}

func (o outbox) Rejected(clientID string) {
	o.c.post(func() { o.c.store.Dispatch(store.SendRejected{ClientID: clientID}) })
}
