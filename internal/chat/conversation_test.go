package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/api"
	"github.com/duochat/internal/chat"
	"github.com/duochat/internal/metrics"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/storage"
	"github.com/duochat/internal/storage/memory"
	"github.com/duochat/internal/typing"
	"github.com/duochat/internal/ws"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type frame struct {
	event ws.EventType
	data  any
}

// fakeSocket records outbound events and lets tests inject inbound ones.
type fakeSocket struct {
	mu        sync.Mutex
	handlers  map[ws.EventType]func(json.RawMessage)
	onConnect []func()
	sent      []frame
	done      chan struct{}
	once      sync.Once
	err       error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: map[ws.EventType]func(json.RawMessage){}, done: make(chan struct{})}
}

func (s *fakeSocket) On(ev ws.EventType, fn func(json.RawMessage)) {
	s.mu.Lock()
	s.handlers[ev] = fn
	s.mu.Unlock()
}

func (s *fakeSocket) OnConnect(fn func()) {
	s.mu.Lock()
	s.onConnect = append(s.onConnect, fn)
	s.mu.Unlock()
}

func (s *fakeSocket) Start(ctx context.Context) {
	s.mu.Lock()
	hooks := append([]func(){}, s.onConnect...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *fakeSocket) Send(ev ws.EventType, payload any) bool {
	s.mu.Lock()
	s.sent = append(s.sent, frame{ev, payload})
	s.mu.Unlock()
	return true
}

func (s *fakeSocket) Close()                { s.once.Do(func() { close(s.done) }) }
func (s *fakeSocket) Wait() error           { <-s.done; return s.err }
func (s *fakeSocket) Done() <-chan struct{} { return s.done }

func (s *fakeSocket) fail(err error) {
	s.err = err
	s.Close()
}

func (s *fakeSocket) deliver(t *testing.T, ev ws.EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	s.mu.Lock()
	fn := s.handlers[ev]
	s.mu.Unlock()
	require.NotNil(t, fn, "no handler for %s", ev)
	fn(raw)
}

func (s *fakeSocket) events(ev ws.EventType) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, f := range s.sent {
		if f.event == ev {
			out = append(out, f.data)
		}
	}
	return out
}

type fakeAPI struct {
	mu      sync.Mutex
	latest  []model.Message
	pages   map[int]model.Page
	fetches int
	err     error
	packs   model.StickerPacks
}

func (a *fakeAPI) FetchMessages(ctx context.Context) ([]model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.err != nil {
		return nil, a.err
	}
	return append([]model.Message(nil), a.latest...), nil
}

func (a *fakeAPI) FetchPage(ctx context.Context, page int) (model.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pages[page], nil
}

func (a *fakeAPI) Stickers(ctx context.Context) (model.StickerPacks, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return a.packs, nil
}

func (a *fakeAPI) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	return "/uploads/" + filename, nil
}

func (a *fakeAPI) UploadAudio(ctx context.Context, filename string, data []byte) (string, error) {
	return "/uploads/" + filename, nil
}

func (a *fakeAPI) UploadSticker(ctx context.Context, username, pack, filename string, data []byte) (model.StickerPacks, error) {
	return a.packs, nil
}

func (a *fakeAPI) setLatest(msgs []model.Message) {
	a.mu.Lock()
	a.latest = msgs
	a.mu.Unlock()
}

func (a *fakeAPI) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

type harness struct {
	conv  *chat.Conversation
	sock  *fakeSocket
	api   *fakeAPI
	prefs *storage.Prefs
	reg   *prometheus.Registry
	errc  chan error
}

func text(id, user, body string) model.Message {
	return model.Message{ID: id, Username: user, Kind: model.KindText, Text: body}
}

func start(t *testing.T, initial []model.Message) *harness {
	t.Helper()
	h := &harness{
		sock:  newFakeSocket(),
		api:   &fakeAPI{latest: initial, pages: map[int]model.Page{}},
		prefs: storage.NewPrefs(memory.New()),
		reg:   prometheus.NewRegistry(),
		errc:  make(chan error, 1),
	}
	h.conv = chat.New(chat.Options{
		Username:       "alice",
		API:            h.api,
		Socket:         h.sock,
		Prefs:          h.prefs,
		Metrics:        metrics.NewClient(h.reg),
		ScrollInterval: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.errc <- h.conv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.errc:
		case <-time.After(wait):
			t.Error("Run did not return")
		}
	})
	// первая запись в лог — результат начальной загрузки
	select {
	case <-h.conv.Store().Changes():
	case <-time.After(wait):
		t.Fatal("initial load not applied")
	}
	require.Equal(t, len(initial), h.conv.Store().Len())
	return h
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func (h *harness) ids() []string { return ids(h.conv.Store().Snapshot()) }

func nextNotice(t *testing.T, c *chat.Conversation) model.Notice {
	t.Helper()
	select {
	case n := <-c.Notices():
		return n
	case <-time.After(wait):
		t.Fatal("no notice")
	}
	return model.Notice{}
}

func TestJoinOnConnectAndInitialLoad(t *testing.T) {
	h := start(t, []model.Message{text("m1", "bob", "hi"), text("m2", "alice", "yo")})
	assert.Equal(t, []string{"m1", "m2"}, h.ids())
	assert.Equal(t, []any{"alice"}, h.sock.events(ws.EventUserJoin))
}

func TestLiveEventsAppliedInOrder(t *testing.T) {
	h := start(t, []model.Message{text("a", "bob", "1"), text("b", "bob", "2"), text("c", "bob", "3")})

	h.api.pages[2] = model.Page{Messages: []model.Message{text("x", "bob", "x"), text("y", "bob", "y")}, HasMore: false}
	h.conv.Scroll(0)
	require.Eventually(t, func() bool { return h.conv.Store().Len() == 5 }, wait, tick)

	h.sock.deliver(t, ws.EventMessage, text("d", "bob", "4"))
	h.sock.deliver(t, ws.EventMessage, text("b", "bob", "2"))
	require.Eventually(t, func() bool { return h.conv.Store().Len() == 6 }, wait, tick)
	assert.Equal(t, []string{"x", "y", "a", "b", "c", "d"}, h.ids())
}

func TestPreviousMessagesReplaces(t *testing.T) {
	h := start(t, []model.Message{text("a", "bob", "1")})
	h.sock.deliver(t, ws.EventPreviousMessages, []model.Message{text("p", "bob", "1"), text("q", "bob", "2")})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"p", "q"}, h.ids()) }, wait, tick)
}

func TestDeleteErrorTriggersResync(t *testing.T) {
	h := start(t, []model.Message{text("m1", "bob", "mine?"), text("m2", "alice", "x")})

	h.conv.Delete("m1")
	require.Eventually(t, func() bool {
		m, _ := h.conv.Store().Get("m1")
		return m.IsDeleted()
	}, wait, tick)
	require.Len(t, h.sock.events(ws.EventDeleteMessage), 1)
	assert.Equal(t, model.DeleteRequest{MessageID: "m1", Username: "alice"}, h.sock.events(ws.EventDeleteMessage)[0])
	assert.True(t, h.conv.Store().State().IsPendingDelete("m1"))

	fresh := []model.Message{text("m1", "bob", "mine?"), text("m2", "alice", "x"), text("m3", "bob", "new")}
	h.api.setLatest(fresh)
	h.sock.deliver(t, ws.EventDeleteError, model.ServerError{Message: "You can only delete your own messages"})

	n := nextNotice(t, h.conv)
	assert.Equal(t, model.NoticeRejected, n.Kind)
	assert.Equal(t, "You can only delete your own messages", n.Text)

	require.Eventually(t, func() bool { return h.conv.Store().Len() == 3 }, wait, tick)
	assert.Equal(t, fresh, h.conv.Store().Snapshot())
	st := h.conv.Store().State()
	assert.False(t, st.NeedsResync())
	assert.Empty(t, st.PendingDeletes())
	assert.Equal(t, 2, h.api.fetchCount())
	require.Eventually(t, func() bool { return counter(t, h.reg, "duochat_client_resyncs_total") == 1 }, wait, tick)
}

func counter(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMessageDeletedConfirms(t *testing.T) {
	h := start(t, []model.Message{text("m1", "alice", "bye")})
	h.conv.Delete("m1")
	require.Eventually(t, func() bool { return h.conv.Store().State().IsPendingDelete("m1") }, wait, tick)

	h.sock.deliver(t, ws.EventMessageDeleted, model.MessageDeleted{MessageID: "m1"})
	require.Eventually(t, func() bool { return !h.conv.Store().State().IsPendingDelete("m1") }, wait, tick)

	// повторная доставка не воскрешает удалённое сообщение
	h.sock.deliver(t, ws.EventMessage, text("m1", "alice", "bye"))
	h.sock.deliver(t, ws.EventMessage, text("m2", "bob", "ok"))
	require.Eventually(t, func() bool { return h.conv.Store().Len() == 2 }, wait, tick)
	m, _ := h.conv.Store().Get("m1")
	assert.Equal(t, model.KindDeleted, m.Kind)
	assert.Equal(t, model.DeletedPlaceholder, m.Text)
}

func TestDeleteUnknownIsIgnored(t *testing.T) {
	h := start(t, []model.Message{text("m1", "alice", "x")})
	h.conv.Delete("nope")
	h.conv.Delete("m1")
	require.Eventually(t, func() bool { return len(h.sock.events(ws.EventDeleteMessage)) == 1 }, wait, tick)
	h.conv.Delete("m1")
	// третий вызов — уже удалено, ничего не отправляется
	h.sock.deliver(t, ws.EventMessage, text("m2", "bob", "sync"))
	require.Eventually(t, func() bool { return h.conv.Store().Len() == 2 }, wait, tick)
	assert.Len(t, h.sock.events(ws.EventDeleteMessage), 1)
}

func TestSendReconciledByEcho(t *testing.T) {
	h := start(t, nil)
	h.conv.SetDraft("hello")
	require.NoError(t, h.conv.Send(context.Background()))

	sent := h.sock.events(ws.EventSendMessage)
	require.Len(t, sent, 1)
	data := sent[0].(model.MessageData)
	require.Eventually(t, func() bool { return len(h.conv.Store().State().Outbox()) == 1 }, wait, tick)

	h.sock.deliver(t, ws.EventMessage, model.Message{
		ID: "srv-1", Username: "alice", Kind: model.KindText, Text: "hello", ClientID: data.ClientID,
	})
	require.Eventually(t, func() bool { return len(h.conv.Store().State().Outbox()) == 0 }, wait, tick)
	assert.Equal(t, []string{"srv-1"}, h.ids())
	assert.Equal(t, 1.0, counter(t, h.reg, "duochat_client_sends_total"))
}

func TestMessageErrorRejectsSend(t *testing.T) {
	h := start(t, nil)
	h.conv.SetDraft("hello")
	require.NoError(t, h.conv.Send(context.Background()))
	data := h.sock.events(ws.EventSendMessage)[0].(model.MessageData)
	require.Eventually(t, func() bool { return len(h.conv.Store().State().Outbox()) == 1 }, wait, tick)

	h.sock.deliver(t, ws.EventMessageError, model.ServerError{Message: "Failed to save message", ClientID: data.ClientID})
	n := nextNotice(t, h.conv)
	assert.Equal(t, model.Notice{Kind: model.NoticeRejected, Text: "Failed to save message"}, n)
	assert.Empty(t, h.conv.Store().State().Outbox())
}

func TestTypingListExcludesSelf(t *testing.T) {
	h := start(t, nil)
	h.sock.deliver(t, ws.EventUserTyping, []string{"alice", "bob"})
	select {
	case <-h.conv.TypingChanges():
	case <-time.After(wait):
		t.Fatal("no typing change")
	}
	assert.Equal(t, []string{"bob"}, h.conv.TypingUsers())
	assert.Equal(t, "bob is typing…", h.conv.TypingLine())
}

func TestBlurCancelsTyping(t *testing.T) {
	h := start(t, nil)
	h.conv.SetDraft("hel")
	h.conv.Blur()
	assert.Len(t, h.sock.events(ws.EventStopTyping), 1)
	time.Sleep(2 * typing.DefaultDelay)
	assert.Empty(t, h.sock.events(ws.EventTyping))
}

func TestTypingLine(t *testing.T) {
	assert.Equal(t, "", chat.TypingLine(nil))
	assert.Equal(t, "bob is typing…", chat.TypingLine([]string{"bob"}))
	assert.Equal(t, "bob, carol are typing…", chat.TypingLine([]string{"bob", "carol"}))
}

func TestConnectErrorNotice(t *testing.T) {
	h := start(t, nil)
	h.sock.deliver(t, ws.EventConnectError, ws.ConnectError{Message: "dial tcp: refused"})
	n := nextNotice(t, h.conv)
	assert.Equal(t, model.NoticeNetwork, n.Kind)
	assert.True(t, n.Blocking())
	assert.Contains(t, n.Text, "dial tcp: refused")
}

func TestRunReturnsWhenSocketGivesUp(t *testing.T) {
	sock := newFakeSocket()
	conv := chat.New(chat.Options{Username: "alice", API: &fakeAPI{}, Socket: sock})
	errc := make(chan error, 1)
	go func() { errc <- conv.Run(context.Background()) }()

	sock.fail(ws.ErrReconnectExhausted)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ws.ErrReconnectExhausted)
	case <-time.After(wait):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []any{"alice"}, sock.events(ws.EventUserLeave))
	assert.Len(t, sock.events(ws.EventStopTyping), 1)
}

func TestInitialLoadFailureNotice(t *testing.T) {
	sock := newFakeSocket()
	conv := chat.New(chat.Options{Username: "alice", API: &fakeAPI{err: api.ErrUnavailable}, Socket: sock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conv.Run(ctx)

	n := nextNotice(t, conv)
	assert.Equal(t, model.NoticeNetwork, n.Kind)
}

func TestStickerPacksFallBackToCache(t *testing.T) {
	h := start(t, nil)
	ctx := context.Background()
	h.api.packs = model.StickerPacks{"Love": {{Text: "❤️"}}, model.DefaultCustomPack: {{URL: "/uploads/s.png"}}}

	packs, err := h.conv.StickerPacks(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.api.packs, packs)

	h.api.mu.Lock()
	h.api.err = errors.New("offline")
	h.api.mu.Unlock()
	cached, err := h.conv.StickerPacks(ctx)
	require.Error(t, err)
	assert.Equal(t, h.api.packs, cached)
}

func TestMediaIndex(t *testing.T) {
	h := start(t, []model.Message{
		{ID: "i1", Username: "bob", Kind: model.KindImage, Text: "/uploads/a.png"},
		text("t1", "bob", "look https://example.com"),
	})
	idx := h.conv.Media()
	assert.Len(t, idx.Images, 1)
	require.Len(t, idx.Links, 1)
	assert.Equal(t, "https://example.com", idx.Links[0].URL)
}
