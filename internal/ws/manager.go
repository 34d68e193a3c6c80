package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duochat/internal/logger"
)

// ErrReconnectExhausted is returned by Wait once every reconnect attempt failed.
var ErrReconnectExhausted = errors.New("ws: reconnect attempts exhausted")

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
)

type ManagerConfig struct {
	URL string
	// Attempts is the number of consecutive retries after a failed dial or a
	// dropped connection. The counter resets after every successful dial.
	Attempts int
	// Delay between two attempts. Fixed, no backoff.
	Delay  time.Duration
	Limits Limits
	Dialer *websocket.Dialer
	Header http.Header
}

// Manager owns the single socket of an open conversation and reconnects it.
// Lifecycle: NewManager -> On/OnConnect -> Start(ctx) -> Close -> Wait.
type Manager struct {
	cfg  ManagerConfig
	send chan OutgoingMessage

	mu        sync.RWMutex
	handlers  map[EventType][]func(json.RawMessage)
	onConnect []func()

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startOnce sync.Once
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultReconnectAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	}
	cfg.Limits = cfg.Limits.withDefaults()
	return &Manager{
		cfg:      cfg,
		send:     make(chan OutgoingMessage, cfg.Limits.SendBuffer),
		handlers: make(map[EventType][]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
}

// On subscribes fn to an inbound event. Handlers run on the read pump, in
// transport order, and must not block.
func (m *Manager) On(event EventType, fn func(json.RawMessage)) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], fn)
	m.mu.Unlock()
}

// OnConnect registers fn to run after every successful dial, before any
// inbound frame of that connection is handled.
func (m *Manager) OnConnect(fn func()) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.mu.Unlock()
}

// Start dials in the background. It returns immediately; failures surface as
// EventConnectError and, finally, from Wait.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.cancel = cancel
		m.mu.Unlock()
		go m.run(runCtx)
	})
}

// Send enqueues an outbound event. It never blocks: when the buffer is full
// the event is dropped and false is returned.
func (m *Manager) Send(event EventType, payload any) bool {
	select {
	case m.send <- OutgoingMessage{Event: event, Data: payload}:
		return true
	default:
		logger.Errorf("ws send buffer full, dropping event=%s", event)
		return false
	}
}

func (m *Manager) Connected() bool { return m.connected.Load() }

// Close tears the connection down. Safe to call multiple times.
func (m *Manager) Close() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the manager stops. It returns nil after Close and
// ErrReconnectExhausted when the retry budget ran out.
func (m *Manager) Wait() error {
	<-m.done
	return m.err
}

// Done is closed when the manager stops.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	failures := 0
	for {
		conn, _, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			logger.Errorf("ws dial %s (attempt %d): %v", m.cfg.URL, failures, err)
			m.dispatchLocal(EventConnectError, ConnectError{Message: err.Error()})
			if failures > m.cfg.Attempts {
				m.err = ErrReconnectExhausted
				return
			}
			if !sleep(ctx, m.cfg.Delay) {
				return
			}
			continue
		}

		failures = 0
		logger.Infof("ws connected %s", m.cfg.URL)
		m.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		logger.Infof("ws connection lost, reconnecting in %v", m.cfg.Delay)
		failures++
		if !sleep(ctx, m.cfg.Delay) {
			return
		}
	}
}

func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.connected.Store(true)
	defer m.connected.Store(false)

	m.mu.RLock()
	hooks := append([]func(){}, m.onConnect...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writePump(connCtx, conn, m.cfg.Limits, "client", m.send)
		// A failed write must also unblock the reader.
		conn.Close()
	}()

	readPump(connCtx, conn, m.cfg.Limits, "client", m.dispatch)
	cancel()
	wg.Wait()
	conn.Close()
}

func (m *Manager) dispatch(env Envelope) {
	m.mu.RLock()
	hs := m.handlers[env.Event]
	m.mu.RUnlock()
	if len(hs) == 0 {
		logger.Debugf("ws no handler for event=%s", env.Event)
		return
	}
	for _, fn := range hs {
		fn(env.Data)
	}
}

func (m *Manager) dispatchLocal(event EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.dispatch(Envelope{Event: event, Data: data})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
