package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Peer is one relay-side socket connection.
// Lifecycle: NewPeer -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan OutgoingMessage

	mu       sync.RWMutex
	username string

	// done is used as a non-blocking guard in sendToPeer.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewPeer(hub *Hub, conn *websocket.Conn) *Peer {
	return &Peer{
		hub:  hub,
		conn: conn,
		send: make(chan OutgoingMessage, hub.limits.SendBuffer),
		done: make(chan struct{}),
	}
}

// Username is empty until the peer announces itself with userJoin.
func (p *Peer) Username() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

func (p *Peer) setUsername(name string) {
	p.mu.Lock()
	p.username = name
	p.mu.Unlock()
}

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (p *Peer) Start(ctx context.Context, cancel context.CancelFunc) {
	p.cancel = cancel
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		writePump(ctx, p.conn, p.hub.limits, p.tag(), p.send)
		p.conn.Close()
	}()
	go func() {
		defer p.wg.Done()
		defer func() {
			p.hub.Unregister(p)
			p.conn.Close()
		}()
		readPump(ctx, p.conn, p.hub.limits, p.tag(), func(env Envelope) {
			p.hub.HandleMessage(ctx, p, env)
		})
	}()
}

// Wait blocks until both pump goroutines have exited.
func (p *Peer) Wait() {
	p.wg.Wait()
}

// Close signals the peer to stop. Safe to call multiple times from any goroutine.
func (p *Peer) Close() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		p.conn.Close()
	})
}

func (p *Peer) tag() string {
	if name := p.Username(); name != "" {
		return "peer=" + name
	}
	return "peer=" + p.conn.RemoteAddr().String()
}
