package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/metrics"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/repository"
)

// HubConfig holds the relay hub settings.
type HubConfig struct {
	MaxConns int
	PageSize int
	Limits   Limits
	Metrics  *metrics.Relay
}

// Hub relays socket events between the peers of the conversation.
type Hub struct {
	mu       sync.RWMutex
	peers    map[*Peer]struct{}
	typing   map[string]struct{}
	msgRepo  repository.Messages
	maxConns int
	pageSize int
	limits   Limits
	metrics  *metrics.Relay

	register   chan *Peer
	unregister chan *Peer
	done       chan struct{}
}

func NewHub(msgRepo repository.Messages, cfg HubConfig) *Hub {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Hub{
		peers:      make(map[*Peer]struct{}),
		typing:     make(map[string]struct{}),
		msgRepo:    msgRepo,
		maxConns:   cfg.MaxConns,
		pageSize:   cfg.PageSize,
		limits:     cfg.Limits.withDefaults(),
		metrics:    cfg.Metrics,
		register:   make(chan *Peer, 64),
		unregister: make(chan *Peer, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case p := <-h.register:
			h.addPeer(p)
		case p := <-h.unregister:
			h.removePeer(p)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all peers under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		all = append(all, p)
	}
	h.peers = make(map[*Peer]struct{})
	h.mu.Unlock()
	h.metrics.SetPeers(0)

	// Close connections outside the lock (network I/O).
	for _, p := range all {
		p.Close()
	}
	for _, p := range all {
		p.Wait()
	}
}

func (h *Hub) addPeer(p *Peer) {
	h.mu.Lock()
	if len(h.peers) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting %s", h.maxConns, p.tag())
		p.Close()
		return
	}
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.metrics.SetPeers(n)
}

func (h *Hub) removePeer(p *Peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	h.metrics.SetPeers(n)

	// Network I/O outside the lock.
	p.Close()

	if name := p.Username(); name != "" && !h.online(name) {
		h.setTyping(name, false)
	}
}

// PeerCount returns the number of registered peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) online(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p.Username() == name {
			return true
		}
	}
	return false
}

// HandleMessage dispatches incoming socket events.
func (h *Hub) HandleMessage(ctx context.Context, p *Peer, env Envelope) {
	h.metrics.Event(string(env.Event))
	switch env.Event {
	case EventUserJoin:
		h.handleUserJoin(ctx, p, env.Data)
	case EventUserLeave:
		if name := p.Username(); name != "" {
			h.setTyping(name, false)
		}
	case EventTyping:
		name := decodeName(env.Data)
		if name == "" {
			name = p.Username()
		}
		if name != "" {
			h.setTyping(name, true)
		}
	case EventStopTyping:
		if name := p.Username(); name != "" {
			h.setTyping(name, false)
		}
	case EventSendMessage:
		h.handleSendMessage(ctx, p, env.Data)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, p, env.Data)
	default:
		logger.Errorf("ws unknown event=%s from %s", env.Event, p.tag())
	}
}

func (h *Hub) handleUserJoin(ctx context.Context, p *Peer, data json.RawMessage) {
	name := decodeName(data)
	if name == "" {
		return
	}
	p.setUsername(name)
	logger.Infof("ws user joined %s", name)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msgs, _, err := h.msgRepo.Page(ctx, 1, h.pageSize)
	if err != nil {
		logger.Errorf("ws load history for %s: %v", name, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	h.sendToPeer(p, OutgoingMessage{Event: EventPreviousMessages, Data: msgs})
	h.sendToPeer(p, OutgoingMessage{Event: EventUserTyping, Data: h.typingList()})
}

func (h *Hub) handleSendMessage(ctx context.Context, p *Peer, data json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	var in model.MessageData
	if err := json.Unmarshal(data, &in); err != nil {
		h.sendToPeer(p, OutgoingMessage{Event: EventMessageError, Data: model.ServerError{Message: "Invalid message"}})
		return
	}
	if in.Username == "" {
		in.Username = p.Username()
	}
	if in.Username == "" || strings.TrimSpace(in.Text) == "" {
		h.sendToPeer(p, OutgoingMessage{Event: EventMessageError, Data: model.ServerError{
			Message: "username and text required", ClientID: in.ClientID,
		}})
		return
	}
	kind := in.Kind
	if kind == "" {
		kind = model.KindText
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	m := &model.Message{
		ID:        uuid.New().String(),
		Username:  in.Username,
		Kind:      kind,
		Text:      in.Text,
		Timestamp: ts,
		ReplyTo:   in.ReplyTo,
		ClientID:  in.ClientID,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.msgRepo.Create(ctx, m); err != nil {
		logger.Errorf("ws save message from %s: %v", in.Username, err)
		h.sendToPeer(p, OutgoingMessage{Event: EventMessageError, Data: model.ServerError{
			Message: "Failed to save message", ClientID: in.ClientID,
		}})
		return
	}
	h.setTyping(in.Username, false)
	h.Broadcast(OutgoingMessage{Event: EventMessage, Data: m})
}

func (h *Hub) handleDeleteMessage(ctx context.Context, p *Peer, data json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleDeleteMessage", time.Now())()
	var req model.DeleteRequest
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == "" {
		h.sendToPeer(p, OutgoingMessage{Event: EventDeleteError, Data: model.ServerError{Message: "Invalid delete request"}})
		return
	}
	if req.Username == "" {
		req.Username = p.Username()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	original, err := h.msgRepo.GetByID(ctx, req.MessageID)
	if errors.Is(err, repository.ErrNotFound) {
		h.sendToPeer(p, OutgoingMessage{Event: EventDeleteError, Data: model.ServerError{Message: "Message not found"}})
		return
	}
	if err != nil {
		logger.Errorf("ws load message %s: %v", req.MessageID, err)
		h.sendToPeer(p, OutgoingMessage{Event: EventDeleteError, Data: model.ServerError{Message: "Failed to delete message"}})
		return
	}
	if original.Username != req.Username {
		h.sendToPeer(p, OutgoingMessage{Event: EventDeleteError, Data: model.ServerError{Message: "You can only delete your own messages"}})
		return
	}
	if err := h.msgRepo.MarkDeleted(ctx, req.MessageID); err != nil {
		logger.Errorf("ws delete message %s: %v", req.MessageID, err)
		h.sendToPeer(p, OutgoingMessage{Event: EventDeleteError, Data: model.ServerError{Message: "Failed to delete message"}})
		return
	}
	h.Broadcast(OutgoingMessage{Event: EventMessageDeleted, Data: model.MessageDeleted{MessageID: req.MessageID}})
}

// setTyping updates the typing set and broadcasts it when it changed.
func (h *Hub) setTyping(name string, on bool) {
	h.mu.Lock()
	_, was := h.typing[name]
	if was == on {
		h.mu.Unlock()
		return
	}
	if on {
		h.typing[name] = struct{}{}
	} else {
		delete(h.typing, name)
	}
	h.mu.Unlock()
	h.Broadcast(OutgoingMessage{Event: EventUserTyping, Data: h.typingList()})
}

func (h *Hub) typingList() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.typing))
	for name := range h.typing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends msg to every connected peer.
func (h *Hub) Broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.sendToPeer(p, msg)
	}
}

func (h *Hub) sendToPeer(p *Peer, msg OutgoingMessage) {
	select {
	case p.send <- msg:
	case <-p.done:
	default:
		// Backpressure: send buffer full, close slow peer.
		logger.Errorf("ws send buffer full, closing slow %s", p.tag())
		p.Close()
	}
}

func (h *Hub) Register(p *Peer) {
	select {
	case h.register <- p:
	case <-h.done:
		p.Close()
	}
}

func (h *Hub) Unregister(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

func decodeName(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return strings.TrimSpace(name)
	}
	var obj struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return strings.TrimSpace(obj.Username)
	}
	return ""
}
