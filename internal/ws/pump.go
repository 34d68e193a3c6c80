package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duochat/internal/logger"
)

// Limits are the per-connection timeouts and sizes shared by both ends.
type Limits struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultLimits mirror the relay defaults.
var DefaultLimits = Limits{
	WriteWait:      10 * time.Second,
	PongWait:       60 * time.Second,
	MaxMessageSize: 1 << 20,
	SendBuffer:     256,
}

func (l Limits) withDefaults() Limits {
	if l.WriteWait <= 0 {
		l.WriteWait = DefaultLimits.WriteWait
	}
	if l.PongWait <= 0 {
		l.PongWait = DefaultLimits.PongWait
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = DefaultLimits.MaxMessageSize
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = DefaultLimits.SendBuffer
	}
	return l
}

func (l Limits) pingPeriod() time.Duration {
	return (l.PongWait * 9) / 10
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// readPump reads frames until the connection fails or ctx ends, handing each
// decoded envelope to handle in arrival order.
func readPump(ctx context.Context, conn *websocket.Conn, l Limits, who string, handle func(Envelope)) {
	conn.SetReadLimit(l.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(l.PongWait)); err != nil {
		logger.Errorf("ws set read deadline %s: %v", who, err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.PongWait))
	})
	// Ответ на ping сервера продлевает и наш дедлайн чтения.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(l.PongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(l.WriteWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error %s: %v", who, err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("ws unmarshal error %s: %v", who, err)
			continue
		}
		if env.Event == "" {
			continue
		}
		handle(env)
	}
}

// writePump drains send onto conn and keeps the connection alive with pings.
// Exits on ctx cancellation or write error. On cancellation frames already
// queued (userLeave, stopTyping) are flushed before the close frame.
func writePump(ctx context.Context, conn *websocket.Conn, l Limits, who string, send <-chan OutgoingMessage) {
	ticker := time.NewTicker(l.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush(conn, l, who, send)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(l.WriteWait))
			return
		case msg := <-send:
			if !writeFrame(conn, l, who, msg) {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(l.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline %s: %v", who, err)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func flush(conn *websocket.Conn, l Limits, who string, send <-chan OutgoingMessage) {
	for {
		select {
		case msg := <-send:
			if !writeFrame(conn, l, who, msg) {
				return
			}
		default:
			return
		}
	}
}

// writeFrame encodes msg as one text frame. It reports false when the
// connection is no longer writable.
func writeFrame(conn *websocket.Conn, l Limits, who string, msg OutgoingMessage) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(l.WriteWait)); err != nil {
		logger.Errorf("ws set write deadline %s: %v", who, err)
		return false
	}
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		logger.Errorf("ws marshal error %s event=%s: %v", who, msg.Event, err)
		return true
	}
	data := buf.Bytes()
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debugf("ws write %s: %v", who, err)
		return false
	}
	return true
}
