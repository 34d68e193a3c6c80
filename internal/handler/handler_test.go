package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/fileserver"
	"github.com/duochat/internal/handler"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/repository"
	"github.com/duochat/internal/ws"
)

type relay struct {
	srv  *httptest.Server
	hub  *ws.Hub
	msgs *repository.MemoryMessages
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	msgs := repository.NewMemoryMessages()
	files := fileserver.New(t.TempDir(), 1<<20)
	hub := ws.NewHub(msgs, ws.HubConfig{PageSize: 3})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Get("/ws", handler.NewWSHandler(hub, "*").ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", handler.NewAuthHandler(map[string]string{"alice": "secret"}).Login)
		r.Get("/messages", handler.NewMessageHandler(msgs, 3).GetMessages)
		sh := handler.NewStickerHandler(repository.NewMemoryStickers(), files)
		r.Get("/stickers", sh.List)
		r.Post("/stickers/upload", sh.Upload)
		fh := handler.NewFileHandler(files)
		r.Post("/upload-image", fh.UploadImage)
		r.Post("/upload-audio", fh.UploadAudio)
	})
	r.Get("/uploads/{filename}", handler.NewFileHandler(files).Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &relay{srv: srv, hub: hub, msgs: msgs}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartReq(t *testing.T, url, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req, err := http.NewRequest(http.MethodPost, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestLogin(t *testing.T) {
	rl := newRelay(t)

	cases := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"ok", `{"username":"alice","password":"secret"}`, http.StatusOK, "Login successful"},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"unknown user", `{"username":"mallory","password":"secret"}`, http.StatusUnauthorized, "Invalid credentials"},
		{"empty", `{"username":"","password":""}`, http.StatusBadRequest, "Username and password are required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(rl.srv.URL+"/api/login", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
			var got struct{ Message string }
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tc.msg, got.Message)
		})
	}
}

func TestGetMessagesPages(t *testing.T) {
	rl := newRelay(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, rl.msgs.Create(context.Background(), &model.Message{
			ID: id, Username: "alice", Kind: model.KindText, Text: id, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	fetch := func(q string) model.Page {
		resp, err := http.Get(rl.srv.URL + "/api/messages" + q)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var p model.Page
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
		return p
	}

	p1 := fetch("")
	assert.Equal(t, []string{"c", "d", "e"}, msgIDs(p1.Messages))
	assert.True(t, p1.HasMore)

	p2 := fetch("?page=2")
	assert.Equal(t, []string{"a", "b"}, msgIDs(p2.Messages))
	assert.False(t, p2.HasMore)

	p3 := fetch("?page=3")
	assert.Empty(t, p3.Messages)
	assert.NotNil(t, p3.Messages)
}

func msgIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestUploadImageAndServe(t *testing.T) {
	rl := newRelay(t)
	data := pngBytes(t)

	resp, err := http.DefaultClient.Do(multipartReq(t, rl.srv.URL+"/api/upload-image", "image", "dot.png", data, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up fileserver.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	require.True(t, strings.HasPrefix(up.URL, "/uploads/"))
	assert.Equal(t, "image/png", up.ContentType)

	got, err := http.Get(rl.srv.URL + up.URL)
	require.NoError(t, err)
	defer got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, err = buf.ReadFrom(got.Body)
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
}

func TestUploadImageRejectsText(t *testing.T) {
	rl := newRelay(t)
	resp, err := http.DefaultClient.Do(multipartReq(t, rl.srv.URL+"/api/upload-image", "image", "a.png", []byte("plain text, not a picture"), nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e struct{ Error string }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "only image files are allowed", e.Error)
}

func TestUploadAudioRequiresField(t *testing.T) {
	rl := newRelay(t)
	resp, err := http.DefaultClient.Do(multipartReq(t, rl.srv.URL+"/api/upload-audio", "file", "a.webm", []byte{0x1a, 0x45, 0xdf, 0xa3}, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeMissingUpload(t *testing.T) {
	rl := newRelay(t)
	resp, err := http.Get(rl.srv.URL + "/uploads/nope.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStickerUpload(t *testing.T) {
	rl := newRelay(t)

	resp, err := http.DefaultClient.Do(multipartReq(t, rl.srv.URL+"/api/stickers/upload", "image", "cat.png", pngBytes(t),
		map[string]string{"username": "alice", "packName": "Cats"}))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var packs model.StickerPacks
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&packs))
	require.Len(t, packs["Cats"], 1)
	assert.True(t, strings.HasPrefix(packs["Cats"][0].URL, "/uploads/"))
	assert.Contains(t, packs, model.DefaultCustomPack)
	assert.NotEmpty(t, packs["Love"])
}

// socket helpers

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, rl *relay) *client {
	t.Helper()
	before := rl.hub.PeerCount()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(rl.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return rl.hub.PeerCount() == before+1 }, 2*time.Second, 10*time.Millisecond)
	return &client{t: t, conn: conn}
}

func (c *client) emit(event ws.EventType, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(ws.OutgoingMessage{Event: event, Data: data}))
}

// join announces the user and drains the initial history and typing frames.
func (c *client) join(name string) []model.Message {
	c.t.Helper()
	c.emit(ws.EventUserJoin, name)
	var history []model.Message
	require.NoError(c.t, json.Unmarshal(c.expect(ws.EventPreviousMessages), &history))
	c.expect(ws.EventUserTyping)
	return history
}

// expect reads frames until one with the given event arrives.
func (c *client) expect(event ws.EventType) json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env ws.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env))
		if env.Event == event {
			return env.Data
		}
	}
}

func TestSocketJoinSendDelete(t *testing.T) {
	rl := newRelay(t)
	alice := dial(t, rl)
	bob := dial(t, rl)

	assert.Empty(t, alice.join("alice"))
	bob.join("bob")

	alice.emit(ws.EventSendMessage, model.MessageData{Username: "alice", Text: "hi", Kind: model.KindText, ClientID: "n-1"})
	var echo model.Message
	require.NoError(t, json.Unmarshal(alice.expect(ws.EventMessage), &echo))
	assert.NotEmpty(t, echo.ID)
	assert.Equal(t, "n-1", echo.ClientID)
	assert.False(t, echo.Timestamp.IsZero())

	var seen model.Message
	require.NoError(t, json.Unmarshal(bob.expect(ws.EventMessage), &seen))
	assert.Equal(t, echo.ID, seen.ID)

	// bob не может удалить чужое сообщение
	bob.emit(ws.EventDeleteMessage, model.DeleteRequest{MessageID: echo.ID, Username: "bob"})
	var rejected model.ServerError
	require.NoError(t, json.Unmarshal(bob.expect(ws.EventDeleteError), &rejected))
	assert.Equal(t, "You can only delete your own messages", rejected.Message)

	alice.emit(ws.EventDeleteMessage, model.DeleteRequest{MessageID: echo.ID, Username: "alice"})
	var deleted model.MessageDeleted
	require.NoError(t, json.Unmarshal(bob.expect(ws.EventMessageDeleted), &deleted))
	assert.Equal(t, echo.ID, deleted.MessageID)

	stored, err := rl.msgs.GetByID(context.Background(), echo.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
}

func TestSocketTypingBroadcast(t *testing.T) {
	rl := newRelay(t)
	alice := dial(t, rl)
	bob := dial(t, rl)
	alice.join("alice")
	bob.join("bob")

	alice.emit(ws.EventTyping, "alice")
	var typing []string
	require.NoError(t, json.Unmarshal(bob.expect(ws.EventUserTyping), &typing))
	assert.Equal(t, []string{"alice"}, typing)

	alice.emit(ws.EventStopTyping, "alice")
	require.NoError(t, json.Unmarshal(bob.expect(ws.EventUserTyping), &typing))
	assert.Empty(t, typing)
}

func TestSocketSendValidation(t *testing.T) {
	rl := newRelay(t)
	alice := dial(t, rl)
	alice.join("alice")

	alice.emit(ws.EventSendMessage, model.MessageData{Username: "alice", Text: "  ", ClientID: "n-2"})
	var e model.ServerError
	require.NoError(t, json.Unmarshal(alice.expect(ws.EventMessageError), &e))
	assert.Equal(t, "n-2", e.ClientID)
}
