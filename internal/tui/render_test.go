package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/composer"
	"github.com/duochat/internal/media"
	"github.com/duochat/internal/model"
)

func at(min int) time.Time {
	return time.Date(2024, 3, 1, 10, min, 0, 0, time.UTC)
}

func TestBodyByKind(t *testing.T) {
	cases := []struct {
		kind model.Kind
		want string
	}{
		{model.KindText, "hello"},
		{model.KindImage, "/uploads/a.png"},
		{model.KindSticker, "[sticker]"},
		{model.KindCustomSticker, "[sticker]"},
		{model.KindAudio, "voice message"},
		{model.KindDeleted, model.DeletedPlaceholder},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			text := "hello"
			if tc.kind != model.KindText {
				text = "/uploads/a.png"
			}
			assert.Contains(t, body(model.Message{Kind: tc.kind, Text: text}), tc.want)
		})
	}
}

func TestRenderDeletedKeepsReplyQuote(t *testing.T) {
	m := model.Message{
		ID: "m2", Username: "bob", Kind: model.KindDeleted, Text: model.DeletedPlaceholder, Timestamp: at(1),
		ReplyTo: &model.ReplyRef{ID: "m1", Username: "alice", Kind: model.KindImage, Text: "/uploads/x.png"},
	}
	out := renderMessage(m, "alice", 60, false, false)
	assert.Contains(t, out, "alice: Photo")
	assert.Contains(t, out, model.DeletedPlaceholder)
	assert.NotContains(t, out, "deleting")
}

func TestRenderPendingDelete(t *testing.T) {
	m := model.Message{ID: "m1", Username: "alice", Kind: model.KindDeleted, Text: model.DeletedPlaceholder, Timestamp: at(1)}
	assert.Contains(t, renderMessage(m, "alice", 60, false, true), "deleting")
}

func TestLayoutStarts(t *testing.T) {
	msgs := []model.Message{
		{ID: "a", Username: "alice", Kind: model.KindText, Text: "one", Timestamp: at(1)},
		{ID: "b", Username: "bob", Kind: model.KindText, Text: "two", Timestamp: at(2),
			ReplyTo: &model.ReplyRef{ID: "a", Username: "alice", Kind: model.KindText, Text: "one"}},
		{ID: "c", Username: "alice", Kind: model.KindText, Text: "three", Timestamp: at(3)},
	}
	content, starts := layout(msgs, "alice", 60, -1, nil)
	require.Len(t, starts, 3)
	assert.Equal(t, 0, starts[0])
	assert.Equal(t, 2, starts[1])
	// author + quote + body
	assert.Equal(t, 5, starts[2])
	assert.Equal(t, 7, lipgloss.Height(content))
}

func TestAttachmentLine(t *testing.T) {
	assert.Equal(t, "", attachmentLine(nil, nil))

	reply := &model.ReplyRef{Username: "bob", Kind: model.KindAudio}
	att := &composer.Attachment{Kind: model.KindImage, Name: "cat.png", Data: make([]byte, 2048)}
	assert.Equal(t, "replying to bob: Voice message · image cat.png (2.0 KiB)", attachmentLine(att, reply))

	st := &composer.Attachment{Kind: model.KindSticker, Ref: "/stickers/1.webp"}
	assert.Equal(t, "sticker /stickers/1.webp", attachmentLine(st, nil))
}

func TestMediaPanelCounts(t *testing.T) {
	idx := media.Index{
		Images: []model.Message{{Text: "/uploads/a.png"}},
		Links:  []media.Link{{URL: "https://example.com"}, {URL: "http://go.dev"}},
	}
	out := mediaPanel(idx, 40)
	assert.Contains(t, out, "Images (1)")
	assert.Contains(t, out, "Voice (0)")
	assert.Contains(t, out, "Links (2)")
	assert.True(t, strings.Contains(out, "https://example.com"))
}

func TestParseCommand(t *testing.T) {
	c, ok := parseCommand("  /Image ~/cat.png ")
	require.True(t, ok)
	assert.Equal(t, command{name: "image", arg: "~/cat.png"}, c)

	c, ok = parseCommand("/media")
	require.True(t, ok)
	assert.Equal(t, command{name: "media"}, c)

	for _, s := range []string{"hello", "//literal", "/", ""} {
		_, ok := parseCommand(s)
		assert.False(t, ok, s)
	}
}

func TestAnchorTake(t *testing.T) {
	var a Anchor
	a.Add(3)
	a.Add(2)
	assert.Equal(t, 5, a.take())
	assert.Equal(t, 0, a.take())
}
