package model

import "time"

type Kind string

const (
	KindText          Kind = "text"
	KindImage         Kind = "image"
	KindSticker       Kind = "sticker"
	KindCustomSticker Kind = "custom-sticker"
	KindAudio         Kind = "audio"
	KindDeleted       Kind = "deleted"
)

// DeletedPlaceholder replaces the payload of a deleted message.
const DeletedPlaceholder = "This message was deleted"

// IsMedia reports whether the payload of k is a URL to uploaded media.
func (k Kind) IsMedia() bool {
	return k == KindImage || k == KindAudio
}

// Message is one entry of the conversation log.
// Text holds the raw text for KindText and a URL for every other kind.
type Message struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Kind      Kind      `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
}

// IsDeleted reports whether the message reached its terminal state.
func (m *Message) IsDeleted() bool {
	return m.Kind == KindDeleted
}

// ReplyRef is a snapshot of the replied-to message taken when the reply was
// composed. It is never refreshed from the live log.
type ReplyRef struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Kind     Kind   `json:"type"`
	Text     string `json:"text"`
}

// SnapshotOf copies the fields of m needed to render a reply preview.
func SnapshotOf(m Message) ReplyRef {
	return ReplyRef{ID: m.ID, Username: m.Username, Kind: m.Kind, Text: m.Text}
}

// Summary returns a short preview of the referenced message.
func (r ReplyRef) Summary() string {
	switch r.Kind {
	case KindImage:
		return "Photo"
	case KindSticker, KindCustomSticker:
		return "Sticker"
	case KindAudio:
		return "Voice message"
	case KindDeleted:
		return DeletedPlaceholder
	}
	if len(r.Text) > 80 {
		return r.Text[:77] + "..."
	}
	return r.Text
}

// MessageData is the payload of the outbound sendMessage event.
type MessageData struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
}

// Page is one page of history as returned by GET /api/messages.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}
