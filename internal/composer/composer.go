// Package composer builds outbound messages from the user's draft, attachment
// and reply target.
package composer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/duochat/internal/cache"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/metrics"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/storage"
	"github.com/duochat/internal/ws"
)

const (
	DefaultMaxImageSize = 5 << 20
	DefaultMaxAudioSize = 25 << 20
)

// ErrNotSent is returned when the socket refused the outbound event.
var ErrNotSent = errors.New("message not sent: connection busy")

// ValidationError rejects an attachment before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Uploader is the slice of the REST client the composer needs.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
	UploadAudio(ctx context.Context, filename string, data []byte) (string, error)
	UploadSticker(ctx context.Context, username, pack, filename string, data []byte) (model.StickerPacks, error)
}

// Emitter sends socket events; ws.Manager satisfies it.
type Emitter interface {
	Send(event ws.EventType, payload any) bool
}

// Typing is told about draft changes; typing.Notifier satisfies it.
type Typing interface {
	Change(text string)
	Stop()
}

// Attachment is the media or sticker that replaces the draft text on send.
type Attachment struct {
	Kind model.Kind
	Name string
	Data []byte
	// Ref is the sticker reference for sticker kinds.
	Ref string
}

func (a *Attachment) needsUpload() bool {
	return a != nil && a.Kind.IsMedia()
}

// Outbox tracks sends by client nonce until the server echoes them.
type Outbox interface {
	Requested(data model.MessageData)
	Rejected(clientID string)
}

type Options struct {
	Uploader     Uploader
	Emitter      Emitter
	Typing       Typing
	Prefs        *storage.Prefs
	Recent       *cache.Recent
	Outbox       Outbox
	Metrics      *metrics.Client
	MaxImageSize int64
	MaxAudioSize int64
	Now          func() time.Time
}

// Composer is safe for concurrent use; Send may run on a worker goroutine while
// the draft keeps changing.
type Composer struct {
	opts Options

	mu         sync.Mutex
	username   string
	draft      string
	attachment *Attachment
	replyTo    *model.ReplyRef
}

func New(opts Options) *Composer {
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = DefaultMaxImageSize
	}
	if opts.MaxAudioSize <= 0 {
		opts.MaxAudioSize = DefaultMaxAudioSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recent == nil {
		opts.Recent = cache.NewRecent(cache.DefaultRecent, nil)
	}
	return &Composer{opts: opts}
}

func (c *Composer) SetUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// SetDraft replaces the draft text and informs the typing notifier.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	if c.opts.Typing != nil {
		c.opts.Typing.Change(text)
	}
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Attachment returns a copy of the selected attachment, or nil.
func (c *Composer) Attachment() *Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachment == nil {
		return nil
	}
	a := *c.attachment
	return &a
}

func (c *Composer) Reply() *model.ReplyRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replyTo == nil {
		return nil
	}
	r := *c.replyTo
	return &r
}

// SelectImage validates and attaches an image.
func (c *Composer) SelectImage(name string, data []byte) error {
	if err := validate(data, c.opts.MaxImageSize, "Image", "image", isImage); err != nil {
		return err
	}
	c.attach(&Attachment{Kind: model.KindImage, Name: name, Data: data})
	return nil
}

// SelectAudio validates and attaches a voice recording.
func (c *Composer) SelectAudio(name string, data []byte) error {
	if err := validate(data, c.opts.MaxAudioSize, "Audio", "audio", isAudio); err != nil {
		return err
	}
	if name == "" {
		name = "audio.webm"
	}
	c.attach(&Attachment{Kind: model.KindAudio, Name: name, Data: data})
	return nil
}

// SelectSticker attaches a sticker reference; the next Send delivers it.
func (c *Composer) SelectSticker(ref string, custom bool) {
	if ref == "" {
		return
	}
	c.attach(&Attachment{Kind: stickerKind(custom), Ref: ref})
}

func (c *Composer) attach(a *Attachment) {
	c.mu.Lock()
	c.attachment = a
	c.mu.Unlock()
}

func (c *Composer) ClearAttachment() {
	c.attach(nil)
}

// ReplyTo captures a snapshot of m as the reply target.
func (c *Composer) ReplyTo(m model.Message) error {
	if m.IsDeleted() {
		return &ValidationError{Message: "Cannot reply to a deleted message"}
	}
	ref := model.SnapshotOf(m)
	c.mu.Lock()
	c.replyTo = &ref
	c.mu.Unlock()
	return nil
}

func (c *Composer) CancelReply() {
	c.mu.Lock()
	c.replyTo = nil
	c.mu.Unlock()
}

// Send emits the composed message. It returns nil data and nil error when
// there is nothing to send. On upload failure the draft, attachment and reply
// target are restored and the error is returned.
func (c *Composer) Send(ctx context.Context) (*model.MessageData, error) {
	defer logger.DeferLogDuration("composer.Send", time.Now())()

	c.mu.Lock()
	text := strings.TrimSpace(c.draft)
	att := c.attachment
	reply := c.replyTo
	username := c.username
	if text == "" && att == nil {
		c.mu.Unlock()
		return nil, nil
	}
	draft := c.draft
	c.draft, c.attachment, c.replyTo = "", nil, nil
	c.mu.Unlock()
	if c.opts.Typing != nil {
		c.opts.Typing.Stop()
	}

	data := model.MessageData{
		Username: username,
		Text:     text,
		Kind:     model.KindText,
		ReplyTo:  reply,
	}
	if att != nil {
		data.Kind = att.Kind
		data.Text = att.Ref
	}
	if att.needsUpload() {
		url, err := c.upload(ctx, att)
		if err != nil {
			c.restore(draft, att, reply)
			return nil, err
		}
		data.Text = url
	}
	if err := c.emit(&data); err != nil {
		c.restore(draft, att, reply)
		return nil, err
	}
	if att != nil && att.Ref != "" {
		c.rememberSticker(ctx, att.Ref)
	}
	return &data, nil
}

// SendSticker sends a sticker right away, bypassing the draft, and records it
// as recently used.
func (c *Composer) SendSticker(ctx context.Context, ref string, custom bool) (*model.MessageData, error) {
	if ref == "" {
		return nil, nil
	}
	c.mu.Lock()
	data := model.MessageData{
		Username: c.username,
		Text:     ref,
		Kind:     stickerKind(custom),
		ReplyTo:  c.replyTo,
	}
	c.replyTo = nil
	c.mu.Unlock()

	if err := c.emit(&data); err != nil {
		c.mu.Lock()
		if c.replyTo == nil {
			c.replyTo = data.ReplyTo
		}
		c.mu.Unlock()
		return nil, err
	}
	c.rememberSticker(ctx, ref)
	return &data, nil
}

func (c *Composer) rememberSticker(ctx context.Context, ref string) {
	recent := c.opts.Recent.Push(ref)
	if c.opts.Prefs == nil {
		return
	}
	if err := c.opts.Prefs.SetRecentStickers(ctx, recent); err != nil {
		logger.Errorf("composer: persist recent stickers: %v", err)
	}
}

// RecentStickers returns the most recently sent sticker references.
func (c *Composer) RecentStickers() []string {
	return c.opts.Recent.List()
}

// UploadSticker validates and uploads a custom sticker into pack, then
// persists the returned collection as the custom-sticker cache.
func (c *Composer) UploadSticker(ctx context.Context, name string, data []byte, pack string) (model.StickerPacks, error) {
	if err := validate(data, c.opts.MaxImageSize, "Sticker", "image", isImage); err != nil {
		return nil, err
	}
	if pack == "" {
		pack = model.DefaultCustomPack
	}
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()

	packs, err := c.opts.Uploader.UploadSticker(ctx, username, pack, name, data)
	if err != nil {
		return nil, fmt.Errorf("composer.UploadSticker: %w", err)
	}
	if c.opts.Prefs != nil {
		if err := c.opts.Prefs.SetCustomStickers(ctx, packs); err != nil {
			logger.Errorf("composer.UploadSticker persist: %v", err)
		}
	}
	return packs, nil
}

func (c *Composer) upload(ctx context.Context, att *Attachment) (string, error) {
	var (
		url string
		err error
	)
	switch att.Kind {
	case model.KindImage:
		url, err = c.opts.Uploader.UploadImage(ctx, att.Name, att.Data)
	case model.KindAudio:
		url, err = c.opts.Uploader.UploadAudio(ctx, att.Name, att.Data)
	}
	if err != nil {
		return "", fmt.Errorf("composer.upload %s: %w", att.Kind, err)
	}
	return url, nil
}

// emit stamps data with a nonce and timestamp, records it in the outbox and
// hands it to the socket.
func (c *Composer) emit(data *model.MessageData) error {
	data.ClientID = uuid.New().String()
	data.Timestamp = c.opts.Now().UTC()
	if c.opts.Outbox != nil {
		c.opts.Outbox.Requested(*data)
	}
	if !c.opts.Emitter.Send(ws.EventSendMessage, *data) {
		if c.opts.Outbox != nil {
			c.opts.Outbox.Rejected(data.ClientID)
		}
		return ErrNotSent
	}
	c.opts.Metrics.Sent(data.Kind)
	return nil
}

// restore puts back what Send cleared, unless the user has already replaced it.
func (c *Composer) restore(draft string, att *Attachment, reply *model.ReplyRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == "" {
		c.draft = draft
	}
	if c.attachment == nil {
		c.attachment = att
	}
	if c.replyTo == nil {
		c.replyTo = reply
	}
}

func stickerKind(custom bool) model.Kind {
	if custom {
		return model.KindCustomSticker
	}
	return model.KindSticker
}

func validate(data []byte, limit int64, what, noun string, ok func(ctype string) bool) error {
	if len(data) == 0 {
		return &ValidationError{Message: what + " file is empty"}
	}
	if !ok(http.DetectContentType(data)) {
		return &ValidationError{Message: "Please select an " + noun + " file"}
	}
	if int64(len(data)) > limit {
		return &ValidationError{Message: fmt.Sprintf("%s size must be less than %s (got %s)",
			what, humanize.IBytes(uint64(limit)), humanize.IBytes(uint64(len(data))))}
	}
	return nil
}

func isImage(ctype string) bool {
	return strings.HasPrefix(ctype, "image/")
}

func isAudio(ctype string) bool {
	switch {
	case strings.HasPrefix(ctype, "audio/"):
		return true
	case ctype == "application/ogg", ctype == "video/webm", ctype == "video/mp4":
		return true
	}
	return false
}
