// Package api is the client for the chat server's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duochat/internal/cache"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
)

// ErrUnavailable wraps every transport-level failure (DNS, refused, timeout, bad health).
var ErrUnavailable = errors.New("server unavailable")

// Error is a non-2xx answer from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

// ImageInfo is the decoded header of an uploaded image.
type ImageInfo struct {
	Width  int
	Height int
	Format string
}

type Client struct {
	base   string
	http   *http.Client
	images *cache.Bounded[string, ImageInfo]
}

// New creates a client for baseURL. imageCache bounds the ImageInfo cache.
func New(baseURL string, timeout time.Duration, imageCache int) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		images: cache.NewBounded[string, ImageInfo](imageCache),
	}
}

// Resolve turns a server-relative media path into an absolute URL.
func (c *Client) Resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "/") {
		return c.base + ref
	}
	return ref
}

// Health succeeds when GET /health answers 2xx.
func (c *Client) Health(ctx context.Context) error {
	defer logger.DeferLogDuration("api.Health", time.Now())()
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", nil); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("api.Health: %w: status %d", ErrUnavailable, apiErr.Status)
		}
		return fmt.Errorf("api.Health: %w", err)
	}
	return nil
}

// Login checks credentials. A rejection is an *Error carrying the server's message.
func (c *Client) Login(ctx context.Context, creds model.Credentials) error {
	body, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("api.Login: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/api/login", bytes.NewReader(body), "application/json", nil); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Message == "" {
			apiErr.Message = "Login failed"
		}
		return fmt.Errorf("api.Login: %w", err)
	}
	return nil
}

// FetchMessages loads the newest page; used for the initial load and resync.
func (c *Client) FetchMessages(ctx context.Context) ([]model.Message, error) {
	defer logger.DeferLogDuration("api.FetchMessages", time.Now())()
	var p model.Page
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, "", &p); err != nil {
		return nil, fmt.Errorf("api.FetchMessages: %w", err)
	}
	return p.Messages, nil
}

// FetchPage loads an older page of history.
func (c *Client) FetchPage(ctx context.Context, page int) (model.Page, error) {
	defer logger.DeferLogDuration("api.FetchPage", time.Now())()
	var p model.Page
	if err := c.do(ctx, http.MethodGet, "/api/messages?page="+strconv.Itoa(page), nil, "", &p); err != nil {
		return model.Page{}, fmt.Errorf("api.FetchPage %d: %w", page, err)
	}
	return p, nil
}

func (c *Client) Stickers(ctx context.Context) (model.StickerPacks, error) {
	packs := model.StickerPacks{}
	if err := c.do(ctx, http.MethodGet, "/api/stickers", nil, "", &packs); err != nil {
		return nil, fmt.Errorf("api.Stickers: %w", err)
	}
	return packs, nil
}

// UploadSticker adds a custom sticker to pack and returns the user's packs.
func (c *Client) UploadSticker(ctx context.Context, username, pack, filename string, data []byte) (model.StickerPacks, error) {
	body, ctype, err := multipartBody("image", filename, data, map[string]string{
		"username": username,
		"packName": pack,
	})
	if err != nil {
		return nil, fmt.Errorf("api.UploadSticker: %w", err)
	}
	packs := model.StickerPacks{}
	if err := c.do(ctx, http.MethodPost, "/api/stickers/upload", body, ctype, &packs); err != nil {
		return nil, fmt.Errorf("api.UploadSticker: %w", err)
	}
	return packs, nil
}

type uploadResponse struct {
	URL string `json:"url"`
}

// UploadImage stores an image and returns its URL.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	return c.upload(ctx, "/api/upload-image", "image", filename, data)
}

// UploadAudio stores a voice recording and returns its URL.
func (c *Client) UploadAudio(ctx context.Context, filename string, data []byte) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	return c.upload(ctx, "/api/upload-audio", "audio", filename, data)
}

func (c *Client) upload(ctx context.Context, path, field, filename string, data []byte) (string, error) {
	defer logger.DeferLogDuration("api.upload", time.Now())()
	body, ctype, err := multipartBody(field, filename, data, nil)
	if err != nil {
		return "", fmt.Errorf("api.upload %s: %w", path, err)
	}
	var out uploadResponse
	if err := c.do(ctx, http.MethodPost, path, body, ctype, &out); err != nil {
		return "", fmt.Errorf("api.upload %s: %w", path, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("api.upload %s: empty url in response", path)
	}
	return out.URL, nil
}

// ImageInfo fetches an image and decodes its header. Results are cached.
func (c *Client) ImageInfo(ctx context.Context, ref string) (ImageInfo, error) {
	if info, ok := c.images.Get(ref); ok {
		return info, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resolve(ref), nil)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("api.ImageInfo: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("api.ImageInfo: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return ImageInfo{}, fmt.Errorf("api.ImageInfo: %w", &Error{Status: resp.StatusCode})
	}
	cfg, format, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("api.ImageInfo: decode: %w", err)
	}
	info := ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}
	c.images.Put(ref, info)
	return info, nil
}

// CachedImages returns the number of cached ImageInfo entries.
func (c *Client) CachedImages() int { return c.images.Len() }

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, ctype string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func multipartBody(field, filename string, data []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
