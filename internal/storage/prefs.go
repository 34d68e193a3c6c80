package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/duochat/internal/model"
)

const (
	KeyUsername       = "username"
	KeyCustomStickers = "customStickers"
	KeyRecentStickers = "recentStickers"
)

// Prefs is the typed view of the persisted client state.
type Prefs struct {
	kv KV
}

func NewPrefs(kv KV) *Prefs {
	return &Prefs{kv: kv}
}

// Username returns "" when nobody is logged in.
func (p *Prefs) Username(ctx context.Context) (string, error) {
	v, err := p.kv.Get(ctx, KeyUsername)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("prefs.Username: %w", err)
	}
	return string(v), nil
}

func (p *Prefs) SetUsername(ctx context.Context, name string) error {
	if err := p.kv.Set(ctx, KeyUsername, []byte(name)); err != nil {
		return fmt.Errorf("prefs.SetUsername: %w", err)
	}
	return nil
}

func (p *Prefs) ClearUsername(ctx context.Context) error {
	return p.kv.Delete(ctx, KeyUsername)
}

// CustomStickers returns the cached custom packs, or the default empty pack.
func (p *Prefs) CustomStickers(ctx context.Context) (model.StickerPacks, error) {
	packs := model.DefaultCustomStickers()
	if err := p.getJSON(ctx, KeyCustomStickers, &packs); err != nil {
		return model.DefaultCustomStickers(), fmt.Errorf("prefs.CustomStickers: %w", err)
	}
	if len(packs) == 0 {
		return model.DefaultCustomStickers(), nil
	}
	return packs, nil
}

func (p *Prefs) SetCustomStickers(ctx context.Context, packs model.StickerPacks) error {
	return p.setJSON(ctx, KeyCustomStickers, packs)
}

// RecentStickers returns sticker references, most recent first.
func (p *Prefs) RecentStickers(ctx context.Context) ([]string, error) {
	var list []string
	if err := p.getJSON(ctx, KeyRecentStickers, &list); err != nil {
		return nil, fmt.Errorf("prefs.RecentStickers: %w", err)
	}
	return list, nil
}

func (p *Prefs) SetRecentStickers(ctx context.Context, list []string) error {
	return p.setJSON(ctx, KeyRecentStickers, list)
}

func (p *Prefs) Close() error {
	return p.kv.Close()
}

// getJSON leaves dst untouched when key is missing.
func (p *Prefs) getJSON(ctx context.Context, key string, dst any) error {
	v, err := p.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(v, dst)
}

func (p *Prefs) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: encode %s: %w", key, err)
	}
	if err := p.kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("prefs: save %s: %w", key, err)
	}
	return nil
}
