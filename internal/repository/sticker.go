package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
)

// BuiltinPacks are served in addition to uploaded stickers.
func BuiltinPacks() model.StickerPacks {
	return model.StickerPacks{
		"Love":  {{Text: "❤️"}, {Text: "😍"}, {Text: "😘"}, {Text: "🥰"}, {Text: "💕"}, {Text: "💌"}},
		"Happy": {{Text: "😀"}, {Text: "😂"}, {Text: "🤣"}, {Text: "😊"}, {Text: "🎉"}, {Text: "👍"}},
		"Sad":   {{Text: "😢"}, {Text: "😭"}, {Text: "😞"}, {Text: "💔"}},
	}
}

type StickerRepository struct {
	pool *pgxpool.Pool
}

func NewStickerRepository(pool *pgxpool.Pool) *StickerRepository {
	return &StickerRepository{pool: pool}
}

func (r *StickerRepository) Packs(ctx context.Context) (model.StickerPacks, error) {
	defer logger.DeferLogDuration("sticker.Packs", time.Now())()
	packs := BuiltinPacks()
	packs[model.DefaultCustomPack] = []model.Sticker{}
	rows, err := r.pool.Query(ctx, `SELECT pack, url, text FROM stickers ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("stickerRepo.Packs query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pack string
		var s model.Sticker
		if err := rows.Scan(&pack, &s.URL, &s.Text); err != nil {
			return nil, fmt.Errorf("stickerRepo.Packs scan: %w", err)
		}
		packs[pack] = append(packs[pack], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stickerRepo.Packs rows: %w", err)
	}
	return packs, nil
}

func (r *StickerRepository) Add(ctx context.Context, username, pack string, s model.Sticker) error {
	defer logger.DeferLogDuration("sticker.Add", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stickers (pack, url, text, username) VALUES ($1, $2, $3, $4)`,
		pack, s.URL, s.Text, username,
	)
	if err != nil {
		return fmt.Errorf("stickerRepo.Add: %w", err)
	}
	return nil
}

type MemoryStickers struct {
	mu      sync.RWMutex
	uploads model.StickerPacks
}

func NewMemoryStickers() *MemoryStickers {
	return &MemoryStickers{uploads: model.StickerPacks{}}
}

func (r *MemoryStickers) Packs(ctx context.Context) (model.StickerPacks, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	packs := BuiltinPacks()
	packs[model.DefaultCustomPack] = []model.Sticker{}
	for name, list := range r.uploads {
		packs[name] = append(packs[name], list...)
	}
	return packs, nil
}

func (r *MemoryStickers) Add(ctx context.Context, username, pack string, s model.Sticker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[pack] = append(r.uploads[pack], s)
	return nil
}
