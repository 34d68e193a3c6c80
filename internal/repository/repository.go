// Package repository stores the relay's messages and stickers.
// Each store has a Postgres (pgx) implementation and an in-memory one for
// runs without a database.
package repository

import (
	"context"
	"errors"

	"github.com/duochat/internal/model"
)

var ErrNotFound = errors.New("not found")

type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// MarkDeleted turns the message into the deleted placeholder.
	MarkDeleted(ctx context.Context, id string) error
	// Page returns page n (1 = newest) in chronological order and whether older pages exist.
	Page(ctx context.Context, n, size int) ([]model.Message, bool, error)
}

type Stickers interface {
	// Packs returns every pack, built-in and uploaded.
	Packs(ctx context.Context) (model.StickerPacks, error)
	Add(ctx context.Context, username, pack string, s model.Sticker) error
}

// pageBounds returns the offset for page n, clamping n to 1.
func pageBounds(n, size int) (offset int) {
	if n < 1 {
		n = 1
	}
	return (n - 1) * size
}
