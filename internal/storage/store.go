// Package storage keeps the client state that survives restarts.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key was never set.
var ErrNotFound = errors.New("storage: not found")

// KV — хранилище клиентского состояния.
// Реализации: pebble.Client (по умолчанию, на диске), redis.Client, memory.Client (тесты и --storage memory).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
