package pebble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/duochat/internal/storage"
)

type Client struct {
	db *pebble.DB
}

// New opens (or creates) the database directory at path.
func New(path string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("pebble mkdir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, closer, err := c.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	return c.db.Set([]byte(key), value, pebble.Sync)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.db.Delete([]byte(key), pebble.Sync)
}
