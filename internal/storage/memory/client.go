package memory

import (
	"context"
	"sync"

	"github.com/duochat/internal/storage"
)

type Client struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func New() *Client {
	return &Client{items: make(map[string][]byte)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = append([]byte(nil), value...)
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}
