package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/duochat/internal/model"
)

// MemoryMessages keeps the log in insertion order.
type MemoryMessages struct {
	mu    sync.RWMutex
	log   []model.Message
	index map[string]int
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{index: make(map[string]int)}
}

func (r *MemoryMessages) Create(ctx context.Context, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[m.ID]; ok {
		return fmt.Errorf("msgRepo.Create: duplicate id %s", m.ID)
	}
	r.index[m.ID] = len(r.log)
	r.log = append(r.log, *m)
	return nil
}

func (r *MemoryMessages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := r.log[i]
	return &m, nil
}

func (r *MemoryMessages) MarkDeleted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	r.log[i].Kind = model.KindDeleted
	r.log[i].Text = model.DeletedPlaceholder
	return nil
}

func (r *MemoryMessages) Page(ctx context.Context, n, size int) ([]model.Message, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	offset := pageBounds(n, size)
	end := len(r.log) - offset
	if end <= 0 {
		return []model.Message{}, false, nil
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	out := make([]model.Message, end-start)
	copy(out, r.log[start:end])
	return out, start > 0, nil
}
