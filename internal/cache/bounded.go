// Package cache holds the client's small in-memory caches.
package cache

import "sync"

// Bounded is a map with a hard capacity. Inserting a new key into a full
// cache clears it first; there is no per-entry eviction.
type Bounded[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]V
	clears   int
}

func NewBounded[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[K, V]{capacity: capacity, items: make(map[K]V, capacity)}
}

func (b *Bounded[K, V]) Get(k K) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items[k]
	return v, ok
}

func (b *Bounded[K, V]) Put(k K, v V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[k]; !ok && len(b.items) >= b.capacity {
		b.items = make(map[K]V, b.capacity)
		b.clears++
	}
	b.items[k] = v
}

func (b *Bounded[K, V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clears returns how many times the cache was emptied for capacity.
func (b *Bounded[K, V]) Clears() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clears
}

func (b *Bounded[K, V]) Reset() {
	b.mu.Lock()
	b.items = make(map[K]V, b.capacity)
	b.mu.Unlock()
}
