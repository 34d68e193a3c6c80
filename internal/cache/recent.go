package cache

import "sync"

const DefaultRecent = 12

// Recent is a most-recently-used list of distinct values, newest first.
type Recent struct {
	mu    sync.Mutex
	limit int
	items []string
}

func NewRecent(limit int, initial []string) *Recent {
	if limit <= 0 {
		limit = DefaultRecent
	}
	r := &Recent{limit: limit}
	for i := len(initial) - 1; i >= 0; i-- {
		r.push(initial[i])
	}
	return r
}

// Push moves v to the front and returns the resulting list.
func (r *Recent) Push(v string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.push(v)
	return r.list()
}

func (r *Recent) push(v string) {
	if v == "" {
		return
	}
	out := make([]string, 0, len(r.items)+1)
	out = append(out, v)
	for _, it := range r.items {
		if it != v {
			out = append(out, it)
		}
	}
	if len(out) > r.limit {
		out = out[:r.limit]
	}
	r.items = out
}

func (r *Recent) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list()
}

func (r *Recent) list() []string {
	return append([]string(nil), r.items...)
}
