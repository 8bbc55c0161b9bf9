package audit

import "sync"

// DefaultTailSize is the number of recent entries the in-memory tail keeps.
const DefaultTailSize = 64

// Tail keeps the most recent audit entries in memory. It is goroutine-safe
// and uses a ring buffer internally, so a busy admin session never grows it.
type Tail struct {
	mu    sync.RWMutex
	items []Entry
	pos   int
	count int
}

// NewTail creates a Tail holding up to size entries. A non-positive size
// falls back to DefaultTailSize.
func NewTail(size int) *Tail {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Tail{items: make([]Entry, size)}
}

// Add appends an entry. If the buffer is full, the oldest entry is
// overwritten.
func (t *Tail) Add(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items[t.pos] = e
	t.pos = (t.pos + 1) % len(t.items)
	if t.count < len(t.items) {
		t.count++
	}
}

// Recent returns the retained entries newest first.
func (t *Tail) Recent() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, t.count)
	// Newest entry is at position pos-1; walk backwards from there.
	for i := 0; i < t.count; i++ {
		out[i] = t.items[(t.pos-1-i+len(t.items))%len(t.items)]
	}
	return out
}

// Len returns the number of retained entries.
func (t *Tail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}
