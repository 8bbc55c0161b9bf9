package audit

import (
	"context"
	"log"
)

// Logger fans one audit entry out to the in-memory tail and, when
// configured, the durable store. Store writes are best-effort: an outage
// degrades history depth, never the administrative action itself.
type Logger struct {
	tail  *Tail
	store *Store // may be nil
}

// NewLogger creates a Logger. The store may be nil, in which case only the
// in-memory tail is maintained.
func NewLogger(tail *Tail, store *Store) *Logger {
	if tail == nil {
		tail = NewTail(DefaultTailSize)
	}
	return &Logger{tail: tail, store: store}
}

// Record logs one administrative action.
func (l *Logger) Record(ctx context.Context, e Entry) {
	l.tail.Add(e)
	if l.store == nil {
		return
	}
	if err := l.store.Record(ctx, e); err != nil {
		log.Printf("audit: durable record failed: %v (degraded)", err)
	}
}

// Recent returns recent entries, newest first. It prefers the durable store
// for depth and falls back to the in-memory tail when the store is absent
// or failing.
func (l *Logger) Recent(ctx context.Context, limit int) []Entry {
	if l.store != nil {
		entries, err := l.store.ListRecent(ctx, limit)
		if err == nil {
			return entries
		}
		log.Printf("audit: durable list failed: %v (serving tail)", err)
	}
	entries := l.tail.Recent()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
