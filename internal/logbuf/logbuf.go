// Package logbuf keeps the daemon's most recent log records in memory so
// operators can read them over the API without shell access.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured record. The "component" attribute is lifted out of
// Attrs.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     slog.Level     `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Query selects entries. Zero fields impose no constraint; MinLevel's zero
// value is INFO, so pass slog.LevelDebug to see everything.
type Query struct {
	Since     time.Time
	MinLevel  slog.Level
	Component string
	Limit     int // newest Limit entries; 0 = all
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	pos     int
	count   int
}

// New creates a buffer holding up to size entries.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Write appends an entry, overwriting the oldest when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
	b.mu.Unlock()
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Query returns matching entries, oldest first.
func (b *Buffer) Query(q Query) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == len(b.entries) {
		start = b.pos
	}
	var out []Entry
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%len(b.entries)]
		switch {
		case !q.Since.IsZero() && e.Time.Before(q.Since),
			e.Level < q.MinLevel,
			q.Component != "" && e.Component != q.Component:
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}
