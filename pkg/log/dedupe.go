package log

import (
	"context"
	"log/slog"
	"sync"
)

// Deduper logs the first occurrence of a key at warn level and every repeat
// at debug level until the key is reset.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Warn logs msg at warn level the first time key is seen and at debug level
// afterwards. It returns true if the message was logged at warn level.
func (d *Deduper) Warn(ctx context.Context, key, msg string, attrs ...slog.Attr) bool {
	d.mu.Lock()
	_, repeat := d.seen[key]
	if !repeat {
		d.seen[key] = struct{}{}
	}
	d.mu.Unlock()

	level := slog.LevelWarn
	if repeat {
		level = slog.LevelDebug
	}
	Ctx(ctx).LogAttrs(ctx, level, msg, attrs...)
	return !repeat
}

// Reset forgets key so the next Warn for it is logged at warn level again.
// It returns true if the key had been seen.
func (d *Deduper) Reset(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	delete(d.seen, key)
	return ok
}
