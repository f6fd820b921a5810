package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/octoit/octoit/pkg/log"
)

// FetchFunc produces the next snapshot. prev is the last successful
// snapshot, or nil before the first success.
type FetchFunc[T any] func(ctx context.Context, prev *T) (*T, error)

// Options configure a Coordinator.
type Options struct {
	Name     string
	Interval time.Duration
	// RetryInterval is used after a failed refresh instead of Interval when
	// set.
	RetryInterval time.Duration
}

type listener struct {
	id int
	fn func()
}

// Coordinator polls a FetchFunc on an interval and keeps the latest
// successful snapshot. A failed refresh keeps the previous snapshot.
type Coordinator[T any] struct {
	name          string
	fetch         FetchFunc[T]
	interval      time.Duration
	retryInterval time.Duration

	data atomic.Pointer[T]

	mu            sync.Mutex
	attempted     bool
	lastSuccess   bool
	lastSuccessAt time.Time
	lastErr       error
	listeners     []listener
	nextID        int

	refreshMu sync.Mutex
	trigger   chan struct{}
	warnings  *log.Deduper

	now func() time.Time
}

// New returns a Coordinator that has not fetched anything yet.
func New[T any](opts Options, fetch FetchFunc[T]) *Coordinator[T] {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Coordinator[T]{
		name:          opts.Name,
		fetch:         fetch,
		interval:      opts.Interval,
		retryInterval: opts.RetryInterval,
		trigger:       make(chan struct{}, 1),
		warnings:      log.NewDeduper(),
		now:           time.Now,
	}
}

// Name returns the name of the coordinator.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Data returns the latest successful snapshot, or nil.
func (c *Coordinator[T]) Data() *T {
	return c.data.Load()
}

// Seed sets the data before the first refresh, typically from storage. It
// does not count as a successful refresh.
func (c *Coordinator[T]) Seed(data *T) {
	c.data.CompareAndSwap(nil, data)
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastSuccessAt returns when the last successful refresh finished.
func (c *Coordinator[T]) LastSuccessAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccessAt
}

// LastError returns the error of the most recent refresh, if it failed.
func (c *Coordinator[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// AddListener registers fn to be called after every refresh, successful or
// not. Listeners are called in registration order. The returned func removes
// the listener.
func (c *Coordinator[T]) AddListener(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator[T]) notify() {
	c.mu.Lock()
	ls := make([]listener, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()
	for _, l := range ls {
		l.fn()
	}
}

// Refresh fetches a new snapshot now and waits for it. Concurrent calls are
// serialized.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	prev := c.data.Load()
	next, err := c.fetch(ctx, prev)
	if err == nil && next == nil {
		err = errors.New("fetch returned no data")
	}

	c.mu.Lock()
	c.attempted = true
	if err != nil {
		c.lastSuccess = false
		c.lastErr = err
	} else {
		c.lastSuccess = true
		c.lastErr = nil
		c.lastSuccessAt = c.now()
		c.data.Store(next)
	}
	c.mu.Unlock()

	if err != nil {
		c.warnings.Warn(
			ctx,
			c.name,
			"failed to refresh coordinator, keeping previous data",
			slog.String("coordinator", c.name),
			slog.Bool("hasData", prev != nil),
			slog.Any("error", err),
		)
	} else if c.warnings.Reset(c.name) {
		log.Ctx(ctx).InfoContext(ctx, "coordinator recovered", slog.String("coordinator", c.name))
	}

	c.notify()
	return err
}

// RequestRefresh asks Run to refresh as soon as possible without waiting for
// it. Requests made while one is already queued are collapsed.
func (c *Coordinator[T]) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// nextDelay returns how long to wait before the next scheduled refresh.
func (c *Coordinator[T]) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempted && !c.lastSuccess && c.retryInterval > 0 {
		return c.retryInterval
	}
	return c.interval
}

// Run refreshes on the interval until ctx is done. It does not refresh
// immediately; callers do the first refresh with Refresh.
func (c *Coordinator[T]) Run(ctx context.Context) {
	timer := time.NewTimer(c.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-c.trigger:
			log.Ctx(ctx).DebugContext(ctx, "refresh requested", slog.String("coordinator", c.name))
		}
		// the error is already logged
		_ = c.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(c.nextDelay())
	}
}
