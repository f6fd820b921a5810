package entity

import (
	"sync"
	"time"
)

type pendingValue struct {
	value any
	since time.Time
}

// Pending holds optimistic values of control entities until a refresh shows
// them or they time out.
type Pending struct {
	mu      sync.Mutex
	timeout time.Duration
	values  map[string]pendingValue
	now     func() time.Time
}

// NewPending returns an empty Pending.
func NewPending(timeout time.Duration) *Pending {
	return &Pending{
		timeout: timeout,
		values:  make(map[string]pendingValue),
		now:     time.Now,
	}
}

// Set marks value as pending for the entity.
func (p *Pending) Set(uniqueID string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[uniqueID] = pendingValue{value: value, since: p.now()}
}

// Clear drops the pending value of the entity.
func (p *Pending) Clear(uniqueID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, uniqueID)
}

// Resolve returns the value to publish given the confirmed value and
// whether it is still pending. A pending value is dropped once actual
// matches it or the timeout passed.
func (p *Pending) Resolve(uniqueID string, actual any, known bool) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pv, ok := p.values[uniqueID]
	if !ok {
		return actual, false
	}
	if p.timeout > 0 && p.now().Sub(pv.since) >= p.timeout {
		delete(p.values, uniqueID)
		return actual, false
	}
	if known && sameValue(actual, pv.value) {
		delete(p.values, uniqueID)
		return actual, false
	}
	return pv.value, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func sameValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}
