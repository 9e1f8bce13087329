// Package ratelimit provides the per-address write-rate gate. Two backends
// implement the same Gate contract: an in-process sliding window (exact) and
// a Redis fixed window (shared across replicas, fail-open).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Gate admits or rejects a write attempt for a caller address.
type Gate interface {
	// Allow records an attempt for addr and reports whether it is admitted.
	// retryAfter is meaningful only when allowed is false.
	Allow(ctx context.Context, addr string) (allowed bool, retryAfter time.Duration, err error)

	// Sweep drops tracking state that can no longer influence a decision.
	Sweep(ctx context.Context)
}

// MemoryGate is an exact sliding-window gate: at most Limit admitted
// attempts per address within any window of length Window. Rejected attempts
// are not recorded, so rejections never extend a caller's lockout.
type MemoryGate struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	hits  map[string][]time.Time
	clock func() time.Time
}

// NewMemoryGate constructs an in-process sliding-window gate.
func NewMemoryGate(limit int, window time.Duration) *MemoryGate {
	return &MemoryGate{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		clock:  time.Now,
	}
}

// Allow implements Gate. It never returns an error.
func (g *MemoryGate) Allow(_ context.Context, addr string) (bool, time.Duration, error) {
	now := g.clock()
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	recent := g.hits[addr][:0]
	for _, t := range g.hits[addr] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= g.limit {
		g.hits[addr] = recent
		// The window frees up when the oldest surviving hit ages out.
		return false, recent[0].Sub(cutoff), nil
	}

	g.hits[addr] = append(recent, now)
	return true, 0, nil
}

// Sweep removes addresses whose every recorded hit has aged out of the
// window. Run periodically so idle addresses do not accumulate.
func (g *MemoryGate) Sweep(_ context.Context) {
	cutoff := g.clock().Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	for addr, ts := range g.hits {
		live := false
		for _, t := range ts {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(g.hits, addr)
		}
	}
}
