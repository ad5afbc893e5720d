package orchestrator

import (
	"context"
	"sync"
)

// Pool manages a fixed number of run slots. Waiters block in Acquire
// until a slot frees, so the dispatcher needs no polling loop.
type Pool struct {
	maxRuns   int
	available int
	mu        sync.Mutex
	wake      chan struct{}
}

// NewPool creates a pool with the given capacity
func NewPool(maxRuns int) *Pool {
	return &Pool{
		maxRuns:   maxRuns,
		available: maxRuns,
		wake:      make(chan struct{}, 1),
	}
}

// TryAcquire claims a run slot without blocking. Returns true if successful.
func (p *Pool) TryAcquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available <= 0 {
		return false
	}
	p.available--
	return true
}

// Acquire blocks until a run slot is claimed or the context ends.
func (p *Pool) Acquire(ctx context.Context) error {
	for {
		if p.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
	}
}

// Release returns a run slot to the pool and wakes one waiter.
func (p *Pool) Release() {
	p.mu.Lock()
	if p.available < p.maxRuns {
		p.available++
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// MaxRuns returns the pool capacity.
func (p *Pool) MaxRuns() int {
	return p.maxRuns
}
