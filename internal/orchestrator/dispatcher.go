package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ErrQueueFull indicates the dispatch queue has no room; the caller
// surfaces this to the user instead of blocking the request.
var ErrQueueFull = errors.New("run queue is full")

// Dispatcher feeds queued runs into a bounded slot pool. Phases never
// overlap within a run; runs across the pool have no ordering
// guarantee.
type Dispatcher struct {
	orch  *Orchestrator
	pool  *Pool
	queue chan string
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher with maxParallel concurrent runs
// and a queue of queueDepth waiting runs.
func NewDispatcher(orch *Orchestrator, maxParallel, queueDepth int) *Dispatcher {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	return &Dispatcher{
		orch:  orch,
		pool:  NewPool(maxParallel),
		queue: make(chan string, queueDepth),
	}
}

// Enqueue submits a run for execution without blocking
func (d *Dispatcher) Enqueue(runID string) error {
	select {
	case d.queue <- runID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pool exposes slot availability for status surfaces
func (d *Dispatcher) Pool() *Pool {
	return d.pool
}

// Run consumes the queue until the context is cancelled, then waits
// for in-flight runs to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case runID := <-d.queue:
			if err := d.pool.Acquire(ctx); err != nil {
				return err
			}
			d.wg.Add(1)
			go func(id string) {
				defer d.wg.Done()
				defer d.pool.Release()
				// The dispatch handle stands in for the external job ID
				// a remote queue would assign.
				if err := d.orch.store.SetJobHandle(id, uuid.NewString()); err != nil {
					log.Printf("[dispatcher] run %s: record handle: %v", id, err)
				}
				if err := d.orch.Execute(ctx, id); err != nil {
					log.Printf("[dispatcher] run %s: %v", id, err)
				}
			}(runID)
		}
	}
}
