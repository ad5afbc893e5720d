package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/testexec"
)

func TestPool_AcquireRelease(t *testing.T) {
	p := NewPool(2)

	if !p.TryAcquire() || !p.TryAcquire() {
		t.Fatal("two slots should be available")
	}
	if p.TryAcquire() {
		t.Error("third acquire should fail")
	}
	p.Release()
	if p.Available() != 1 {
		t.Errorf("available = %d, want 1", p.Available())
	}
	if !p.TryAcquire() {
		t.Error("released slot should be acquirable")
	}
}

func TestPool_ReleaseNeverExceedsCapacity(t *testing.T) {
	p := NewPool(1)
	p.Release()
	p.Release()
	if p.Available() != 1 {
		t.Errorf("available = %d, want 1", p.Available())
	}
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	p := NewPool(1)
	if !p.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- p.Acquire(context.Background())
	}()

	select {
	case <-acquired:
		t.Fatal("acquire must block while the pool is exhausted")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release()
	select {
	case err := <-acquired:
		if err != nil {
			t.Errorf("acquire after release = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("release did not wake the waiter")
	}
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	p := NewPool(1)
	p.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDispatcher_EnqueueNonBlocking(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.orch, 1, 1)

	if err := d.Enqueue("run-1"); err != nil {
		t.Fatal(err)
	}
	if err := d.Enqueue("run-2"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

// gateRunner counts concurrent suite executions
type gateRunner struct {
	inner testexec.Runner
	mu    sync.Mutex
	cur   int
	peak  int
}

func (g *gateRunner) RunSuite(ctx context.Context, workspaceDir, suitePath string) (*testexec.Result, error) {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
	return g.inner.RunSuite(ctx, workspaceDir, suitePath)
}

func (g *gateRunner) Verify(ctx context.Context, workspaceDir, path string) (*testexec.Verification, error) {
	return g.inner.Verify(ctx, workspaceDir, path)
}

func TestDispatcher_HonorsSlotLimit(t *testing.T) {
	f := newFixture(t)
	gate := &gateRunner{inner: f.runner}
	f.orch.runner = gate

	runIDs := []string{f.run.ID}
	for _, id := range []string{"run-dddd1111", "run-eeee2222"} {
		run := &domain.Run{
			ID:        id,
			ProjectID: "proj-1",
			Category:  domain.CategoryFullStack,
			Status:    domain.RunQueued,
			StartedAt: time.Now().UTC(),
		}
		if err := f.store.CreateRun(run); err != nil {
			t.Fatal(err)
		}
		runIDs = append(runIDs, id)
	}

	d := NewDispatcher(f.orch, 1, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, id := range runIDs {
		if err := d.Enqueue(id); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		terminal := 0
		for _, id := range runIDs {
			run, err := f.store.GetRun(id)
			if err != nil {
				t.Fatal(err)
			}
			if run.Status.IsTerminal() {
				terminal++
			}
		}
		if terminal == len(runIDs) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("runs did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	gate.mu.Lock()
	defer gate.mu.Unlock()
	if gate.peak > 1 {
		t.Errorf("peak concurrency = %d, want 1", gate.peak)
	}
}
