package ledger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLedger_Reserve_NoSubscription(t *testing.T) {
	l := newLedger(t)
	if _, err := l.Reserve("user-1"); !errors.Is(err, ErrInsufficientCredit) {
		t.Errorf("err = %v, want ErrInsufficientCredit", err)
	}
}

func TestLedger_ReserveAndRelease(t *testing.T) {
	l := newLedger(t)
	if err := l.ApplyPayment("txn-1", "user-1", "WEEKLY"); err != nil {
		t.Fatal(err)
	}

	r, err := l.Reserve("user-1")
	if err != nil {
		t.Fatal(err)
	}

	e, err := l.Get("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.RunsRemaining != 19 {
		t.Errorf("RunsRemaining = %d, want 19", e.RunsRemaining)
	}

	// Compensating release restores exactly one credit
	if err := l.Release(r); err != nil {
		t.Fatal(err)
	}
	e, _ = l.Get("user-1")
	if e.RunsRemaining != 20 {
		t.Errorf("RunsRemaining after release = %d, want 20", e.RunsRemaining)
	}

	// Releasing the same reservation again is a no-op
	if err := l.Release(r); err != nil {
		t.Fatal(err)
	}
	e, _ = l.Get("user-1")
	if e.RunsRemaining != 20 {
		t.Errorf("RunsRemaining after double release = %d, want 20", e.RunsRemaining)
	}
}

func TestLedger_Reserve_Exhaustion(t *testing.T) {
	l := newLedger(t)
	if err := l.ApplyPayment("txn-1", "user-1", "WEEKLY"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		if _, err := l.Reserve("user-1"); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	if _, err := l.Reserve("user-1"); !errors.Is(err, ErrInsufficientCredit) {
		t.Errorf("err = %v, want ErrInsufficientCredit after exhaustion", err)
	}
}

func TestLedger_Reserve_Concurrent(t *testing.T) {
	l := newLedger(t)
	if err := l.ApplyPayment("txn-1", "user-1", "WEEKLY"); err != nil {
		t.Fatal(err)
	}

	const attempts = 50 // quota is 20

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve("user-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientCredit):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if ok != 20 {
		t.Errorf("successful reservations = %d, want 20", ok)
	}
	if insufficient != attempts-20 {
		t.Errorf("rejected reservations = %d, want %d", insufficient, attempts-20)
	}

	e, err := l.Get("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.RunsRemaining != 0 {
		t.Errorf("RunsRemaining = %d, want 0", e.RunsRemaining)
	}
}

func TestLedger_ApplyPayment_Idempotent(t *testing.T) {
	l := newLedger(t)
	if err := l.ApplyPayment("txn-1", "user-1", "MONTHLY"); err != nil {
		t.Fatal(err)
	}

	// Spend a credit, then replay the same notification
	if _, err := l.Reserve("user-1"); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyPayment("txn-1", "user-1", "MONTHLY"); err != nil {
		t.Fatal(err)
	}

	e, err := l.Get("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.RunsRemaining != 49 {
		t.Errorf("RunsRemaining = %d, want 49 (replay must not re-credit)", e.RunsRemaining)
	}

	// A new transaction reference does refresh the quota
	if err := l.ApplyPayment("txn-2", "user-1", "MONTHLY"); err != nil {
		t.Fatal(err)
	}
	e, _ = l.Get("user-1")
	if e.RunsRemaining != 50 {
		t.Errorf("RunsRemaining = %d, want 50 after renewal", e.RunsRemaining)
	}
}

func TestLedger_ApplyPayment_UnknownPlan(t *testing.T) {
	l := newLedger(t)
	if err := l.ApplyPayment("txn-1", "user-1", "LIFETIME"); err == nil {
		t.Error("unknown plan should be rejected")
	}
}

func TestLookupPlan(t *testing.T) {
	p, ok := LookupPlan("YEARLY")
	if !ok || p.Runs != 600 {
		t.Errorf("LookupPlan(YEARLY) = %+v, %v", p, ok)
	}
	if _, ok := LookupPlan("nope"); ok {
		t.Error("LookupPlan(nope) should miss")
	}
}
