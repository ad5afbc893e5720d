// Package maintenance runs periodic housekeeping against the run
// store. There is no user-facing cancellation; runs that stopped
// making progress are swept to FAILED so they never occupy a slot or
// a credit indefinitely.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the slice of the run store the sweeper needs
type Store interface {
	FailStaleRuns(cutoff, completedAt time.Time) (int64, error)
}

// Sweeper fails runs whose last status change is older than the
// staleness threshold.
type Sweeper struct {
	store      Store
	staleAfter time.Duration
	schedule   cron.Schedule
}

// NewSweeper parses the cron expression (standard 5-field form) and
// builds the sweeper.
func NewSweeper(store Store, staleAfter time.Duration, cronExpr string) (*Sweeper, error) {
	if staleAfter <= 0 {
		return nil, fmt.Errorf("staleness threshold must be positive, got %s", staleAfter)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep cron %q: %w", cronExpr, err)
	}
	return &Sweeper{store: store, staleAfter: staleAfter, schedule: sched}, nil
}

// SweepOnce fails all runs stale as of now and returns how many were
// swept.
func (s *Sweeper) SweepOnce(now time.Time) (int64, error) {
	swept, err := s.store.FailStaleRuns(now.Add(-s.staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	if swept > 0 {
		log.Printf("[sweeper] failed %d stale run(s)", swept)
	}
	return swept, nil
}

// Run sweeps on the configured schedule until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case now := <-timer.C:
			if _, err := s.SweepOnce(now); err != nil {
				log.Printf("[sweeper] %v", err)
			}
		}
	}
}
