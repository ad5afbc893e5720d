package domain

import (
	"fmt"
	"time"
)

// Run is the durable unit of work: one autonomous remediation job
// against one repository. Created QUEUED by the enqueue boundary and
// exclusively mutated by the orchestrator afterwards.
type Run struct {
	ID          string
	ProjectID   string
	Category    RunCategory
	Status      RunStatus
	JobHandle   string // dispatcher handle for the async execution
	PRURL       string // set at delivery
	ReportURL   string // set at report publication
	StartedAt   time.Time
	CompletedAt *time.Time
}

// BranchName returns the deterministic branch the run's fixes are
// delivered on. Derived from the run identity so a re-entrant delivery
// attempt targets the same branch instead of minting a new one.
func (r *Run) BranchName() string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("applaude-fixes-%s", id)
}

// Duration returns elapsed wall time, up to now for unfinished runs
func (r *Run) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Project represents a connected repository owned by one user
type Project struct {
	ID        string
	UserID    string
	Name      string
	RepoOwner string
	RepoName  string
	RepoURL   string
	Token     string // per-user source-control credential
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fix records one debugging attempt on a failing file
type Fix struct {
	Path     string
	Log      string // failure log that triggered the fix
	Diff     string // rendered view of the applied change
	Resolved bool   // re-verification outcome
}

// LogEntry is an operator-facing log line attached to a run
type LogEntry struct {
	ID        int
	RunID     string
	Timestamp time.Time
	Level     string
	Message   string
}
