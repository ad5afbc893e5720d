package runstore

import (
	"errors"
	"testing"
	"time"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProject(t *testing.T, store *Store) *domain.Project {
	t.Helper()
	p := &domain.Project{
		ID:        "proj-1",
		UserID:    "user-1",
		Name:      "shop",
		RepoOwner: "acme",
		RepoName:  "shop",
		RepoURL:   "https://github.com/acme/shop",
		Token:     "tok",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.CreateProject(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func seedRun(t *testing.T, store *Store, id string) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:        id,
		ProjectID: "proj-1",
		Category:  domain.CategoryFullStack,
		Status:    domain.RunQueued,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}
	return run
}

func TestStore_CreateAndGetRun(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunQueued {
		t.Errorf("Status = %s, want QUEUED", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil for a fresh run")
	}
	if got.PRURL != "" || got.ReportURL != "" {
		t.Error("artifact URLs should be empty for a fresh run")
	}
}

func TestStore_GetRun_NotFound(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateRunStatus(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	if err := store.UpdateRunStatus("run-1", domain.RunQueued, domain.RunCloning); err != nil {
		t.Fatal(err)
	}

	// Wrong 'from' status is rejected
	err := store.UpdateRunStatus("run-1", domain.RunQueued, domain.RunCloning)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	// Illegal transition is rejected before touching the database
	if err := store.UpdateRunStatus("run-1", domain.RunCloning, domain.RunComplete); err == nil {
		t.Error("CLONING -> COMPLETE should be rejected")
	}
}

func TestStore_CompleteRun_Atomic(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	for _, step := range []struct{ from, to domain.RunStatus }{
		{domain.RunQueued, domain.RunCloning},
		{domain.RunCloning, domain.RunTesting},
		{domain.RunTesting, domain.RunReporting},
	} {
		if err := store.UpdateRunStatus("run-1", step.from, step.to); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now()
	if err := store.CompleteRun("run-1", "https://github.com/acme/shop/pull/7", "reports/run-1.md", now); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunComplete {
		t.Errorf("Status = %s, want COMPLETE", got.Status)
	}
	if got.PRURL == "" || got.ReportURL == "" {
		t.Error("COMPLETE run must carry both artifact references")
	}
	if got.CompletedAt == nil {
		t.Error("COMPLETE run must carry a completion timestamp")
	}
}

func TestStore_CompleteRun_RequiresReporting(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	err := store.CompleteRun("run-1", "pr", "report", time.Now())
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict for a QUEUED run", err)
	}
}

func TestStore_FailRun(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	if err := store.UpdateRunStatus("run-1", domain.RunQueued, domain.RunCloning); err != nil {
		t.Fatal(err)
	}
	if err := store.FailRun("run-1", time.Now()); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetRun("run-1")
	if got.Status != domain.RunFailed {
		t.Errorf("Status = %s, want FAILED", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("FAILED run must carry a completion timestamp")
	}

	// Failing again is a no-op on a terminal run
	before := *got.CompletedAt
	if err := store.FailRun("run-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetRun("run-1")
	if !got.CompletedAt.Equal(before) {
		t.Error("FailRun must not touch an already-terminal run")
	}
}

func TestStore_FailRun_KeepsReportURL(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	if err := store.SetReportURL("run-1", "reports/run-1.md"); err != nil {
		t.Fatal(err)
	}
	if err := store.FailRun("run-1", time.Now()); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetRun("run-1")
	if got.ReportURL != "reports/run-1.md" {
		t.Error("published report reference must survive a delivery failure")
	}
}

func TestStore_ListRuns_Filters(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")
	seedRun(t, store, "run-2")
	if err := store.UpdateRunStatus("run-2", domain.RunQueued, domain.RunCloning); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListRuns(ListOptions{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("runs = %d, want 2", len(all))
	}

	cloning, err := store.ListRuns(ListOptions{Status: domain.RunCloning})
	if err != nil {
		t.Fatal(err)
	}
	if len(cloning) != 1 || cloning[0].ID != "run-2" {
		t.Errorf("cloning runs = %v", cloning)
	}

	none, err := store.ListRuns(ListOptions{UserID: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("runs for other user = %d, want 0", len(none))
	}
}

func TestStore_FailStaleRuns(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)

	old := &domain.Run{
		ID:        "run-old",
		ProjectID: "proj-1",
		Category:  domain.CategoryFullStack,
		Status:    domain.RunTesting,
		StartedAt: time.Now().Add(-3 * time.Hour),
	}
	if err := store.CreateRun(old); err != nil {
		t.Fatal(err)
	}
	seedRun(t, store, "run-fresh")

	n, err := store.FailStaleRuns(time.Now().Add(-2*time.Hour), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	got, _ := store.GetRun("run-old")
	if got.Status != domain.RunFailed || got.CompletedAt == nil {
		t.Errorf("stale run = %s, want FAILED with timestamp", got.Status)
	}
	fresh, _ := store.GetRun("run-fresh")
	if fresh.Status != domain.RunQueued {
		t.Errorf("fresh run = %s, want untouched QUEUED", fresh.Status)
	}
}

func TestStore_Logs(t *testing.T) {
	store := newStore(t)
	seedProject(t, store)
	seedRun(t, store, "run-1")

	if err := store.AppendLog("run-1", "info", "cloning repository"); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendLog("run-1", "error", "clone failed"); err != nil {
		t.Fatal(err)
	}

	logs, err := store.GetLogs("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].Message != "cloning repository" || logs[1].Level != "error" {
		t.Errorf("unexpected log order: %+v", logs)
	}
}
