package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrConflict is returned when a guarded update matched no row, meaning
// the run was not in the expected status. The orchestrator treats this
// as a bug: it is the only writer of a run after creation.
var ErrConflict = errors.New("run not in expected status")

// ErrNotFound is returned when a run or project does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed run and project persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection keeps in-memory databases coherent and
	// serializes writers, which sqlite requires anyway.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so the ledger can share one database
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateProject inserts a project
func (s *Store) CreateProject(p *domain.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, user_id, name, repo_owner, repo_name, repo_url, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.RepoOwner, p.RepoName, p.RepoURL, p.Token, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID
func (s *Store) GetProject(id string) (*domain.Project, error) {
	var p domain.Project
	err := s.db.QueryRow(`
		SELECT id, user_id, name, repo_owner, repo_name, repo_url, token, created_at, updated_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.UserID, &p.Name, &p.RepoOwner, &p.RepoName, &p.RepoURL, &p.Token, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateRun inserts a run in its initial status
func (s *Store) CreateRun(run *domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, project_id, category, status, job_handle, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.ProjectID, string(run.Category), string(run.Status), run.JobHandle, run.StartedAt)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, category, status, job_handle, pr_url, report_url, started_at, completed_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	ProjectID string
	UserID    string
	Status    domain.RunStatus
}

// ListRuns returns runs matching the given options, newest first
func (s *Store) ListRuns(opts ListOptions) ([]*domain.Run, error) {
	query := `
		SELECT r.id, r.project_id, r.category, r.status, r.job_handle, r.pr_url, r.report_url, r.started_at, r.completed_at
		FROM runs r JOIN projects p ON p.id = r.project_id WHERE 1=1`
	var args []interface{}

	if opts.ProjectID != "" {
		query += " AND r.project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.UserID != "" {
		query += " AND p.user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.Status != "" {
		query += " AND r.status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY r.started_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus advances a run from one status to another. The guard
// on the previous status keeps transitions strictly ordered even if a
// second writer ever slipped in.
func (s *Store) UpdateRunStatus(id string, from, to domain.RunStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	res, err := s.db.Exec(`UPDATE runs SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s (%s -> %s)", ErrConflict, id, from, to)
	}
	return nil
}

// SetJobHandle records the dispatcher handle for status polling
func (s *Store) SetJobHandle(id, handle string) error {
	_, err := s.db.Exec(`UPDATE runs SET job_handle = ? WHERE id = ?`, handle, id)
	return err
}

// SetReportURL records the published report reference. Written as soon
// as publication succeeds so a later delivery failure still leaves the
// reference visible on the FAILED run.
func (s *Store) SetReportURL(id, url string) error {
	_, err := s.db.Exec(`UPDATE runs SET report_url = ? WHERE id = ?`, url, id)
	return err
}

// CompleteRun writes the terminal success state: both artifact
// references, COMPLETE, and the completion timestamp in one statement,
// so a poller never observes COMPLETE without its artifacts.
func (s *Store) CompleteRun(id, prURL, reportURL string, completedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, pr_url = ?, report_url = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.RunComplete), prURL, reportURL, completedAt, id, string(domain.RunReporting))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s (complete)", ErrConflict, id)
	}
	return nil
}

// FailRun forces a non-terminal run to FAILED with a completion
// timestamp. Already-terminal runs are left untouched.
func (s *Store) FailRun(id string, completedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, string(domain.RunFailed), completedAt, id,
		string(domain.RunComplete), string(domain.RunFailed))
	return err
}

// FailStaleRuns marks non-terminal runs that started before the cutoff
// as FAILED. Used by the reconciliation sweep for runs abandoned by a
// killed worker process. Returns the number of runs swept.
func (s *Store) FailStaleRuns(cutoff, completedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?
		WHERE status NOT IN (?, ?) AND started_at < ?
	`, string(domain.RunFailed), completedAt,
		string(domain.RunComplete), string(domain.RunFailed), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendLog attaches an operator-facing log line to a run
func (s *Store) AppendLog(runID, level, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, timestamp, level, message) VALUES (?, ?, ?, ?)
	`, runID, time.Now(), level, message)
	return err
}

// GetLogs returns all log lines for a run in insertion order
func (s *Store) GetLogs(runID string) ([]*domain.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message FROM run_logs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func scanRun(scan func(dest ...interface{}) error) (*domain.Run, error) {
	var run domain.Run
	var category, status string
	var jobHandle, prURL, reportURL sql.NullString
	var completedAt sql.NullTime

	err := scan(&run.ID, &run.ProjectID, &category, &status, &jobHandle, &prURL, &reportURL, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.Category = domain.RunCategory(category)
	run.Status = domain.RunStatus(status)
	run.JobHandle = jobHandle.String
	run.PRURL = prURL.String
	run.ReportURL = reportURL.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}
