// Package orchestrator drives a remediation run through its phases:
// clone, test generation, external execution, debugging, reporting,
// and delivery. Every status transition is persisted before the next
// phase starts, so pollers and the event hub never observe a run
// ahead of the store.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/gitops"
	"github.com/applaudehq/applaude-orchestrator/internal/notify"
	"github.com/applaudehq/applaude-orchestrator/internal/reports"
	"github.com/applaudehq/applaude-orchestrator/internal/runstore"
	"github.com/applaudehq/applaude-orchestrator/internal/testexec"
)

// suitePath is where the generated suite is staged inside a workspace
const suitePath = ".applaude/test_suite.py"

// Workspace is a cloned repository a run operates on
type Workspace interface {
	Root() string
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	Summarize() (*gitops.Summary, error)
	CommitAndPush(ctx context.Context, branch, message string) error
	Discard() error
}

// SourceClient performs source-control operations with one user's
// credential.
type SourceClient interface {
	Clone(ctx context.Context, repoURL, runID string) (Workspace, error)
	OpenPullRequest(ctx context.Context, owner, repo, branch, base, title, body string) (string, error)
}

// SourceFactory builds a source client scoped to one credential
type SourceFactory func(token string) SourceClient

// GitSourceFactory is the production factory backed by gitops
func GitSourceFactory(workDir string) SourceFactory {
	return func(token string) SourceClient {
		return &gitSource{client: gitops.NewClient(token, workDir)}
	}
}

type gitSource struct {
	client *gitops.Client
}

func (g *gitSource) Clone(ctx context.Context, repoURL, runID string) (Workspace, error) {
	ws, err := g.client.Clone(ctx, repoURL, runID)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (g *gitSource) OpenPullRequest(ctx context.Context, owner, repo, branch, base, title, body string) (string, error) {
	return g.client.OpenPullRequest(ctx, owner, repo, branch, base, title, body)
}

// Gateway is the slice of the generation gateway the orchestrator uses
type Gateway interface {
	PlanTests(ctx context.Context, summary, manifest, category string) (string, error)
	FixFile(ctx context.Context, path, errorLog, content string) (string, error)
	Summarize(ctx context.Context, runLog string, fixCount int) (string, error)
}

// Orchestrator executes runs end to end
type Orchestrator struct {
	store      *runstore.Store
	gateway    Gateway
	runner     testexec.Runner
	reports    reports.Store
	source     SourceFactory
	notifier   notify.Notifier
	baseBranch string
	onStatus   func(run *domain.Run)
}

// New wires an orchestrator. notifier may be nil.
func New(store *runstore.Store, gw Gateway, runner testexec.Runner, reportStore reports.Store, source SourceFactory, notifier notify.Notifier, baseBranch string) *Orchestrator {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &Orchestrator{
		store:      store,
		gateway:    gw,
		runner:     runner,
		reports:    reportStore,
		source:     source,
		notifier:   notifier,
		baseBranch: baseBranch,
	}
}

// SetStatusCallback registers a callback fired after every persisted
// status change. Must be set before runs start.
func (o *Orchestrator) SetStatusCallback(fn func(run *domain.Run)) {
	o.onStatus = fn
}

// outcome is the explicit result of one phase. Exactly one of next or
// terminal applies when err is nil.
type outcome struct {
	next     domain.RunStatus
	terminal bool
	err      error
}

// runState carries everything a run accumulates across phases
type runState struct {
	run     *domain.Run
	project *domain.Project
	src     SourceClient
	ws      Workspace
	summary *gitops.Summary
	result  *testexec.Result
	fixes   []domain.Fix
	logBuf  strings.Builder
}

// resolvedCounts reports applied fixes that passed and failed
// re-verification.
func (st *runState) resolvedCounts() (resolved, unresolved int) {
	for _, f := range st.fixes {
		if f.Resolved {
			resolved++
		} else {
			unresolved++
		}
	}
	return resolved, unresolved
}

// Execute drives one run from QUEUED to a terminal status. Any error
// or panic leaves the run persisted as FAILED.
func (o *Orchestrator) Execute(ctx context.Context, runID string) (err error) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	project, err := o.store.GetProject(run.ProjectID)
	if err != nil {
		return fmt.Errorf("load project for run %s: %w", runID, err)
	}
	st := &runState{run: run, project: project}

	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("panic: %v", r)
			o.fail(st, panicErr)
			err = panicErr
		}
		if st.ws != nil {
			if derr := st.ws.Discard(); derr != nil {
				log.Printf("[run %s] discard workspace: %v", runID, derr)
			}
		}
	}()

	for {
		var out outcome
		switch st.run.Status {
		case domain.RunQueued:
			out = outcome{next: domain.RunCloning}
		case domain.RunCloning:
			out = o.clonePhase(ctx, st)
		case domain.RunTesting:
			out = o.testingPhase(ctx, st)
		case domain.RunDebugging:
			out = o.debugPhase(ctx, st)
		case domain.RunReporting:
			out = o.reportPhase(ctx, st)
		default:
			return nil
		}

		if out.err != nil {
			return o.fail(st, out.err)
		}
		if out.terminal {
			resolved, unresolved := st.resolvedCounts()
			o.notifier.Send(notify.RunCompleted(st.run.ID, st.run.PRURL, resolved, unresolved))
			return nil
		}
		if err := o.advance(st, out.next); err != nil {
			return o.fail(st, err)
		}
	}
}

// advance persists a status transition and fires the callback
func (o *Orchestrator) advance(st *runState, next domain.RunStatus) error {
	if err := o.store.UpdateRunStatus(st.run.ID, st.run.Status, next); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", st.run.Status, next, err)
	}
	st.run.Status = next
	if o.onStatus != nil {
		o.onStatus(st.run)
	}
	return nil
}

// fail forces the run to FAILED, records operator detail in the run
// log, and notifies. It returns cause for the caller to propagate.
func (o *Orchestrator) fail(st *runState, cause error) error {
	now := time.Now().UTC()
	if err := o.store.FailRun(st.run.ID, now); err != nil {
		log.Printf("[run %s] persist FAILED: %v", st.run.ID, err)
	}
	st.run.Status = domain.RunFailed
	st.run.CompletedAt = &now
	if err := o.store.AppendLog(st.run.ID, "ERROR", cause.Error()); err != nil {
		log.Printf("[run %s] append log: %v", st.run.ID, err)
	}
	log.Printf("[run %s] failed: %v", st.run.ID, cause)
	if o.onStatus != nil {
		o.onStatus(st.run)
	}
	o.notifier.Send(notify.RunFailed(st.run.ID, cause.Error()))
	return cause
}

// logf records a run log line for operators and the scribe input
func (o *Orchestrator) logf(st *runState, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	st.logBuf.WriteString(msg)
	st.logBuf.WriteString("\n")
	if err := o.store.AppendLog(st.run.ID, "INFO", msg); err != nil {
		log.Printf("[run %s] append log: %v", st.run.ID, err)
	}
	log.Printf("[run %s] %s", st.run.ID, msg)
}

func (o *Orchestrator) clonePhase(ctx context.Context, st *runState) outcome {
	st.src = o.source(st.project.Token)
	ws, err := st.src.Clone(ctx, st.project.RepoURL, st.run.ID)
	if err != nil {
		return outcome{err: err}
	}
	st.ws = ws

	summary, err := ws.Summarize()
	if err != nil {
		return outcome{err: fmt.Errorf("summarize workspace: %w", err)}
	}
	st.summary = summary
	o.logf(st, "cloned %s/%s", st.project.RepoOwner, st.project.RepoName)
	return outcome{next: domain.RunTesting}
}

func (o *Orchestrator) testingPhase(ctx context.Context, st *runState) outcome {
	suite, err := o.gateway.PlanTests(ctx, st.summary.Structure, st.summary.Manifest, string(st.run.Category))
	if err != nil {
		return outcome{err: err}
	}
	if err := st.ws.WriteFile(suitePath, suite); err != nil {
		return outcome{err: fmt.Errorf("stage suite: %w", err)}
	}

	result, err := o.runner.RunSuite(ctx, st.ws.Root(), suitePath)
	if err != nil {
		return outcome{err: err}
	}
	st.result = result
	o.logf(st, "suite executed: %d tests, %d failing", result.Total, result.Failed())

	if result.Failed() > 0 {
		return outcome{next: domain.RunDebugging}
	}
	return outcome{next: domain.RunReporting}
}

// debugPhase walks the failures in the order the runner reported them.
// A fix that cannot be generated or does not survive re-verification
// is recorded as unresolved; it never aborts the run.
func (o *Orchestrator) debugPhase(ctx context.Context, st *runState) outcome {
	for _, failure := range st.result.Failures {
		fix := domain.Fix{Path: failure.Path, Log: failure.Log}

		content, err := st.ws.ReadFile(failure.Path)
		if err != nil {
			o.logf(st, "fix %s: unreadable: %v", failure.Path, err)
			st.fixes = append(st.fixes, fix)
			continue
		}

		fixed, err := o.gateway.FixFile(ctx, failure.Path, failure.Log, content)
		if err != nil {
			o.logf(st, "fix %s: generation failed: %v", failure.Path, err)
			st.fixes = append(st.fixes, fix)
			continue
		}
		if err := st.ws.WriteFile(failure.Path, fixed); err != nil {
			return outcome{err: fmt.Errorf("apply fix %s: %w", failure.Path, err)}
		}
		fix.Diff = renderDiff(failure.Path, content, fixed)

		verification, err := o.runner.Verify(ctx, st.ws.Root(), failure.Path)
		if err != nil {
			o.logf(st, "fix %s: verification errored: %v", failure.Path, err)
		} else {
			fix.Resolved = verification.Passed
			if verification.Passed {
				o.logf(st, "fix %s: resolved", failure.Path)
			} else {
				o.logf(st, "fix %s: still failing after fix", failure.Path)
			}
		}
		st.fixes = append(st.fixes, fix)
	}
	return outcome{next: domain.RunReporting}
}

// reportPhase produces the report, publishes it, and delivers the fix
// branch. COMPLETE is persisted in a single statement together with
// the PR and report URLs.
func (o *Orchestrator) reportPhase(ctx context.Context, st *runState) outcome {
	scribeOut, err := o.gateway.Summarize(ctx, o.buildRunLog(st), len(st.fixes))
	if err != nil {
		return outcome{err: err}
	}
	report, prBody, err := reports.SplitScribeOutput(scribeOut)
	if err != nil {
		return outcome{err: err}
	}

	reportURL, err := o.reports.Publish(ctx, st.run.ID, "report.md", report)
	if err != nil {
		return outcome{err: fmt.Errorf("publish report: %w", err)}
	}
	// Persisted immediately so a later delivery failure keeps the
	// report reachable on the FAILED run.
	if err := o.store.SetReportURL(st.run.ID, reportURL); err != nil {
		return outcome{err: err}
	}
	st.run.ReportURL = reportURL
	o.logf(st, "report published: %s", reportURL)

	// The staged suite is always a workspace change, so every
	// successful run delivers a branch and a pull request even when
	// no file needed fixing.
	now := time.Now().UTC()
	branch := st.run.BranchName()
	resolved, _ := st.resolvedCounts()
	message := "Add generated test suite"
	if resolved > 0 {
		message = fmt.Sprintf("Add generated test suite and fix %d failing test(s)", resolved)
	}
	if err := st.ws.CommitAndPush(ctx, branch, message); err != nil {
		return outcome{err: err}
	}

	title := fmt.Sprintf("Applaude: automated fixes for %s", st.project.RepoName)
	prURL, err := st.src.OpenPullRequest(ctx, st.project.RepoOwner, st.project.RepoName, branch, o.baseBranch, title, prBody)
	if err != nil {
		return outcome{err: err}
	}

	if err := o.store.CompleteRun(st.run.ID, prURL, reportURL, now); err != nil {
		return outcome{err: err}
	}
	st.run.PRURL = prURL
	o.finishComplete(st, now)
	o.logf(st, "pull request opened: %s", prURL)
	return outcome{terminal: true}
}

func (o *Orchestrator) finishComplete(st *runState, completedAt time.Time) {
	st.run.Status = domain.RunComplete
	st.run.CompletedAt = &completedAt
	if o.onStatus != nil {
		o.onStatus(st.run)
	}
}

// buildRunLog assembles the scribe input: the phase log followed by
// every applied fix and its diff.
func (o *Orchestrator) buildRunLog(st *runState) string {
	var sb strings.Builder
	sb.WriteString(st.logBuf.String())
	for _, fix := range st.fixes {
		fmt.Fprintf(&sb, "\n## %s\n", fix.Path)
		if fix.Log != "" {
			fmt.Fprintf(&sb, "Failure:\n%s\n", fix.Log)
		}
		if fix.Diff != "" {
			fmt.Fprintf(&sb, "Applied change:\n%s", fix.Diff)
		}
		if fix.Resolved {
			sb.WriteString("Outcome: resolved\n")
		} else {
			sb.WriteString("Outcome: unresolved\n")
		}
	}
	return sb.String()
}
