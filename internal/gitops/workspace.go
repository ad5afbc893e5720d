// Package gitops is the source-control adapter: cloning a repository
// into a per-run workspace, reading and patching files inside it, and
// delivering the fix branch as a pull request. A Client is constructed
// per call with one end user's credential; there is no shared global
// client, so credentials can never bleed across runs.
package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	commitAuthorName  = "Applaude Bot"
	commitAuthorEmail = "bot@applaude.dev"
)

// Client performs source-control operations with one user's credential
type Client struct {
	token   string
	workDir string

	// APIBase overrides the GitHub API endpoint (tests)
	APIBase string
}

// NewClient creates a client scoped to one credential. workDir is the
// root under which per-run workspaces are created.
func NewClient(token, workDir string) *Client {
	return &Client{token: token, workDir: workDir}
}

func (c *Client) auth() *githttp.BasicAuth {
	if c.token == "" {
		return nil
	}
	// Token-as-password is how GitHub consumes bearer credentials
	// over the git smart HTTP protocol.
	return &githttp.BasicAuth{Username: "x-access-token", Password: c.token}
}

// Workspace is a cloned repository scoped to a single run
type Workspace struct {
	Dir  string
	repo *git.Repository
	auth *githttp.BasicAuth
}

// Clone clones the repository into a fresh workspace directory named
// after the run. On any failure the directory is removed entirely,
// so a clone never partially succeeds.
func (c *Client) Clone(ctx context.Context, repoURL, runID string) (*Workspace, error) {
	dir := filepath.Join(c.workDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &CloneError{URL: repoURL, Err: err}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:   repoURL,
		Auth:  c.auth(),
		Depth: 1,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, &CloneError{URL: repoURL, Err: err}
	}

	return &Workspace{Dir: dir, repo: repo, auth: c.auth()}, nil
}

// Root returns the workspace directory on disk
func (w *Workspace) Root() string { return w.Dir }

// resolve maps a repository-relative path into the workspace,
// rejecting anything that escapes it.
func (w *Workspace) resolve(path string) (string, error) {
	full := filepath.Join(w.Dir, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, w.Dir+string(os.PathSeparator)) && full != w.Dir {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	return full, nil
}

// ReadFile returns the content of a file inside the workspace
func (w *Workspace) ReadFile(path string) (string, error) {
	full, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile replaces the content of a file inside the workspace,
// creating parent directories as needed.
func (w *Workspace) WriteFile(path, content string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

// CommitAndPush stages all changes, commits them on a new branch, and
// pushes the branch to origin. Failures are delivery failures.
func (w *Workspace) CommitAndPush(ctx context.Context, branch, message string) error {
	wt, err := w.repo.Worktree()
	if err != nil {
		return &DeliveryError{Err: err}
	}

	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	}); err != nil {
		return &DeliveryError{Err: fmt.Errorf("checkout %s: %w", branch, err)}
	}

	if err := wt.AddGlob("."); err != nil {
		return &DeliveryError{Err: err}
	}

	if _, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
	}); err != nil {
		return &DeliveryError{Err: fmt.Errorf("commit: %w", err)}
	}

	refSpec := gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	if err := w.repo.PushContext(ctx, &git.PushOptions{
		Auth:     w.auth,
		RefSpecs: []gitcfg.RefSpec{refSpec},
	}); err != nil {
		return &DeliveryError{Err: fmt.Errorf("push %s: %w", branch, err)}
	}

	return nil
}

// Discard removes the workspace directory. Workspaces are scoped per
// run and never shared.
func (w *Workspace) Discard() error {
	return os.RemoveAll(w.Dir)
}
