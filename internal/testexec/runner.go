// Package testexec talks to the external test runner service. The
// orchestrator never executes user code itself; it ships a workspace
// reference to the runner and consumes structured results.
package testexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/applaudehq/applaude-orchestrator/internal/config"
)

// ErrAmbiguousResult indicates a runner response whose counts and
// failure list do not agree. Ambiguous results are hard failures;
// the orchestrator never guesses an outcome.
var ErrAmbiguousResult = errors.New("ambiguous test runner result")

// Failure is one failing test with its error log, in the order the
// runner reported it.
type Failure struct {
	Path string `json:"path"`
	Log  string `json:"log"`
}

// Result is the outcome of a full suite run
type Result struct {
	Total    int       `json:"total"`
	Failures []Failure `json:"failures"`
}

// Failed reports the number of failing tests
func (r *Result) Failed() int { return len(r.Failures) }

// Verification is the outcome of re-running the tests touching a
// single fixed file.
type Verification struct {
	Passed bool   `json:"passed"`
	Log    string `json:"log"`
}

// Runner executes generated test suites against a workspace
type Runner interface {
	RunSuite(ctx context.Context, workspaceDir, suitePath string) (*Result, error)
	Verify(ctx context.Context, workspaceDir, path string) (*Verification, error)
}

// Client is the HTTP implementation of Runner
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a runner client from configuration
func NewClient(cfg config.TestRunnerConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("test runner URL is not configured")
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL: cfg.URL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type runRequest struct {
	WorkspaceDir string `json:"workspace_dir"`
	SuitePath    string `json:"suite_path"`
}

type verifyRequest struct {
	WorkspaceDir string `json:"workspace_dir"`
	Path         string `json:"path"`
}

type runResponse struct {
	Total    int       `json:"total"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures"`
}

// RunSuite executes the staged test suite and returns the structured
// result. Responses that fail structural validation are rejected with
// ErrAmbiguousResult.
func (c *Client) RunSuite(ctx context.Context, workspaceDir, suitePath string) (*Result, error) {
	var resp runResponse
	err := c.post(ctx, "/api/v1/run", runRequest{WorkspaceDir: workspaceDir, SuitePath: suitePath}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Total < 0 || resp.Failed < 0 {
		return nil, fmt.Errorf("%w: negative counts (total=%d failed=%d)", ErrAmbiguousResult, resp.Total, resp.Failed)
	}
	if resp.Failed > resp.Total {
		return nil, fmt.Errorf("%w: failed=%d exceeds total=%d", ErrAmbiguousResult, resp.Failed, resp.Total)
	}
	if resp.Failed != len(resp.Failures) {
		return nil, fmt.Errorf("%w: failed=%d but %d failure entries", ErrAmbiguousResult, resp.Failed, len(resp.Failures))
	}
	for i, f := range resp.Failures {
		if f.Path == "" {
			return nil, fmt.Errorf("%w: failure %d has no path", ErrAmbiguousResult, i)
		}
	}

	return &Result{Total: resp.Total, Failures: resp.Failures}, nil
}

// Verify re-runs the tests covering a single file after a fix was
// applied.
func (c *Client) Verify(ctx context.Context, workspaceDir, path string) (*Verification, error) {
	var v Verification
	if err := c.post(ctx, "/api/v1/verify", verifyRequest{WorkspaceDir: workspaceDir, Path: path}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("test runner request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("test runner returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: undecodable response: %v", ErrAmbiguousResult, err)
	}
	return nil
}
