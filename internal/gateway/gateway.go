// Package gateway adapts the generative-text backend for the three
// run agents. One generation operation serves all roles; a role only
// selects the prompt template and token budget.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/applaudehq/applaude-orchestrator/internal/config"
	"github.com/applaudehq/applaude-orchestrator/internal/prompts"
)

// Role identifies which agent a generation call serves
type Role string

const (
	RolePlanner Role = "planner"
	RoleFixer   Role = "fixer"
	RoleScribe  Role = "scribe"
)

// GenerationError is the typed failure for any generation problem:
// transport error, non-2xx response, or a response missing content.
// The gateway never signals failure with an empty string.
type GenerationError struct {
	Role Role
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s): %v", e.Role, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Gateway is a stateless adapter over the Anthropic messages API
type Gateway struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	loader  *prompts.Loader
}

// New creates a Gateway from configuration. The per-call timeout is a
// hard upper bound: generation sits on the critical path of a
// user-facing run and must not hang.
func New(cfg config.AnthropicConfig, loader *prompts.Loader, opts ...option.RequestOption) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is not configured")
	}
	if loader == nil {
		loader = prompts.DefaultLoader()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	clientOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &Gateway{
		client:  anthropic.NewClient(clientOpts...),
		model:   cfg.Model,
		timeout: timeout,
		loader:  loader,
	}, nil
}

// generate renders the role prompt and performs one backend call
func (g *Gateway) generate(ctx context.Context, role Role, data interface{}) (string, error) {
	prompt, err := g.loader.Render(string(role), data)
	if err != nil {
		return "", &GenerationError{Role: role, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(prompt.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	})
	if err != nil {
		return "", &GenerationError{Role: role, Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", &GenerationError{Role: role, Err: fmt.Errorf("response missing content")}
	}
	return text, nil
}

// PlanTests asks the planner for a runnable test suite for the
// repository described by the structure summary and manifest.
func (g *Gateway) PlanTests(ctx context.Context, summary, manifest, category string) (string, error) {
	return g.generate(ctx, RolePlanner, prompts.PlannerData{
		StructureSummary: summary,
		Manifest:         manifest,
		Category:         category,
	})
}

// FixFile asks the fixer for the corrected content of one failing file
func (g *Gateway) FixFile(ctx context.Context, path, errorLog, content string) (string, error) {
	return g.generate(ctx, RoleFixer, prompts.FixerData{
		Path:        path,
		ErrorLog:    errorLog,
		FileContent: content,
	})
}

// Summarize asks the scribe for the two-part report / PR description
// response, delimited by prompts.ScribeDelimiter.
func (g *Gateway) Summarize(ctx context.Context, runLog string, fixCount int) (string, error) {
	return g.generate(ctx, RoleScribe, prompts.ScribeData{
		RunLog:    runLog,
		FixCount:  fixCount,
		Delimiter: prompts.ScribeDelimiter,
	})
}
