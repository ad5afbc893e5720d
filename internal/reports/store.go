// Package reports publishes run report documents and splits the
// scribe's combined output into its report and pull request halves.
package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/applaudehq/applaude-orchestrator/internal/config"
	"github.com/applaudehq/applaude-orchestrator/internal/prompts"
)

// Store publishes a report document and returns a stable URL for it
type Store interface {
	Publish(ctx context.Context, runID, name, content string) (string, error)
}

// NewStore builds the report store named by the configuration
func NewStore(ctx context.Context, cfg config.ReportsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.Dir, cfg.PublicURL)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown reports backend %q", cfg.Backend)
	}
}

// ErrMissingDelimiter indicates the scribe output did not contain the
// required report/PR separator.
type ErrMissingDelimiter struct {
	Delimiter string
}

func (e *ErrMissingDelimiter) Error() string {
	return fmt.Sprintf("scribe output missing delimiter %q", e.Delimiter)
}

// SplitScribeOutput separates the scribe's combined output into the
// report document and the pull request body. Both halves must be
// non-empty after trimming.
func SplitScribeOutput(text string) (report, prBody string, err error) {
	idx := strings.Index(text, prompts.ScribeDelimiter)
	if idx < 0 {
		return "", "", &ErrMissingDelimiter{Delimiter: prompts.ScribeDelimiter}
	}
	report = strings.TrimSpace(text[:idx])
	prBody = strings.TrimSpace(text[idx+len(prompts.ScribeDelimiter):])
	if report == "" || prBody == "" {
		return "", "", fmt.Errorf("scribe output has an empty half around %q", prompts.ScribeDelimiter)
	}
	return report, prBody, nil
}
