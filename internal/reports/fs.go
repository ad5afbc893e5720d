package reports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes reports under a local directory. It is the default
// backend and needs no cloud credentials.
type FSStore struct {
	dir       string
	publicURL string
}

// NewFSStore creates the directory-backed store. publicURL, when set,
// is the externally reachable prefix reports are served under;
// otherwise Publish returns file paths.
func NewFSStore(dir, publicURL string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("reports directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	return &FSStore{dir: dir, publicURL: strings.TrimSuffix(publicURL, "/")}, nil
}

func (s *FSStore) Publish(ctx context.Context, runID, name, content string) (string, error) {
	runDir := filepath.Join(s.dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run reports dir: %w", err)
	}
	path := filepath.Join(runDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicURL, runID, name), nil
	}
	return path, nil
}
