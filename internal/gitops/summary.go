package gitops

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxSummaryFiles   = 400
	maxManifestBytes  = 4096
	manifestTruncNote = "\n… (truncated)"
)

// manifestFiles are the dependency manifests inspected for the planner,
// in preference order.
var manifestFiles = []string{
	"package.json",
	"requirements.txt",
	"go.mod",
	"Cargo.toml",
	"pom.xml",
	"Gemfile",
}

// Summary holds the repository blueprint handed to the planner agent.
// Produced by plain file enumeration and manifest inspection; no
// generation is involved.
type Summary struct {
	Structure string
	Manifest  string
}

// Summarize enumerates the workspace tree and reads the dependency
// manifests it recognizes.
func (w *Workspace) Summarize() (*Summary, error) {
	var paths []string
	err := filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.Dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		if len(paths) >= maxSummaryFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate workspace: %w", err)
	}
	sort.Strings(paths)

	var manifest strings.Builder
	for _, name := range manifestFiles {
		data, err := os.ReadFile(filepath.Join(w.Dir, name))
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > maxManifestBytes {
			content = content[:maxManifestBytes] + manifestTruncNote
		}
		fmt.Fprintf(&manifest, "--- %s ---\n%s\n", name, content)
	}

	return &Summary{
		Structure: strings.Join(paths, "\n"),
		Manifest:  manifest.String(),
	}, nil
}
