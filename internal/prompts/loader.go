package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// ScribeDelimiter separates the scribe's report document from its pull
// request description. The scribe template instructs the model to emit
// it verbatim on its own line; the report splitter enforces it.
const ScribeDelimiter = "=====PULL_REQUEST====="

// Meta holds frontmatter metadata for an agent template.
type Meta struct {
	Role      string `yaml:"role"`
	MaxTokens int    `yaml:"max_tokens"`
	System    string `yaml:"system"`
}

// Prompt is a fully rendered role-scoped prompt pair.
type Prompt struct {
	Role      string
	System    string
	User      string
	MaxTokens int
}

// Loader manages agent templates with override support.
type Loader struct {
	overrideDirs []string // checked in priority order; first match wins
	cache        map[string]*template.Template
	metaCache    map[string]*Meta
	mu           sync.RWMutex
}

// NewLoader creates a loader with the given override directories.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*Meta),
	}
}

// DefaultLoader creates a loader that checks the user config dir for
// prompt overrides before falling back to the embedded templates.
func DefaultLoader() *Loader {
	home, _ := os.UserHomeDir()
	return NewLoader(filepath.Join(home, ".config", "applaude-orchestrator", "prompts"))
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*Meta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta Meta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// load parses a role template, caching the result.
func (l *Loader) load(role string) (*template.Template, *Meta, error) {
	path := filepath.Join("agents", role+".md")

	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if meta == nil || meta.MaxTokens <= 0 || meta.System == "" {
		return nil, nil, fmt.Errorf("template %s missing role frontmatter", path)
	}

	tmpl, err := template.New(path).Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Render loads a role template and executes it with the given data.
func (l *Loader) Render(role string, data interface{}) (*Prompt, error) {
	tmpl, meta, err := l.load(role)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute %s: %w", role, err)
	}

	return &Prompt{
		Role:      role,
		System:    strings.TrimSpace(meta.System),
		User:      buf.String(),
		MaxTokens: meta.MaxTokens,
	}, nil
}

// PlannerData holds template variables for the planner prompt.
type PlannerData struct {
	StructureSummary string
	Manifest         string
	Category         string
}

// FixerData holds template variables for the fixer prompt.
type FixerData struct {
	Path        string
	ErrorLog    string
	FileContent string
}

// ScribeData holds template variables for the scribe prompt.
type ScribeData struct {
	RunLog    string
	FixCount  int
	Delimiter string
}

// ClearCache clears the template cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*Meta)
	l.mu.Unlock()
}
