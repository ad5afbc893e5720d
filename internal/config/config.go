package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Anthropic     AnthropicConfig     `toml:"anthropic"`
	GitHub        GitHubConfig        `toml:"github"`
	TestRunner    TestRunnerConfig    `toml:"test_runner"`
	Reports       ReportsConfig       `toml:"reports"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkspaceDir     string `toml:"workspace_dir"`
	MaxParallelRuns  int    `toml:"max_parallel_runs"`
	DatabasePath     string `toml:"database_path"`
	StaleAfterMin    int    `toml:"stale_after_minutes"`
	SweepCron        string `toml:"sweep_cron"`
}

// AnthropicConfig holds language-model settings
type AnthropicConfig struct {
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the per-call generation timeout
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GitHubConfig holds source-control settings
type GitHubConfig struct {
	BaseBranch string `toml:"base_branch"`
}

// TestRunnerConfig holds the external test-execution endpoint
type TestRunnerConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the per-call test execution timeout
func (c TestRunnerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReportsConfig holds report publication settings
type ReportsConfig struct {
	Backend   string `toml:"backend"` // "fs" or "gcs"
	Dir       string `toml:"dir"`
	Bucket    string `toml:"bucket"`
	KeyFile   string `toml:"key_file"`
	PublicURL string `toml:"public_url"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorkspaceDir:    filepath.Join(home, ".applaude-orchestrator", "workspaces"),
			MaxParallelRuns: 3,
			DatabasePath:    filepath.Join(home, ".applaude-orchestrator", "orchestrator.db"),
			StaleAfterMin:   120,
			SweepCron:       "*/10 * * * *",
		},
		Anthropic: AnthropicConfig{
			Model:          "claude-sonnet-4-20250514",
			TimeoutSeconds: 180,
		},
		GitHub: GitHubConfig{
			BaseBranch: "main",
		},
		TestRunner: TestRunnerConfig{
			URL:            "http://127.0.0.1:9090",
			TimeoutSeconds: 600,
		},
		Reports: ReportsConfig{
			Backend: "fs",
			Dir:     filepath.Join(home, ".applaude-orchestrator", "reports"),
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Env var wins for the API key so it stays out of config files
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Anthropic.APIKey = key
	}

	// Expand paths
	cfg.General.WorkspaceDir = ExpandPath(cfg.General.WorkspaceDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Reports.Dir = ExpandPath(cfg.Reports.Dir)
	cfg.Reports.KeyFile = ExpandPath(cfg.Reports.KeyFile)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "applaude-orchestrator", "config.toml")
}
