// Package config handles configuration loading and management for foundry.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/foundry/internal/orchestrator/policy"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// ProjectConfigName is the per-project override file, searched upward from the working directory.
const ProjectConfigName = ".foundry.yaml"

// Review modes.
const (
	ReviewModeAuto  = "auto"
	ReviewModeAI    = "ai"
	ReviewModeHuman = "human"
)

// Config holds all configuration for foundry.
type Config struct {
	Anthropic   AnthropicConfig   `mapstructure:"anthropic"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts"`
	Gates       GatesConfig       `mapstructure:"gates"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Review      ReviewConfig      `mapstructure:"review"`
	Integration IntegrationConfig `mapstructure:"integration"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
}

// PipelineConfig holds the retry bounds and dispatch strategy.
type PipelineConfig struct {
	MaxRevisions   int    `mapstructure:"max_revisions"`
	MaxGateRetries int    `mapstructure:"max_gate_retries"`
	Strategy       string `mapstructure:"strategy"`
	MaxWorkers     int    `mapstructure:"max_workers"`
}

// TimeoutsConfig holds per-collaborator timeouts.
type TimeoutsConfig struct {
	Executor    time.Duration `mapstructure:"executor"`
	Gate        time.Duration `mapstructure:"gate"`
	Integration time.Duration `mapstructure:"integration"`
}

// GatesConfig holds the default gate list and the shell command per gate kind.
type GatesConfig struct {
	Default  []string          `mapstructure:"default"`
	Commands map[string]string `mapstructure:"commands"`
}

// ExecutorConfig holds the external command that produces drafts.
type ExecutorConfig struct {
	Command string `mapstructure:"command"`
}

// ReviewConfig selects how artifacts are reviewed.
type ReviewConfig struct {
	// Mode is auto, ai, or human.
	Mode string `mapstructure:"mode"`
	// Model is the Claude model used in ai mode.
	Model string `mapstructure:"model"`
}

// IntegrationConfig holds the final cross-task check command.
type IntegrationConfig struct {
	Command string `mapstructure:"command"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	// StateDir holds the checkpoint database, run journal, logs and decisions.
	StateDir string `mapstructure:"state_dir"`
	// Worktrees is where task workspaces are created. Empty means <state_dir>/worktrees.
	Worktrees string `mapstructure:"worktrees"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.foundry.yaml in current directory or parent)
// 3. User config (~/.config/foundry/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(GetUserConfigPath(), cfg)
}

// SaveTo writes the configuration to path, creating its directory.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("pipeline.max_revisions", cfg.Pipeline.MaxRevisions)
	v.Set("pipeline.max_gate_retries", cfg.Pipeline.MaxGateRetries)
	v.Set("pipeline.strategy", cfg.Pipeline.Strategy)
	v.Set("pipeline.max_workers", cfg.Pipeline.MaxWorkers)
	v.Set("timeouts.executor", cfg.Timeouts.Executor.String())
	v.Set("timeouts.gate", cfg.Timeouts.Gate.String())
	v.Set("timeouts.integration", cfg.Timeouts.Integration.String())
	v.Set("gates.default", cfg.Gates.Default)
	v.Set("gates.commands", cfg.Gates.Commands)
	v.Set("executor.command", cfg.Executor.Command)
	v.Set("review.mode", cfg.Review.Mode)
	v.Set("review.model", cfg.Review.Model)
	v.Set("integration.command", cfg.Integration.Command)
	v.Set("paths.state_dir", cfg.Paths.StateDir)
	v.Set("paths.worktrees", cfg.Paths.Worktrees)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// PolicyConfig converts the pipeline and timeout settings into an orchestrator policy.
func (c *Config) PolicyConfig() (*policy.Config, error) {
	p := policy.Default()
	p.Retry.MaxRevisions = c.Pipeline.MaxRevisions
	p.Retry.MaxGateRetries = c.Pipeline.MaxGateRetries
	p.Timeouts.Executor = c.Timeouts.Executor
	p.Timeouts.Gate = c.Timeouts.Gate
	p.Timeouts.Integration = c.Timeouts.Integration
	p.Concurrency.Strategy = policy.Strategy(c.Pipeline.Strategy)
	p.Concurrency.MaxWorkers = c.Pipeline.MaxWorkers
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	return p, nil
}

// DefaultGates returns gates.default as gate kinds.
func (c *Config) DefaultGates() []models.GateKind {
	out := make([]models.GateKind, 0, len(c.Gates.Default))
	for _, g := range c.Gates.Default {
		out = append(out, models.GateKind(g))
	}
	return out
}

// WorktreeDir returns the directory task workspaces live under.
func (c *Config) WorktreeDir() string {
	if c.Paths.Worktrees != "" {
		return c.Paths.Worktrees
	}
	return filepath.Join(c.Paths.StateDir, "worktrees")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")

	v.SetDefault("pipeline.max_revisions", 3)
	v.SetDefault("pipeline.max_gate_retries", 2)
	v.SetDefault("pipeline.strategy", string(policy.StrategySequential))
	v.SetDefault("pipeline.max_workers", 4)

	v.SetDefault("timeouts.executor", "15m")
	v.SetDefault("timeouts.gate", "5m")
	v.SetDefault("timeouts.integration", "10m")

	v.SetDefault("gates.default", []string{"build", "test"})
	v.SetDefault("gates.commands", defaultGateCommands())

	v.SetDefault("executor.command", "")
	v.SetDefault("review.mode", ReviewModeAuto)
	v.SetDefault("review.model", "claude-sonnet-4-20250514")
	v.SetDefault("integration.command", "")

	v.SetDefault("paths.state_dir", ".foundry")
	v.SetDefault("paths.worktrees", "")
}

func defaultGateCommands() map[string]string {
	return map[string]string{
		"build":     "go build ./...",
		"test":      "go test ./...",
		"lint":      "go vet ./...",
		"typecheck": "go vet ./...",
	}
}

// getUserConfigDir returns the XDG config directory for foundry.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foundry")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foundry")
	}
	return filepath.Join(home, ".config", "foundry")
}

// findProjectConfig searches for .foundry.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxRevisions:   3,
			MaxGateRetries: 2,
			Strategy:       string(policy.StrategySequential),
			MaxWorkers:     4,
		},
		Timeouts: TimeoutsConfig{
			Executor:    15 * time.Minute,
			Gate:        5 * time.Minute,
			Integration: 10 * time.Minute,
		},
		Gates: GatesConfig{
			Default:  []string{"build", "test"},
			Commands: defaultGateCommands(),
		},
		Review: ReviewConfig{
			Mode:  ReviewModeAuto,
			Model: "claude-sonnet-4-20250514",
		},
		Paths: PathsConfig{
			StateDir: ".foundry",
		},
	}
}
