package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/config"
	"github.com/ShayCichocki/foundry/internal/orchestrator/policy"
	"github.com/ShayCichocki/foundry/internal/plan"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify foundry configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/foundry/config.yaml
Project-specific overrides can be placed in .foundry.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// configKeys lists the scalar keys in display order.
var configKeys = []string{
	"anthropic.api_key",
	"anthropic.use_bedrock",
	"anthropic.aws_region",
	"pipeline.max_revisions",
	"pipeline.max_gate_retries",
	"pipeline.strategy",
	"pipeline.max_workers",
	"timeouts.executor",
	"timeouts.gate",
	"timeouts.integration",
	"gates.default",
	"executor.command",
	"review.mode",
	"review.model",
	"integration.command",
	"paths.state_dir",
	"paths.worktrees",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}
	kinds := make([]string, 0, len(cfg.Gates.Commands))
	for kind := range cfg.Gates.Commands {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("gates.commands.%s: %s\n", kind, cfg.Gates.Commands[kind])
	}
	fmt.Printf("(api key source: %s)\n", config.GetAPIKeySource(cfg))
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	if kind, ok := strings.CutPrefix(key, "gates.commands."); ok {
		cmd, found := cfg.Gates.Commands[kind]
		if !found {
			return "(not set)", nil
		}
		return cmd, nil
	}

	switch key {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "pipeline.max_revisions":
		return strconv.Itoa(cfg.Pipeline.MaxRevisions), nil
	case "pipeline.max_gate_retries":
		return strconv.Itoa(cfg.Pipeline.MaxGateRetries), nil
	case "pipeline.strategy":
		return cfg.Pipeline.Strategy, nil
	case "pipeline.max_workers":
		return strconv.Itoa(cfg.Pipeline.MaxWorkers), nil
	case "timeouts.executor":
		return cfg.Timeouts.Executor.String(), nil
	case "timeouts.gate":
		return cfg.Timeouts.Gate.String(), nil
	case "timeouts.integration":
		return cfg.Timeouts.Integration.String(), nil
	case "gates.default":
		return strings.Join(cfg.Gates.Default, ","), nil
	case "executor.command":
		return cfg.Executor.Command, nil
	case "review.mode":
		return cfg.Review.Mode, nil
	case "review.model":
		return cfg.Review.Model, nil
	case "integration.command":
		return cfg.Integration.Command, nil
	case "paths.state_dir":
		return cfg.Paths.StateDir, nil
	case "paths.worktrees":
		return cfg.WorktreeDir(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)
	if kind, ok := strings.CutPrefix(key, "gates.commands."); ok {
		if _, err := plan.ParseGates([]string{kind}); err != nil {
			return err
		}
		if cfg.Gates.Commands == nil {
			cfg.Gates.Commands = make(map[string]string)
		}
		cfg.Gates.Commands[kind] = value
		return nil
	}

	switch key {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for anthropic.use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "pipeline.max_revisions":
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		cfg.Pipeline.MaxRevisions = n
	case "pipeline.max_gate_retries":
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		cfg.Pipeline.MaxGateRetries = n
	case "pipeline.strategy":
		s, err := policy.ParseStrategy(value)
		if err != nil {
			return err
		}
		cfg.Pipeline.Strategy = string(s)
	case "pipeline.max_workers":
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("pipeline.max_workers must be at least 1")
		}
		cfg.Pipeline.MaxWorkers = n
	case "timeouts.executor":
		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		cfg.Timeouts.Executor = d
	case "timeouts.gate":
		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		cfg.Timeouts.Gate = d
	case "timeouts.integration":
		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		cfg.Timeouts.Integration = d
	case "gates.default":
		names := splitList(value)
		if _, err := plan.ParseGates(names); err != nil {
			return err
		}
		cfg.Gates.Default = names
	case "executor.command":
		cfg.Executor.Command = value
	case "review.mode":
		switch value {
		case config.ReviewModeAuto, config.ReviewModeAI, config.ReviewModeHuman:
			cfg.Review.Mode = value
		default:
			return fmt.Errorf("invalid review.mode %q: must be auto, ai or human", value)
		}
	case "review.model":
		cfg.Review.Model = value
	case "integration.command":
		cfg.Integration.Command = value
	case "paths.state_dir":
		cfg.Paths.StateDir = value
	case "paths.worktrees":
		cfg.Paths.Worktrees = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func parseNonNegative(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
