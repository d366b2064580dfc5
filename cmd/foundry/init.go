package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/config"
	"github.com/ShayCichocki/foundry/internal/graph"
	"github.com/ShayCichocki/foundry/internal/plan"
	"github.com/ShayCichocki/foundry/internal/state"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init <plan.yaml>",
	Short: "Import a plan and create the state directory",
	Long: `Initialize foundry in the current directory from a plan file.

This command:
  - Loads the task list from the plan and reports structural problems
  - Creates the state directory (checkpoints, run journal, logs, decisions)
  - Saves the imported plan as the "init" checkpoint
  - Writes a .foundry.yaml template if none exists
  - Adds the state directory to .gitignore

An existing pipeline is never overwritten unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing pipeline")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	root, cfg, stateDir, err := workspaceContext()
	if err != nil {
		return err
	}

	fmt.Println("Initializing foundry...")
	fmt.Println()

	p, err := plan.LoadFile(args[0])
	if err != nil {
		printStatus("✗", "Could not load plan", color.FgRed)
		return err
	}
	proj, err := p.Project(time.Now())
	if err != nil {
		printStatus("✗", "Could not build tasks", color.FgRed)
		return err
	}
	tasks := proj.Tasks()
	printStatus("✓", fmt.Sprintf("Loaded %d task(s) from %s", len(tasks), args[0]), color.FgGreen)

	if issues := graph.Validate(tasks); len(issues) > 0 {
		printStatus("⚠", fmt.Sprintf("%d structural issue(s); 'foundry run' will refuse to start until fixed", len(issues)), color.FgYellow)
		for _, issue := range issues {
			fmt.Printf("    - %s\n", issue.String())
		}
	} else {
		printStatus("✓", "Task graph is valid", color.FgGreen)
	}

	for _, dir := range []string{stateDir, filepath.Join(stateDir, "logs"), decisionsDir(stateDir), packagesDir(stateDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created "+relTo(root, stateDir), color.FgGreen)

	db, err := state.OpenProject(stateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	if !initForce {
		if _, err := db.Latest(ctx); err == nil {
			printStatus("✗", "A pipeline already exists here", color.FgRed)
			return fmt.Errorf("refusing to overwrite existing pipeline in %s (use --force)", stateDir)
		} else if !errors.Is(err, state.ErrCheckpointNotFound) {
			return fmt.Errorf("check existing pipeline: %w", err)
		}
	}
	if err := db.Save(ctx, "init", proj.Snapshot()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	printStatus("✓", "Saved checkpoint \"init\"", color.FgGreen)

	if created, err := writeProjectConfig(root, cfg); err != nil {
		printStatus("⚠", "Could not write "+config.ProjectConfigName+": "+err.Error(), color.FgYellow)
	} else if created {
		printStatus("✓", "Wrote "+config.ProjectConfigName, color.FgGreen)
	}

	if added, err := ensureGitignore(root, relTo(root, stateDir)); err != nil {
		printStatus("⚠", "Could not update .gitignore: "+err.Error(), color.FgYellow)
	} else if added {
		printStatus("✓", "Added state directory to .gitignore", color.FgGreen)
	}

	if cfg.Executor.Command == "" {
		printStatus("⚠", "executor.command is not set; set it in "+config.ProjectConfigName+" before running", color.FgYellow)
	}

	fmt.Println()
	fmt.Println("Next: foundry run")
	return nil
}

const projectConfigTemplate = `# foundry project configuration
pipeline:
  max_revisions: %d
  max_gate_retries: %d
  strategy: %s
  max_workers: %d

executor:
  # Runs once per dispatch attempt inside the task workspace.
  # $FOUNDRY_TASK_FILE holds the context package as JSON.
  command: %q

gates:
  default: [%s]

review:
  mode: %s

integration:
  command: %q
`

// writeProjectConfig writes a .foundry.yaml template when none exists.
func writeProjectConfig(root string, cfg *config.Config) (bool, error) {
	path := filepath.Join(root, config.ProjectConfigName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	content := fmt.Sprintf(projectConfigTemplate,
		cfg.Pipeline.MaxRevisions, cfg.Pipeline.MaxGateRetries, cfg.Pipeline.Strategy, cfg.Pipeline.MaxWorkers,
		cfg.Executor.Command, strings.Join(cfg.Gates.Default, ", "), cfg.Review.Mode, cfg.Integration.Command)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// ensureGitignore appends entry to .gitignore unless it is already listed.
func ensureGitignore(root, entry string) (bool, error) {
	entry = strings.TrimSuffix(filepath.ToSlash(entry), "/") + "/"
	if strings.HasPrefix(entry, "../") || filepath.IsAbs(entry) {
		return false, nil
	}
	path := filepath.Join(root, ".gitignore")
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == strings.TrimSuffix(entry, "/") || line == "/"+entry {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()
	prefix := ""
	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

// relTo returns path relative to root when it lies inside it.
func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
