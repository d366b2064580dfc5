package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/ShayCichocki/foundry/internal/config"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/internal/state"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// printStatus prints a status message with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	c.Printf("%s ", symbol)
	fmt.Println(message)
}

// loadConfig loads layered config and applies the --state-dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if stateDirFlag != "" {
		cfg.Paths.StateDir = stateDirFlag
	}
	return cfg, nil
}

// resolveStateDir returns the absolute state directory for a repository root.
func resolveStateDir(cfg *config.Config, root string) string {
	dir := cfg.Paths.StateDir
	if dir == "" {
		dir = config.Default().Paths.StateDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

func decisionsDir(stateDir string) string {
	return filepath.Join(stateDir, "decisions")
}

func packagesDir(stateDir string) string {
	return filepath.Join(stateDir, "packages")
}

// openStore opens the checkpoint database of an initialized state directory.
func openStore(stateDir string) (*state.DB, error) {
	if _, err := os.Stat(state.ProjectDBPath(stateDir)); os.IsNotExist(err) {
		return nil, fmt.Errorf("no foundry state in %s; run 'foundry init <plan.yaml>' first", stateDir)
	}
	db, err := state.OpenProject(stateDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

// workspaceContext resolves the repository root, config and state directory
// shared by every command.
func workspaceContext() (root string, cfg *config.Config, stateDir string, err error) {
	root, err = os.Getwd()
	if err != nil {
		return "", nil, "", fmt.Errorf("get working directory: %w", err)
	}
	cfg, err = loadConfig()
	if err != nil {
		return "", nil, "", err
	}
	return root, cfg, resolveStateDir(cfg, root), nil
}

// loadLatest opens the store and loads the most recent checkpoint.
func loadLatest(ctx context.Context, stateDir string) (*state.DB, *project.Project, error) {
	db, err := openStore(stateDir)
	if err != nil {
		return nil, nil, err
	}
	p, err := db.LoadProject(ctx, state.LatestCheckpoint)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return db, p, nil
}

// checkpointName builds a checkpoint name for an operator action on a task.
func checkpointName(action, taskID string) string {
	var b strings.Builder
	b.WriteString(action)
	b.WriteByte('_')
	for _, r := range taskID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// statusColor maps a task status to its display color.
func statusColor(s models.TaskStatus) color.Attribute {
	switch s {
	case models.TaskStatusDone:
		return color.FgGreen
	case models.TaskStatusInProgress, models.TaskStatusInReview:
		return color.FgCyan
	case models.TaskStatusDeferred:
		return color.FgYellow
	case models.TaskStatusFailed, models.TaskStatusTerminated:
		return color.FgRed
	default:
		return color.FgWhite
	}
}

// statusSymbol is the one-character marker shown next to a task.
func statusSymbol(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusDone:
		return "✓"
	case models.TaskStatusInProgress, models.TaskStatusInReview:
		return "▶"
	case models.TaskStatusDeferred:
		return "⏸"
	case models.TaskStatusFailed, models.TaskStatusTerminated:
		return "✗"
	default:
		return "○"
	}
}

// printTaskTable writes one row per task: status, id, title, dependencies and
// any trigger or suspended dependency.
func printTaskTable(w io.Writer, tasks []*models.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  STATUS\tID\tTITLE\tDEPENDS ON\tNOTES")
	for _, t := range tasks {
		status := color.New(statusColor(t.Status)).Sprintf("%s %s", statusSymbol(t.Status), t.Status)
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", status, t.ID, truncate(t.Title, 48), joinOrDash(t.Dependencies), taskNotes(t))
	}
	tw.Flush()
}

func taskNotes(t *models.Task) string {
	var notes []string
	if t.DeferTrigger != nil {
		notes = append(notes, "trigger "+t.DeferTrigger.String())
	}
	if len(t.SuspendedDependencies) > 0 {
		notes = append(notes, "suspended "+strings.Join(t.SuspendedDependencies, ","))
	}
	return strings.Join(notes, "; ")
}

// countByStatus tallies tasks per status.
func countByStatus(tasks []*models.Task) map[models.TaskStatus]int {
	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}

func joinOrDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ",")
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
