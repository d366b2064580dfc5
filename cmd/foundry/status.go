package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/agent"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/internal/runlog"
	"github.com/ShayCichocki/foundry/pkg/models"
)

var (
	statusAudit int
	statusRuns  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state",
	Long: `Display the state recorded in the latest checkpoint.

Shows:
  - Pipeline phase and blocked reason
  - Every task with its status, dependencies and defer trigger
  - Tasks paused mid-loop and the stage they will resume from
  - Decision requests awaiting an answer
  - Recent runs from the run journal`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAudit, "audit", 0, "Show the last N audit log entries")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "Show the last N runs")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, _, stateDir, err := workspaceContext()
	if err != nil {
		return err
	}
	db, proj, err := loadLatest(ctx, stateDir)
	if err != nil {
		return err
	}
	defer db.Close()

	tasks := proj.Tasks()
	counts := countByStatus(tasks)

	fmt.Println("Foundry Pipeline")
	fmt.Println("================")
	fmt.Printf("Phase:    %s\n", proj.Phase())
	if reason, blocked := proj.BlockedReason(); blocked {
		fmt.Printf("Blocked:  %s\n", color.YellowString(reason))
	}
	fmt.Printf("Tasks:    %d total, %d done, %d pending, %d deferred, %d failed, %d terminated\n",
		len(tasks), counts[models.TaskStatusDone], counts[models.TaskStatusPending],
		counts[models.TaskStatusDeferred], counts[models.TaskStatusFailed], counts[models.TaskStatusTerminated])
	fmt.Println()

	printTaskTable(os.Stdout, tasks)

	if lines := progressLines(proj, tasks); len(lines) > 0 {
		fmt.Println()
		fmt.Println("In progress:")
		for _, l := range lines {
			fmt.Println("  " + l)
		}
	}

	if reqs, err := agent.PendingRequests(decisionsDir(stateDir)); err == nil && len(reqs) > 0 {
		fmt.Println()
		fmt.Println("Awaiting decisions:")
		for _, r := range reqs {
			fmt.Printf("  %s (%s) allowed: %s\n", r.TaskID, r.Kind, strings.Join(r.Allowed, ", "))
			fmt.Printf("    answer: foundry decide %s <verdict> [feedback]", r.TaskID)
			if r.Kind == "gate_escalation" {
				fmt.Print(" --gate")
			}
			fmt.Println()
		}
	}

	if statusRuns > 0 {
		printRecentRuns(ctx, stateDir, statusRuns)
	}

	if statusAudit > 0 {
		entries := proj.AuditLog()
		if len(entries) > statusAudit {
			entries = entries[len(entries)-statusAudit:]
		}
		fmt.Println()
		fmt.Println("Audit log:")
		for _, e := range entries {
			fmt.Printf("  %s  %-9s %-18s %-12s %s\n", e.Timestamp.Format("15:04:05"), e.Kind, e.Action, e.TaskID, e.Detail)
		}
	}
	return nil
}

// progressLines describes tasks whose state machine stopped mid-loop.
func progressLines(proj *project.Project, tasks []*models.Task) []string {
	progress := proj.Snapshot().Progress
	var lines []string
	for _, t := range tasks {
		pr := progress[t.ID]
		if pr == nil || t.Status == models.TaskStatusDone {
			continue
		}
		line := fmt.Sprintf("%s: stage %s, %d attempt(s)", t.ID, pr.Stage, pr.Attempts)
		if n := len(pr.Feedback); n > 0 {
			line += fmt.Sprintf(", last feedback: %s", truncate(pr.Feedback[n-1], 60))
		}
		lines = append(lines, line)
	}
	return lines
}

func printRecentRuns(ctx context.Context, stateDir string, limit int) {
	path := runlog.JournalPath(stateDir)
	if _, err := os.Stat(path); err != nil {
		return
	}
	journal, err := runlog.NewJournal(path)
	if err != nil {
		return
	}
	defer journal.Close()

	runs, err := journal.ListRuns(ctx, limit)
	if err != nil || len(runs) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Recent runs:")
	for _, r := range runs {
		duration := "running"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		outcome := r.Outcome
		if outcome == "" {
			outcome = r.Status
		}
		fmt.Printf("  %s  %s  %-10s %-18s %s\n", r.StartedAt.Format("2006-01-02 15:04"), shortID(r.ID), r.Strategy, outcome, duration)
	}
}
