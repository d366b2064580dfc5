package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/mutation"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

var (
	splitSafeTitle  string
	splitSafeDesc   string
	splitDeferTitle string
	splitDeferDesc  string
	splitTrigger    string
)

var deferCmd = &cobra.Command{
	Use:   "defer <task-id> <trigger>",
	Short: "Set a task aside until its trigger fires",
	Long: `Defer a task together with the pending dependencies that exist only
to serve it. Tasks that depended on a deferred task keep running with
that edge suspended.

The trigger has the form <task-id>:<condition>. The condition
"promoted" fires when the trigger task is pending again; any other
condition fires when a gate fails on the trigger task. A trigger task
that completes always fires.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger, err := models.NewTrigger(args[1])
		if err != nil {
			return err
		}
		return mutate("defer", args[0], func(e *mutation.Engine, _ *project.Project) (string, error) {
			deferred := e.Defer(args[0], trigger)
			if deferred == nil {
				return "", fmt.Errorf("task %q not found", args[0])
			}
			return "Deferred " + strings.Join(deferred, ", "), nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <task-id>",
	Short: "Return a deferred task to pending",
	Long: `Restore a deferred task, every deferred task it depends on, and the
dependency edges that were suspended when they were deferred.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate("restore", args[0], func(e *mutation.Engine, _ *project.Project) (string, error) {
			restored := e.Restore(args[0])
			if restored == nil {
				return "", fmt.Errorf("task %q is not deferred", args[0])
			}
			return "Restored " + strings.Join(restored, ", "), nil
		})
	},
}

var splitCmd = &cobra.Command{
	Use:   "split <task-id>",
	Short: "Split a task into a safe half and a deferred half",
	Long: `Replace a task with <id>-safe, which runs now, and <id>-defer, which
is deferred at high risk until --trigger fires. Tasks that depended on
the original now depend on the safe half.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger, err := models.NewTrigger(splitTrigger)
		if err != nil {
			return err
		}
		return mutate("split", args[0], func(e *mutation.Engine, p *project.Project) (string, error) {
			orig := p.Task(args[0])
			if orig == nil {
				return "", fmt.Errorf("task %q not found", args[0])
			}
			safeTitle, safeDesc, deferTitle, deferDesc := splitTexts(orig)
			safeID, deferID := e.Split(args[0], safeTitle, safeDesc, deferTitle, deferDesc, trigger)
			if safeID == "" {
				return "", fmt.Errorf("cannot split %q: %s or %s already exists", args[0], args[0]+mutation.SafeSuffix, args[0]+mutation.DeferSuffix)
			}
			return fmt.Sprintf("Split %s into %s and %s", args[0], safeID, deferID), nil
		})
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <task-id>",
	Short: "Remove a task and every reference to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate("drop", args[0], func(e *mutation.Engine, _ *project.Project) (string, error) {
			if !e.Drop(args[0]) {
				return "", fmt.Errorf("task %q not found", args[0])
			}
			return "Dropped " + args[0], nil
		})
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate <task-id> [reason]",
	Short: "Permanently cancel a task",
	Long: `Terminate keeps the task record with status terminated and a marked
description, and removes it from every other task's dependencies.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		return mutate("terminate", args[0], func(e *mutation.Engine, _ *project.Project) (string, error) {
			if !e.Terminate(args[0], reason) {
				return "", fmt.Errorf("task %q not found", args[0])
			}
			return "Terminated " + args[0], nil
		})
	},
}

func init() {
	splitCmd.Flags().StringVar(&splitSafeTitle, "safe-title", "", "Title of the safe half (default: original title)")
	splitCmd.Flags().StringVar(&splitSafeDesc, "safe-desc", "", "Description of the safe half (default: original description)")
	splitCmd.Flags().StringVar(&splitDeferTitle, "defer-title", "", "Title of the deferred half (default: original title + \" (deferred)\")")
	splitCmd.Flags().StringVar(&splitDeferDesc, "defer-desc", "", "Description of the deferred half (default: original description)")
	splitCmd.Flags().StringVar(&splitTrigger, "trigger", "", "Trigger for the deferred half, <task-id>:<condition>")
}

// splitTexts fills unset split flags from the original task.
func splitTexts(orig *models.Task) (safeTitle, safeDesc, deferTitle, deferDesc string) {
	safeTitle, safeDesc, deferTitle, deferDesc = splitSafeTitle, splitSafeDesc, splitDeferTitle, splitDeferDesc
	if safeTitle == "" {
		safeTitle = orig.Title
	}
	if safeDesc == "" {
		safeDesc = orig.Description
	}
	if deferTitle == "" {
		deferTitle = orig.Title + " (deferred)"
	}
	if deferDesc == "" {
		deferDesc = orig.Description
	}
	return safeTitle, safeDesc, deferTitle, deferDesc
}

// mutate applies fn to the latest checkpoint and saves the result under
// <action>_<task-id>.
func mutate(action, taskID string, fn func(e *mutation.Engine, p *project.Project) (string, error)) error {
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

	msg, err := fn(mutation.New(proj), proj)
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}

	name := checkpointName(action, taskID)
	if err := db.Save(ctx, name, proj.Snapshot()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	printStatus("✓", msg, color.FgGreen)
	fmt.Printf("Saved checkpoint %q\n", name)
	return nil
}
