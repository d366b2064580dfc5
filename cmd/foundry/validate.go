package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/graph"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/internal/plan"
	"github.com/ShayCichocki/foundry/pkg/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan.yaml]",
	Short: "Check a task graph for structural problems",
	Long: `Validate checks dependency references, cycles, duplicate IDs and the
deferred-task invariants. With a plan file it checks the plan; without
one it checks the latest checkpoint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	var tasks []*models.Task
	source := ""

	if len(args) == 1 {
		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		tasks, err = p.BuildTasks(time.Now())
		if err != nil {
			return err
		}
		source = args[0]
	} else {
		_, _, stateDir, err := workspaceContext()
		if err != nil {
			return err
		}
		db, proj, err := loadLatest(context.Background(), stateDir)
		if err != nil {
			return err
		}
		defer db.Close()
		tasks = proj.Tasks()
		source = "latest checkpoint"
	}

	issues := graph.Validate(tasks)
	if len(issues) == 0 {
		printStatus("✓", fmt.Sprintf("%s: %d task(s), no issues", source, len(tasks)), color.FgGreen)
		return nil
	}
	printStatus("✗", fmt.Sprintf("%s: %d issue(s)", source, len(issues)), color.FgRed)
	for _, issue := range issues {
		fmt.Printf("  - %s\n", issue.String())
	}
	return fmt.Errorf("%w: %d issue(s)", orchestrator.ErrInvalidGraph, len(issues))
}
