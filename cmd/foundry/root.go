package main

import (
	"os"

	"github.com/spf13/cobra"
)

// stateDirFlag overrides paths.state_dir for every command.
var stateDirFlag string

var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Task-graph orchestrator for execute-verify pipelines",
	Long: `Foundry drives a planned task graph to completion.

Each ready task is dispatched to an executor, the produced artifact is
reviewed, quality gates run against it, and failures are escalated to a
reviewer. Tasks can be deferred until a trigger fires, split into a safe
half and a deferred half, dropped, or terminated while the pipeline runs.

Typical flow:
  foundry init plan.yaml   Import a task list and create the state directory
  foundry run              Run until every task settles or a decision is needed
  foundry decide <id> ...  Answer a paused review
  foundry resume           Continue from where the pipeline stopped`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "State directory (default: paths.state_dir from config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deferCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
