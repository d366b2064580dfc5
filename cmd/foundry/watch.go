package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/agent"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
)

// settleDelay collects the burst of filesystem events one decision produces.
const settleDelay = 250 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Resume the pipeline whenever a decision is recorded",
	Long: `Watch the decisions directory and resume the pipeline each time an
answer lands, until the pipeline finishes or stops for a reason other
than a pending decision. Pair it with review.mode human, or with ai
review whose gate escalations go to a person.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	_, _, stateDir, err := workspaceContext()
	if err != nil {
		return err
	}
	db, proj, err := loadLatest(ctx, stateDir)
	if err != nil {
		return err
	}
	reason, blocked := proj.BlockedReason()
	db.Close()
	if !blocked {
		fmt.Println("Pipeline is not waiting on a decision. Use 'foundry run'.")
		return nil
	}

	w, err := agent.NewDecisionWatcher(decisionsDir(stateDir))
	if err != nil {
		return err
	}
	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Run(ctx) }()

	printStatus("⏸", "Waiting on: "+reason, color.FgYellow)
	printPendingDecisions(stateDir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			return err
		case ev, ok := <-w.Events():
			if !ok {
				return <-watchErr
			}
			drainEvents(w.Events(), settleDelay)
			printStatus("↻", fmt.Sprintf("Decision recorded for %s, resuming", ev.TaskID), color.FgCyan)

			res, err := pipelineOnce(ctx, pipelineOptions{}, true)
			if err != nil {
				return err
			}
			if res == nil || res.Outcome != orchestrator.OutcomeBlocked {
				return nil
			}
		}
	}
}

// drainEvents discards events until none arrive for quiet.
func drainEvents(events <-chan agent.DecisionEvent, quiet time.Duration) {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		case <-timer.C:
			return
		}
	}
}
