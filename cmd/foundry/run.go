package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/agent"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
)

var (
	runStrategy string
	runFrom     string
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline until it settles or needs a decision",
	Long: `Run dispatches every eligible task through execute, review and
quality gates, then runs the integration check once nothing is left.

The pipeline starts from the latest checkpoint, or from the checkpoint
named with --from. It stops early when a task pauses for a decision or a
reviewer rejects a task. Progress is checkpointed after every completed
task, so an interrupted run loses at most the task in flight.

Strategies (--strategy):
  sequential   One ready task at a time (default)
  batched      Every ready task in parallel, up to pipeline.max_workers`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executePipeline(pipelineOptions{From: runFrom, Strategy: runStrategy, Verbose: runVerbose}, false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear a pause and continue the pipeline",
	Long: `Resume clears the blocked reason recorded by a pause and runs the
pipeline again. Paused tasks continue from the stage they stopped at:
a pending review is asked again without re-dispatching, and a gate
escalation goes straight back to the reviewer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executePipeline(pipelineOptions{From: runFrom, Strategy: runStrategy, Verbose: runVerbose}, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringVar(&runStrategy, "strategy", "", "Dispatch strategy: sequential or batched (default: pipeline.strategy)")
		c.Flags().StringVar(&runFrom, "from", "", "Checkpoint to start from (default: latest)")
		c.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show workspace cleanup details")
	}
}

// executePipeline runs or resumes the pipeline with interrupt handling.
func executePipeline(opts pipelineOptions, resume bool) error {
	ctx, cancel := interruptContext()
	defer cancel()
	_, err := pipelineOnce(ctx, opts, resume)
	return err
}

// interruptContext returns a context cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// pipelineOnce opens the pipeline, runs or resumes it once while printing its
// events, and reports how it ended.
func pipelineOnce(ctx context.Context, opts pipelineOptions, resume bool) (*orchestrator.Result, error) {
	p, err := openPipeline(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	done := make(chan struct{})
	go printEvents(p.orch.Events(), done)

	var res *orchestrator.Result
	if resume {
		res, err = p.orch.Resume(ctx)
	} else {
		res, err = p.orch.Run(ctx)
	}
	p.orch.Close()
	<-done

	return res, reportResult(res, err, p.stateDir, p.orch.LastCheckpoint())
}

// reportResult prints the outcome and returns an error for outcomes that
// should exit non-zero.
func reportResult(res *orchestrator.Result, err error, stateDir, checkpoint string) error {
	fmt.Println()

	switch {
	case errors.Is(err, orchestrator.ErrInvalidGraph):
		printStatus("✗", "Task graph is invalid; nothing was dispatched", color.FgRed)
		if res != nil {
			for _, issue := range res.Issues {
				fmt.Printf("  - %s\n", issue.String())
			}
		}
		return err
	case errors.Is(err, orchestrator.ErrBlocked):
		reason := ""
		if res != nil {
			reason = res.BlockedReason
		}
		printStatus("⏸", "Pipeline is blocked: "+reason, color.FgYellow)
		printPendingDecisions(stateDir)
		fmt.Println("Answer with 'foundry decide', then run 'foundry resume'.")
		return nil
	case err != nil && (res == nil || res.Outcome != orchestrator.OutcomeCancelled):
		return err
	}

	switch res.Outcome {
	case orchestrator.OutcomeIntegrated:
		printStatus("✓", "All tasks settled and integration passed", color.FgGreen)
	case orchestrator.OutcomeIntegrationFailed:
		printStatus("✗", "Integration failed; phase returned to decompose", color.FgRed)
		if out := strings.TrimSpace(res.IntegrationOutput); out != "" {
			fmt.Println(indent(tailLines(out, 20)))
		}
		return fmt.Errorf("integration failed")
	case orchestrator.OutcomeBlocked:
		printStatus("⏸", "Paused: "+res.BlockedReason, color.FgYellow)
		printPendingDecisions(stateDir)
		fmt.Println("Answer with 'foundry decide', then run 'foundry resume' (or keep 'foundry watch' running).")
	case orchestrator.OutcomeRejected:
		printStatus("✗", "A task was rejected; the plan needs revising", color.FgRed)
		return fmt.Errorf("task rejected")
	case orchestrator.OutcomeCancelled:
		printStatus("⚠", "Interrupted", color.FgYellow)
		if checkpoint != "" {
			fmt.Printf("Progress saved in checkpoint %q. Run 'foundry resume' to continue.\n", checkpoint)
		}
		return err
	}

	if checkpoint != "" {
		fmt.Printf("Last checkpoint: %s\n", checkpoint)
	}
	return nil
}

// printPendingDecisions lists decision requests awaiting an answer.
func printPendingDecisions(stateDir string) {
	reqs, err := agent.PendingRequests(decisionsDir(stateDir))
	if err != nil || len(reqs) == 0 {
		return
	}
	fmt.Println("Waiting on:")
	for _, r := range reqs {
		fmt.Printf("  %s (%s) allowed: %s\n", r.TaskID, r.Kind, strings.Join(r.Allowed, ", "))
	}
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
