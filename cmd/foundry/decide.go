package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foundry/internal/agent"
)

var (
	decideGate bool
	decideBy   string
)

var decideCmd = &cobra.Command{
	Use:   "decide <task-id> <verdict> [feedback]",
	Short: "Answer a paused review or gate escalation",
	Long: `Record a decision for a task that paused awaiting a person.

Review verdicts:      approve, revise, reject, pause
Escalation verdicts:  override, approve, reject, pause

The decision is written to the decisions directory. It takes effect on
the next 'foundry resume', or immediately while 'foundry watch' runs.
--gate is implied when the open request for the task is an escalation.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().BoolVar(&decideGate, "gate", false, "Answer the gate escalation instead of the review")
	decideCmd.Flags().StringVar(&decideBy, "by", "", "Who decided (default: $USER)")
}

func runDecide(cmd *cobra.Command, args []string) error {
	_, _, stateDir, err := workspaceContext()
	if err != nil {
		return err
	}
	taskID, verdict := args[0], strings.ToLower(args[1])
	feedback := ""
	if len(args) == 3 {
		feedback = args[2]
	}

	dir := decisionsDir(stateDir)
	gate := decideGate
	if !cmd.Flags().Changed("gate") {
		gate = pendingKind(dir, taskID) == "gate_escalation"
	}
	by := decideBy
	if by == "" {
		by = os.Getenv("USER")
	}

	path, err := agent.WriteDecision(dir, taskID, gate, agent.DecisionFile{
		Verdict:   verdict,
		Feedback:  feedback,
		DecidedBy: by,
	})
	if err != nil {
		printStatus("✗", "Decision not recorded", color.FgRed)
		return err
	}

	kind := "review"
	if gate {
		kind = "gate escalation"
	}
	printStatus("✓", fmt.Sprintf("Recorded %s for %s (%s)", verdict, taskID, kind), color.FgGreen)
	fmt.Printf("  %s\n", relTo(stateDir, path))
	fmt.Println("Run 'foundry resume' to continue.")
	return nil
}

// pendingKind returns the kind of the open request for taskID, or "".
func pendingKind(dir, taskID string) string {
	reqs, err := agent.PendingRequests(dir)
	if err != nil {
		return ""
	}
	for _, r := range reqs {
		if r.TaskID == taskID {
			return r.Kind
		}
	}
	return ""
}
