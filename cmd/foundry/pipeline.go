package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"

	"github.com/ShayCichocki/foundry/internal/agent"
	"github.com/ShayCichocki/foundry/internal/api"
	"github.com/ShayCichocki/foundry/internal/config"
	"github.com/ShayCichocki/foundry/internal/exec"
	"github.com/ShayCichocki/foundry/internal/orchestrator"
	"github.com/ShayCichocki/foundry/internal/orchestrator/policy"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/internal/runlog"
	"github.com/ShayCichocki/foundry/internal/state"
	"github.com/ShayCichocki/foundry/internal/workspace"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// pipelineOptions selects what a pipeline is built from.
type pipelineOptions struct {
	// From is the checkpoint to load; empty means latest.
	From string
	// Strategy overrides pipeline.strategy when non-empty.
	Strategy string
	// Verbose prints workspace cleanup details.
	Verbose bool
}

// pipeline bundles an orchestrator with the stores it writes to.
type pipeline struct {
	cfg      *config.Config
	root     string
	stateDir string

	store   *state.DB
	journal *runlog.Journal
	logger  *orchestrator.DebugLogger
	orch    *orchestrator.Orchestrator
}

// openPipeline loads config and the requested checkpoint and wires every
// collaborator the orchestrator needs.
func openPipeline(ctx context.Context, opts pipelineOptions) (*pipeline, error) {
	root, cfg, stateDir, err := workspaceContext()
	if err != nil {
		return nil, err
	}

	pol, err := cfg.PolicyConfig()
	if err != nil {
		return nil, err
	}
	if opts.Strategy != "" {
		s, err := policy.ParseStrategy(opts.Strategy)
		if err != nil {
			return nil, err
		}
		pol.Concurrency.Strategy = s
	}

	store, err := openStore(stateDir)
	if err != nil {
		return nil, err
	}
	p := &pipeline{cfg: cfg, root: root, stateDir: stateDir, store: store}

	from := opts.From
	if from == "" {
		from = state.LatestCheckpoint
	}
	proj, err := store.LoadProject(ctx, from)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("load checkpoint %q: %w", from, err)
	}

	journal, err := runlog.NewJournal(runlog.JournalPath(stateDir))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	p.journal = journal
	if abandoned, err := journal.MarkAbandoned(ctx); err != nil {
		log.Printf("[foundry] warning: failed to mark abandoned runs: %v", err)
	} else if len(abandoned) > 0 {
		printStatus("⚠", fmt.Sprintf("Marked %d interrupted run(s) as abandoned", len(abandoned)), color.FgYellow)
	}

	reviewer, err := buildReviewer(cfg, stateDir)
	if err != nil {
		p.Close()
		return nil, err
	}

	runner := exec.NewRunner()
	p.logger = orchestrator.NewDebugLoggerForState(stateDir)

	orchOpts := []orchestrator.Option{
		orchestrator.WithPolicy(pol),
		orchestrator.WithLogger(p.logger),
		orchestrator.WithCheckpointer(store),
		orchestrator.WithRunRecorder(journal),
		orchestrator.WithIntegration(agent.NewCommandIntegration(runner, root), cfg.Integration.Command),
		orchestrator.WithDefaultGates(cfg.DefaultGates()...),
		orchestrator.WithEvents(100),
	}
	if ws := openWorkspaces(cfg, root, proj, opts.Verbose); ws != nil {
		orchOpts = append(orchOpts, orchestrator.WithWorkspaces(ws))
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{
		Project:  proj,
		Executor: agent.NewCommandExecutor(runner, cfg.Executor.Command, packagesDir(stateDir), root),
		Reviewer: reviewer,
		Gates:    agent.NewQualityGates(runner, cfg.Gates.Commands, root),
	}, orchOpts...)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	p.orch = orch
	return p, nil
}

// openWorkspaces returns a worktree manager, or nil when the repository is not
// a git checkout. Worktrees no task holds any more are removed first.
func openWorkspaces(cfg *config.Config, root string, proj *project.Project, verbose bool) *workspace.Manager {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		printStatus("⚠", "Not a git repository; tasks run in the working tree", color.FgYellow)
		return nil
	}
	mgr, err := workspace.NewManager(cfg.WorktreeDir(), root, "")
	if err != nil {
		log.Printf("[foundry] warning: workspaces disabled: %v", err)
		return nil
	}

	inUse := make(map[string]bool)
	for _, t := range proj.Tasks() {
		if t.WorkspacePath != "" {
			inUse[t.WorkspacePath] = true
		}
	}
	var report func(string)
	if verbose {
		report = func(path string) { fmt.Printf("  removed orphaned worktree %s\n", path) }
	}
	if n, err := mgr.CleanupOrphans(inUse, report); err != nil {
		log.Printf("[foundry] warning: worktree cleanup failed: %v", err)
	} else if n > 0 {
		printStatus("✓", fmt.Sprintf("Removed %d orphaned worktree(s)", n), color.FgGreen)
	}
	return mgr
}

// buildReviewer picks the reviewer for review.mode.
func buildReviewer(cfg *config.Config, stateDir string) (orchestrator.Reviewer, error) {
	switch cfg.Review.Mode {
	case "", config.ReviewModeAuto:
		return agent.AutoReviewer{}, nil
	case config.ReviewModeHuman:
		return agent.NewHumanReviewer(decisionsDir(stateDir)), nil
	case config.ReviewModeAI:
		client, err := newAPIClient(cfg)
		if err != nil {
			return nil, err
		}
		return agent.SplitReviewer{
			Artifacts:   agent.NewAPIReviewer(client),
			Escalations: agent.NewHumanReviewer(decisionsDir(stateDir)),
		}, nil
	default:
		return nil, fmt.Errorf("unknown review mode %q (want auto, ai or human)", cfg.Review.Mode)
	}
}

// newAPIClient builds the review model client from the anthropic settings.
func newAPIClient(cfg *config.Config) (*api.Client, error) {
	cc := api.ClientConfig{
		Model:         anthropic.Model(cfg.Review.Model),
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
	}
	if !cc.UseAWSBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("review.mode is ai: %w", err)
		}
		cc.APIKey = key
	}
	client, err := api.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

// printEvents renders orchestrator events until the stream closes.
func printEvents(events <-chan orchestrator.OrchestratorEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventTaskStarted:
			printStatus("▶", fmt.Sprintf("%s: %s [%s]", ev.TaskID, ev.TaskTitle, ev.Message), color.FgCyan)
		case orchestrator.EventTaskCompleted:
			printStatus("✓", fmt.Sprintf("%s done %s", ev.TaskID, ev.Message), color.FgGreen)
		case orchestrator.EventTaskFailed:
			printStatus("✗", fmt.Sprintf("%s rejected: %s", ev.TaskID, ev.Message), color.FgRed)
		case orchestrator.EventTaskPaused:
			printStatus("⏸", fmt.Sprintf("%s paused: %s", ev.TaskID, ev.Message), color.FgYellow)
		case orchestrator.EventGateResult:
			attr := color.FgGreen
			if models.GateStatus(ev.Message) == models.GateFail {
				attr = color.FgRed
			}
			printStatus("  •", fmt.Sprintf("%s gate %s (round %d): %s", ev.TaskID, ev.Gate, ev.Attempt, ev.Message), attr)
		case orchestrator.EventDecision:
			printStatus("  •", fmt.Sprintf("%s %s", ev.TaskID, ev.Message), color.FgWhite)
		case orchestrator.EventDeferredPromoted:
			printStatus("↺", fmt.Sprintf("restored %v after %s", ev.Promoted, ev.TaskID), color.FgYellow)
		case orchestrator.EventIntegrationPassed:
			printStatus("✓", "integration passed", color.FgGreen)
		case orchestrator.EventIntegrationFailed:
			printStatus("✗", "integration failed: "+ev.Message, color.FgRed)
		}
	}
}

// Close releases the stores and the debug log.
func (p *pipeline) Close() {
	if p.orch != nil {
		p.orch.Close()
	}
	if p.journal != nil {
		p.journal.Close()
	}
	if p.logger != nil {
		p.logger.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}
