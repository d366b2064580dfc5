package orchestrator

import (
	"context"

	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Executor produces an artifact for one dispatch attempt.
// A returned error (transport failure, timeout) consumes the attempt.
type Executor interface {
	Execute(ctx context.Context, pkg *models.ContextPackage) (*models.Draft, error)
}

// Reviewer decides on artifacts and on gate-exhausted escalations.
type Reviewer interface {
	// Review returns APPROVE, REVISE, REJECT or PAUSE for a produced artifact.
	Review(ctx context.Context, task *models.Task, draft *models.Draft) (models.Decision, error)
	// ReviewGateFailure decides what happens once gate retries are exhausted.
	ReviewGateFailure(ctx context.Context, task *models.Task, draft *models.Draft, results []models.GateResult) (models.Decision, error)
}

// GateRunner runs one quality gate against a task's artifact.
type GateRunner interface {
	RunGate(ctx context.Context, task *models.Task, draft *models.Draft, gate models.GateKind) (models.GateResult, error)
}

// IntegrationResult is the outcome of the final cross-task check.
type IntegrationResult struct {
	Passed bool
	Output string
}

// IntegrationRunner runs the final check over the whole task set.
type IntegrationRunner interface {
	RunIntegration(ctx context.Context, taskIDs []string, ref string) (IntegrationResult, error)
}

// Workspace is an isolated filesystem and branch owned by one in-flight task.
type Workspace struct {
	Path   string
	Branch string
}

// WorkspaceManager hands out and takes back exclusive workspaces.
type WorkspaceManager interface {
	Acquire(ctx context.Context, task *models.Task) (*Workspace, error)
	CommitID(ctx context.Context, ws *Workspace) (string, error)
	Release(ctx context.Context, ws *Workspace) error
}

// Checkpointer persists project snapshots. Save must write both the named
// checkpoint and the "latest" pointer.
type Checkpointer interface {
	Save(ctx context.Context, name string, doc *project.Document) error
}

// RunRecorder journals orchestrator runs.
type RunRecorder interface {
	StartRun(ctx context.Context, strategy string) (string, error)
	FinishRun(ctx context.Context, runID, outcome, checkpoint string) error
}
