package orchestrator

import (
	"github.com/ShayCichocki/foundry/internal/orchestrator/policy"
	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// RequiredConfig contains the collaborators an Orchestrator cannot run without.
type RequiredConfig struct {
	// Project is the single authoritative pipeline state.
	Project *project.Project
	// Executor produces artifacts.
	Executor Executor
	// Reviewer decides on artifacts and escalations.
	Reviewer Reviewer
	// Gates runs quality gates.
	Gates GateRunner
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	policyConfig   *policy.Config
	logger         *DebugLogger
	integration    IntegrationRunner
	integrationRef string
	workspaces     WorkspaceManager
	checkpointer   Checkpointer
	recorder       RunRecorder
	defaultGates   []models.GateKind
	eventBuffer    int
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policyConfig = p }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithIntegration sets the final integration runner and the command or
// reference it is handed.
func WithIntegration(r IntegrationRunner, ref string) Option {
	return func(o *orchestratorOptions) {
		o.integration = r
		o.integrationRef = ref
	}
}

// WithWorkspaces sets the workspace manager.
func WithWorkspaces(w WorkspaceManager) Option {
	return func(o *orchestratorOptions) { o.workspaces = w }
}

// WithCheckpointer sets where project snapshots are persisted.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *orchestratorOptions) { o.checkpointer = c }
}

// WithRunRecorder sets the run journal.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *orchestratorOptions) { o.recorder = r }
}

// WithDefaultGates sets the gates used for tasks that list none.
func WithDefaultGates(gates ...models.GateKind) Option {
	return func(o *orchestratorOptions) { o.defaultGates = gates }
}

// WithEvents enables the event stream with the given buffer size.
func WithEvents(bufferSize int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = bufferSize }
}
