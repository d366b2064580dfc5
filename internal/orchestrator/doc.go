// Package orchestrator drives tasks from PENDING to DONE.
//
// Each claimed task goes through a state machine:
//   - dispatch: build a context package and call the Executor
//   - review: ask the Reviewer to approve, revise, reject or pause
//   - gates: run the task's quality gates on the approved draft
//   - escalation: once gate retries run out, ask for a gate-failure decision
//
// A pause records a blocked reason on the project and stops the run; Resume
// picks paused tasks up from the stage they stopped at. A rejection fails the
// task and sends the pipeline back to decomposition. When no eligible task is
// left, the optional IntegrationRunner decides whether the pipeline reaches
// the integrate phase.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Project:  proj,
//		Executor: exec,
//		Reviewer: reviewer,
//		Gates:    gates,
//	}, orchestrator.WithPolicy(policy.Default()))
//	res, err := orch.Run(ctx)
package orchestrator
