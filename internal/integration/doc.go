// Package integration provides cross-package tests for foundry.
// They drive the orchestrator with the real checkpoint store, run journal,
// command-backed collaborators and decision files.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
