// Package policy defines the retry, timeout and concurrency bounds of the
// execute-verify loop, so they can be configured and tested in one place.
package policy

import (
	"fmt"
	"time"
)

// Strategy selects how ready tasks are dispatched.
type Strategy string

const (
	// StrategySequential runs exactly one ready task per iteration.
	StrategySequential Strategy = "sequential"
	// StrategyBatched fans a whole ready batch out to parallel workers.
	StrategyBatched Strategy = "batched"
)

// Config contains all configurable policy parameters for the orchestrator.
type Config struct {
	// Retry bounds
	Retry RetryPolicy

	// Collaborator timeouts
	Timeouts TimeoutPolicy

	// Dispatch strategy and parallelism
	Concurrency ConcurrencyPolicy
}

// RetryPolicy bounds the revision and gate loops.
type RetryPolicy struct {
	// MaxRevisions is the number of REVISE rounds allowed; the dispatch loop makes
	// at most MaxRevisions+1 attempts.
	MaxRevisions int

	// MaxGateRetries is the number of re-dispatches after a failing gate round; the
	// gate loop runs at most MaxGateRetries+1 rounds.
	MaxGateRetries int
}

// TimeoutPolicy bounds each blocking collaborator call.
type TimeoutPolicy struct {
	// Executor bounds a single dispatch. Expiry consumes one attempt.
	Executor time.Duration

	// Gate bounds a single gate run. Expiry is recorded as a gate failure.
	Gate time.Duration

	// Integration bounds the final integration check.
	Integration time.Duration
}

// ConcurrencyPolicy controls the outer loop.
type ConcurrencyPolicy struct {
	// Strategy is sequential or batched.
	Strategy Strategy

	// MaxWorkers caps parallel workers in batched mode.
	MaxWorkers int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Retry: RetryPolicy{
			MaxRevisions:   3,
			MaxGateRetries: 2,
		},
		Timeouts: TimeoutPolicy{
			Executor:    15 * time.Minute,
			Gate:        5 * time.Minute,
			Integration: 10 * time.Minute,
		},
		Concurrency: ConcurrencyPolicy{
			Strategy:   StrategySequential,
			MaxWorkers: 4,
		},
	}
}

// Validate checks that policy values are within acceptable ranges.
// Out-of-range numbers are reset to defaults; an unknown strategy is an error.
func (c *Config) Validate() error {
	if c.Retry.MaxRevisions < 0 {
		c.Retry.MaxRevisions = 3
	}
	if c.Retry.MaxGateRetries < 0 {
		c.Retry.MaxGateRetries = 2
	}
	if c.Timeouts.Executor <= 0 {
		c.Timeouts.Executor = 15 * time.Minute
	}
	if c.Timeouts.Gate <= 0 {
		c.Timeouts.Gate = 5 * time.Minute
	}
	if c.Timeouts.Integration <= 0 {
		c.Timeouts.Integration = 10 * time.Minute
	}
	if c.Concurrency.MaxWorkers < 1 {
		c.Concurrency.MaxWorkers = 4
	}
	switch c.Concurrency.Strategy {
	case "":
		c.Concurrency.Strategy = StrategySequential
	case StrategySequential, StrategyBatched:
	default:
		return fmt.Errorf("unknown dispatch strategy %q", c.Concurrency.Strategy)
	}
	return nil
}

// ParseStrategy converts a config or flag value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySequential, StrategyBatched:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown dispatch strategy %q (want sequential or batched)", s)
	}
}
