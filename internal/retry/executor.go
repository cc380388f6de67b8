// Package retry runs external commands under a bounded retry policy.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/process"
)

// Policy bounds how often a command is retried and how long to wait in
// between. Total attempts never exceed MaxAttempts+1.
type Policy struct {
	MaxAttempts int           // retries after the first attempt
	Backoff     time.Duration // delay before the first retry

	Multiplier float64       // growth per retry; <= 1 keeps Backoff constant
	MaxBackoff time.Duration // cap on the grown delay; 0 = none
	Jitter     float64       // fraction of the delay to randomise, 0..1
}

// TotalAttempts returns the maximum number of runs the policy allows.
func (p Policy) TotalAttempts() int {
	if p.MaxAttempts < 0 {
		return 1
	}
	return p.MaxAttempts + 1
}

// Callbacks contains optional callback functions for executor events.
type Callbacks struct {
	// OnAttempt is called after every attempt with its 1-based number.
	OnAttempt func(attempt int, outcome process.Outcome)

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration)

	// OnExhausted is called when the last allowed attempt failed.
	OnExhausted func(attempts int, outcome process.Outcome)
}

// Result is the final outcome plus the number of attempts made.
type Result struct {
	Outcome  process.Outcome
	Attempts int
}

// Executor wraps a process.Runner with a retry policy. Attempts are strictly
// sequential. Only spawn and wait failures are retried; a process that ran
// and exited is returned immediately whatever its exit code.
type Executor struct {
	runner    process.Runner
	logger    *slog.Logger
	callbacks Callbacks
}

// NewExecutor creates an executor around runner.
func NewExecutor(runner process.Runner, logger *slog.Logger, callbacks Callbacks) *Executor {
	return &Executor{
		runner:    runner,
		logger:    logger,
		callbacks: callbacks,
	}
}

// Execute runs spec under policy and returns the final outcome.
func (e *Executor) Execute(ctx context.Context, spec process.CommandSpec, policy Policy) process.Outcome {
	return e.Run(ctx, spec, policy).Outcome
}

// Run runs spec under policy and reports how many attempts were made.
// Cancelling ctx during a backoff returns the last failure immediately.
func (e *Executor) Run(ctx context.Context, spec process.CommandSpec, policy Policy) Result {
	maxRetries := policy.TotalAttempts() - 1

	for attempt := 0; ; attempt++ {
		outcome := e.runner.Run(ctx, spec)
		if e.callbacks.OnAttempt != nil {
			e.callbacks.OnAttempt(attempt+1, outcome)
		}

		if outcome.Succeeded() {
			return Result{Outcome: outcome, Attempts: attempt + 1}
		}

		if attempt >= maxRetries {
			e.logger.Error("retry_exhausted",
				"program", spec.Program,
				"attempts", attempt+1,
				"kind", outcome.Kind.String(),
				"error", outcome.Err,
			)
			if e.callbacks.OnExhausted != nil {
				e.callbacks.OnExhausted(attempt+1, outcome)
			}
			return Result{Outcome: outcome, Attempts: attempt + 1}
		}

		delay := policy.Delay(attempt + 1)
		e.logger.Warn("retry_scheduled",
			"program", spec.Program,
			"attempt", attempt+1,
			"max_attempts", policy.TotalAttempts(),
			"kind", outcome.Kind.String(),
			"error", outcome.Err,
			"delay", delay.String(),
		)
		if e.callbacks.OnRetry != nil {
			e.callbacks.OnRetry(attempt+1, delay)
		}

		if !sleep(ctx, delay) {
			e.logger.Info("retry_cancelled",
				"program", spec.Program,
				"attempts", attempt+1,
			)
			return Result{Outcome: outcome, Attempts: attempt + 1}
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
