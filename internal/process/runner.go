// Package process provides abstractions for running external processes.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/logging"
)

// DefaultWaitDelay bounds how long Run waits for output pipes to drain after
// the process has been killed on cancellation.
const DefaultWaitDelay = 2 * time.Second

// CommandSpec describes one external command invocation.
type CommandSpec struct {
	Program string
	Args    []string

	// OutputPath, when set, receives both stdout and stderr through a single
	// shared file handle. Nothing is captured in memory.
	OutputPath string

	// Stdout and Stderr, when set, receive a copy of the captured streams.
	Stdout io.Writer
	Stderr io.Writer
}

// String returns the command line (for logging and --print-cmd).
func (s CommandSpec) String() string {
	if len(s.Args) == 0 {
		return s.Program
	}
	return s.Program + " " + strings.Join(s.Args, " ")
}

// OutcomeKind classifies how a run ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the process ran and exited, with any exit code.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeSpawnFailed means the process never started.
	OutcomeSpawnFailed

	// OutcomeWaitFailed means waiting for the process failed for a reason
	// other than its exit status.
	OutcomeWaitFailed
)

// String returns a human-readable name for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSpawnFailed:
		return "spawn_failed"
	case OutcomeWaitFailed:
		return "wait_failed"
	default:
		return "unknown"
	}
}

// Outcome captures the result of one process run.
type Outcome struct {
	Kind     OutcomeKind
	Stdout   string
	Stderr   string
	ExitCode int // -1 unless Kind is OutcomeSuccess
	Err      error
	Duration time.Duration
	PID      int
}

// Succeeded reports whether the process ran to exit.
// A non-zero exit code is still a success at this layer.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Runner executes a command once and reports the outcome. Implementations
// never retry. Run blocks until the process exits.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) Outcome
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	logger    *slog.Logger
	waitDelay time.Duration
}

// NewExecRunner creates a runner that logs process lifecycle events to logger.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{
		logger:    logger,
		waitDelay: DefaultWaitDelay,
	}
}

// Run starts the command and waits for it to exit. Cancelling ctx kills the
// whole process group.
func (r *ExecRunner) Run(ctx context.Context, spec CommandSpec) Outcome {
	start := time.Now()

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)

	// Set process group for clean shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = r.waitDelay

	var stdout, stderr bytes.Buffer
	if spec.OutputPath != "" {
		sink, err := os.OpenFile(spec.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return r.spawnFailed(spec, start, fmt.Errorf("open output %s: %w", spec.OutputPath, err))
		}
		defer sink.Close()

		// One handle for both streams keeps their writes ordered.
		cmd.Stdout = sink
		cmd.Stderr = sink
	} else {
		cmd.Stdout = teeWriter(&stdout, spec.Stdout)
		cmd.Stderr = teeWriter(&stderr, spec.Stderr)
	}

	r.logger.Log(ctx, logging.LevelTrace, "process_command", "command", spec.String())

	if err := cmd.Start(); err != nil {
		return r.spawnFailed(spec, start, err)
	}

	pid := cmd.Process.Pid
	r.logger.Debug("process_started",
		"program", spec.Program,
		"pid", pid,
	)

	waitErr := cmd.Wait()
	outcome := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		PID:      pid,
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.As(waitErr, &exitErr):
		outcome.Kind = OutcomeSuccess
		outcome.ExitCode = extractExitCode(waitErr)
	default:
		outcome.Kind = OutcomeWaitFailed
		outcome.ExitCode = -1
		outcome.Err = waitErr
		r.logger.Warn("process_wait_failed",
			"program", spec.Program,
			"pid", pid,
			"error", waitErr,
		)
		return outcome
	}

	r.logger.Debug("process_exited",
		"program", spec.Program,
		"pid", pid,
		"exit_code", outcome.ExitCode,
		"duration", outcome.Duration.String(),
	)

	return outcome
}

func (r *ExecRunner) spawnFailed(spec CommandSpec, start time.Time, err error) Outcome {
	r.logger.Warn("process_spawn_failed",
		"program", spec.Program,
		"error", err,
	)
	return Outcome{
		Kind:     OutcomeSpawnFailed,
		ExitCode: -1,
		Err:      err,
		Duration: time.Since(start),
	}
}

func teeWriter(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
