package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Exit codes returned in Result.ExitCode.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// DefaultShutdownTimeout bounds how long Run waits for tasks after
// cancelling the shared context.
const DefaultShutdownTimeout = 5 * time.Second

// Task is one unit of supervised work. Run must return once ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error

	// Background tasks are cancelled and drained like any other, but their
	// return does not end the run. The others keep going.
	Background bool
}

// NotifyFunc derives a context that is cancelled when an interrupt arrives.
type NotifyFunc func(parent context.Context) (context.Context, context.CancelFunc)

// NotifyInterrupt watches SIGINT and SIGTERM.
func NotifyInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called on every state transition.
	OnStateChange func(oldState, newState State)

	// OnTaskExit is called whenever a task returns.
	OnTaskExit func(name string, err error)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	Callbacks       Callbacks

	// Notify defaults to NotifyInterrupt.
	Notify NotifyFunc
}

// Result describes how a supervised run ended.
type Result struct {
	Reason   Reason
	Task     string // task that ended the run; empty for interrupts
	Err      error  // error of that task, if any
	ExitCode int

	// Stragglers lists tasks that had not returned when the shutdown
	// timeout expired.
	Stragglers []string
	Duration   time.Duration
}

// Supervisor races its tasks against an interrupt watcher. The first to
// finish decides the result; everything else is then cancelled.
type Supervisor struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration
	callbacks       Callbacks
	notify          NotifyFunc

	state   State
	stateMu sync.RWMutex
}

type taskExit struct {
	index int
	err   error
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	notify := cfg.Notify
	if notify == nil {
		notify = NotifyInterrupt
	}

	return &Supervisor{
		logger:          logger,
		shutdownTimeout: timeout,
		callbacks:       cfg.Callbacks,
		notify:          notify,
		state:           StateIdle,
	}
}

// Run starts every task in its own goroutine with a shared cancellable
// context and blocks until the first foreground task returns or an
// interrupt arrives. Background tasks may stop earlier without ending the
// run. It then cancels the shared context and waits up to the shutdown
// timeout for the rest.
//
// Interrupts, parent cancellation and clean task completion give ExitOK; a
// task error gives ExitFailure.
func (s *Supervisor) Run(ctx context.Context, tasks ...Task) Result {
	start := time.Now()
	s.setState(StateRunning)

	interruptCtx, stopNotify := s.notify(ctx)
	defer stopNotify()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan taskExit, len(tasks))
	for i, task := range tasks {
		s.logger.Debug("task_started", "task", task.Name)
		go func(i int, task Task) {
			done <- taskExit{index: i, err: runTask(runCtx, task)}
		}(i, task)
	}

	var result Result
	exited := make([]bool, len(tasks))

race:
	for {
		select {
		case <-interruptCtx.Done():
			if ctx.Err() != nil {
				result.Reason = ReasonCancelled
				s.logger.Info("context_cancelled")
			} else {
				result.Reason = ReasonInterrupt
				s.logger.Info("received_signal", "signal", "interrupt")
			}
			result.ExitCode = ExitOK
			break race

		case e := <-done:
			exited[e.index] = true
			task := tasks[e.index]
			s.taskExited(task.Name, e.err)

			if task.Background && ctx.Err() == nil {
				if e.err != nil {
					s.logger.Warn("background_task_stopped", "task", task.Name, "error", e.err)
				} else {
					s.logger.Info("background_task_stopped", "task", task.Name)
				}
				continue
			}

			result.Task = task.Name
			result.Err = e.err
			switch {
			case ctx.Err() != nil && (e.err == nil || errors.Is(e.err, ctx.Err())):
				result.Reason = ReasonCancelled
				result.ExitCode = ExitOK
				s.logger.Info("context_cancelled")
			case e.err != nil:
				result.Reason = ReasonTaskFailed
				result.ExitCode = ExitFailure
				s.logger.Error("task_failed", "task", task.Name, "error", e.err)
			default:
				result.Reason = ReasonTaskCompleted
				result.ExitCode = ExitOK
				s.logger.Info("task_completed", "task", task.Name)
			}
			break race
		}
	}

	s.setState(StateDraining)
	cancel()

	result.Stragglers = s.drain(tasks, exited, done)
	result.Duration = time.Since(start)

	s.setState(StateStopped)
	s.logger.Info("supervisor_stopped",
		"reason", result.Reason.String(),
		"exit_code", result.ExitCode,
		"duration", result.Duration.String(),
	)

	return result
}

// drain waits for the tasks that have not exited yet and returns the names
// of those still running when the shutdown timeout expires.
func (s *Supervisor) drain(tasks []Task, exited []bool, done <-chan taskExit) []string {
	remaining := 0
	for _, e := range exited {
		if !e {
			remaining++
		}
	}

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	for remaining > 0 {
		select {
		case e := <-done:
			remaining--
			exited[e.index] = true
			s.taskExited(tasks[e.index].Name, e.err)
			if e.err != nil && !errors.Is(e.err, context.Canceled) {
				s.logger.Warn("task_stop_error",
					"task", tasks[e.index].Name,
					"error", e.err,
				)
			}

		case <-timer.C:
			var stragglers []string
			for i, e := range exited {
				if !e {
					stragglers = append(stragglers, tasks[i].Name)
				}
			}
			s.logger.Warn("shutdown_incomplete",
				"timeout", s.shutdownTimeout.String(),
				"tasks", stragglers,
			)
			return stragglers
		}
	}
	return nil
}

func (s *Supervisor) taskExited(name string, err error) {
	s.logger.Debug("task_exited", "task", name, "error", err)
	if s.callbacks.OnTaskExit != nil {
		s.callbacks.OnTaskExit(name, err)
	}
}

// runTask turns a panicking task into a task error.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if oldState != newState && s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, newState)
	}
}
