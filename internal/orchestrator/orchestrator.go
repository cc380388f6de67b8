// Package orchestrator wires hwdiag's components together for each CLI
// command and runs them under the supervisor.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-hwdiag/internal/config"
	"github.com/randomizedcoder/go-hwdiag/internal/metrics"
	"github.com/randomizedcoder/go-hwdiag/internal/preflight"
	"github.com/randomizedcoder/go-hwdiag/internal/process"
	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
	"github.com/randomizedcoder/go-hwdiag/internal/stager"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
	"github.com/randomizedcoder/go-hwdiag/internal/storage"
	"github.com/randomizedcoder/go-hwdiag/internal/supervisor"
)

// ServiceName is reported on /status.
const ServiceName = "hwdiag"

// Options holds the per-command dependencies of an Orchestrator. Zero
// values are replaced by the production implementations.
type Options struct {
	// Command is the CLI command being run, used for labels and /status.
	Command string
	Version string

	// Stdout receives summaries and command output. Defaults to os.Stdout.
	Stdout io.Writer

	// Store is required by every command that persists results.
	Store       storage.Store
	StoragePath string // shown in summaries

	Runner process.Runner
	Stager *stager.Stager

	// Notify defaults to supervisor.NotifyInterrupt.
	Notify supervisor.NotifyFunc

	// GOOS defaults to runtime.GOOS.
	GOOS string
}

// Orchestrator coordinates all components for one hwdiag command.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	stdout io.Writer

	command     string
	version     string
	goos        string
	hostname    string
	storagePath string

	runner  process.Runner
	store   storage.Store
	stager  *stager.Stager
	variant stager.Variant
	notify  supervisor.NotifyFunc

	registry  *prometheus.Registry
	collector *metrics.Collector

	startTime time.Time

	// Overwatch state, set by RunOverwatch.
	mu      sync.RWMutex
	sampler *sampler.Sampler
	digest  *stats.SampleDigest

	// Stress state, set by RunStress and RunBenchmark.
	stressCommand  atomic.Pointer[string]
	stressRunning  atomic.Bool
	stressAttempts atomic.Int64
	stressRetries  atomic.Int64
	lastExitCode   atomic.Int64
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	variant, defaulted := stager.DetectVariant(goos)
	if defaulted {
		logger.Warn("variant_defaulted", "goos", goos, "variant", variant.String())
	}

	runner := opts.Runner
	if runner == nil {
		runner = process.NewExecRunner(logger)
	}

	st := opts.Stager
	if st == nil {
		st = stager.New(stager.Config{
			Dir:    cfg.General.StageDir,
			Keep:   cfg.General.KeepStaged,
			Logger: logger,
		})
	}

	notify := opts.Notify
	if notify == nil {
		notify = supervisor.NotifyInterrupt
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = process.UnknownValue
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: opts.Version,
		Variant: variant.String(),
		Command: opts.Command,
	}, registry)

	o := &Orchestrator{
		config:      cfg,
		logger:      logger,
		stdout:      stdout,
		command:     opts.Command,
		version:     opts.Version,
		goos:        goos,
		hostname:    hostname,
		storagePath: opts.StoragePath,
		runner:      runner,
		store:       opts.Store,
		stager:      st,
		variant:     variant,
		notify:      notify,
		registry:    registry,
		collector:   collector,
		startTime:   time.Now(),
	}
	o.lastExitCode.Store(-1)
	return o
}

// OpenStore opens the configured SQLite database, creating its parent
// directory, or an in-memory store when ephemeral is set.
func OpenStore(cfg *config.Config, ephemeral bool, logger *slog.Logger) (storage.Store, error) {
	if ephemeral {
		return storage.NewMemoryStore(), nil
	}

	path := cfg.General.StoragePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	store, err := storage.OpenSQLite(storage.SQLiteConfig{Path: path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", path, err)
	}
	return store, nil
}

// preflight runs the startup checks and fails when any required one did.
func (o *Orchestrator) preflight(opts preflight.Options) error {
	result := preflight.RunAll(opts)
	preflight.PrintResults(o.stdout, result)
	if !result.Passed {
		return fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
	}
	return nil
}

// newServer builds the status server for this command.
func (o *Orchestrator) newServer() *metrics.Server {
	web := o.config.Web
	return metrics.NewServer(metrics.ServerConfig{
		Addr:            web.Addr,
		RateLimit:       web.RateLimit,
		RateBurst:       web.RateBurst,
		ShutdownTimeout: web.ShutdownTimeout,
		Gatherer:        o.registry,
		Collector:       o.collector,
		Status:          o,
		Logger:          o.logger,
	})
}

// supervise runs tasks under a fresh supervisor and converts a failed
// result into an error.
func (o *Orchestrator) supervise(ctx context.Context, tasks ...supervisor.Task) (supervisor.Result, error) {
	sup := supervisor.New(supervisor.Config{
		Logger:          o.logger,
		ShutdownTimeout: o.config.Web.ShutdownTimeout,
		Notify:          o.notify,
	})

	result := sup.Run(ctx, tasks...)
	if result.ExitCode != supervisor.ExitOK {
		return result, fmt.Errorf("%s: %w", result.Task, result.Err)
	}
	return result, nil
}

// serverTask wraps the status server as a supervised task.
func serverTask(srv *metrics.Server) supervisor.Task {
	return supervisor.Task{Name: "web", Run: srv.Start}
}

// Status implements metrics.StatusSource.
func (o *Orchestrator) Status() metrics.Status {
	st := metrics.Status{
		Service:   ServiceName,
		Version:   o.version,
		Command:   o.command,
		Variant:   o.variant.String(),
		Hostname:  o.hostname,
		StartedAt: o.startTime,
		Uptime:    time.Since(o.startTime).Round(time.Second).String(),
	}

	o.mu.RLock()
	smp, digest := o.sampler, o.digest
	o.mu.RUnlock()

	if smp != nil {
		s := smp.Stats()
		st.Sampler = &metrics.SamplerStatus{
			State:         s.State.String(),
			Interval:      smp.Interval().String(),
			Iterations:    s.Iterations,
			SamplesStored: s.SamplesStored,
			LastRun:       s.LastRun,
			StopReason:    s.StopReason,
			Latest:        smp.Latest(),
		}
		if digest != nil {
			st.Sampler.Digest = digest.Snapshot()
			st.Sampler.Top = digest.TopProcesses(10)
		}
	}

	if cmd := o.stressCommand.Load(); cmd != nil {
		st.Stress = &metrics.StressStatus{
			Command:      *cmd,
			Attempts:     o.stressAttempts.Load(),
			Retries:      o.stressRetries.Load(),
			LastExitCode: int(o.lastExitCode.Load()),
			Running:      o.stressRunning.Load(),
		}
	}

	return st
}

// Variant returns the payload variant selected at startup.
func (o *Orchestrator) Variant() stager.Variant {
	return o.variant
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.collector
}

// Registry returns the registry served on /metrics.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
