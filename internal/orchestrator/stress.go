package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-hwdiag/internal/logging"
	"github.com/randomizedcoder/go-hwdiag/internal/preflight"
	"github.com/randomizedcoder/go-hwdiag/internal/process"
	"github.com/randomizedcoder/go-hwdiag/internal/retry"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
	"github.com/randomizedcoder/go-hwdiag/internal/supervisor"
)

// BenchmarkKeyPrefix prefixes stored benchmark results.
const BenchmarkKeyPrefix = "benchmark:"

// StressOptions holds the CLI overrides for stress and benchmark runs.
type StressOptions struct {
	Cores         int           // 0 keeps the configured value
	Timeout       time.Duration // 0 keeps the configured value
	PrintCmd      bool
	NoWeb         bool
	SkipPreflight bool
}

// BenchmarkResult is the record stored under benchmark:<run id>.
type BenchmarkResult struct {
	RunID     string                   `json:"run_id"`
	Hostname  string                   `json:"hostname"`
	Variant   string                   `json:"variant"`
	Command   string                   `json:"command"`
	CPUMethod string                   `json:"cpu_method"`
	StartedAt time.Time                `json:"started_at"`
	Duration  string                   `json:"duration"`
	Attempts  int                      `json:"attempts"`
	Outcome   string                   `json:"outcome"`
	ExitCode  int                      `json:"exit_code"`
	Metrics   []process.StressorMetric `json:"metrics"`
}

// stressRun describes one supervised stress-ng invocation.
type stressRun struct {
	title  string
	runID  string
	config *process.StressConfig
	opts   StressOptions
}

// stressReport is what a finished stress-ng task leaves behind.
type stressReport struct {
	result  retry.Result
	output  *logging.OutputHandler
	metrics []process.StressorMetric
	command string
	start   time.Time
	elapsed time.Duration
}

// RunStress stages stress-ng and runs it with the configured core count and
// timeout, alongside the status server unless opts.NoWeb is set.
func (o *Orchestrator) RunStress(ctx context.Context, opts StressOptions) error {
	sc := o.config.Stress
	cfg := process.DefaultStressConfig(o.stager.Path(o.variant))
	cfg.Cores = sc.Cores
	cfg.Timeout = sc.Timeout
	cfg.MetricsBrief = sc.MetricsBrief
	cfg.ExtraFlags = sc.ExtraFlags
	if opts.Cores > 0 {
		cfg.Cores = opts.Cores
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}

	_, err := o.runStress(ctx, stressRun{title: "Stress", config: cfg, opts: opts})
	return err
}

// RunBenchmark runs stress-ng across every online CPU with the configured
// method and stores the parsed metrics under benchmark:<run id>. It returns
// the stored result.
func (o *Orchestrator) RunBenchmark(ctx context.Context, opts StressOptions) (*BenchmarkResult, error) {
	if o.store == nil {
		return nil, errors.New("benchmark: no store configured")
	}

	bc := o.config.Benchmark
	timeout := bc.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	cfg := process.BenchmarkStressConfig(o.stager.Path(o.variant), bc.CPUMethod, timeout)

	runID := uuid.NewString()
	report, err := o.runStress(ctx, stressRun{title: "Benchmark", runID: runID, config: cfg, opts: opts})
	if err != nil || report == nil {
		return nil, err
	}

	outcome := report.result.Outcome
	result := &BenchmarkResult{
		RunID:     runID,
		Hostname:  o.hostname,
		Variant:   o.variant.String(),
		Command:   report.command,
		CPUMethod: bc.CPUMethod,
		StartedAt: report.start.UTC(),
		Duration:  report.elapsed.Round(time.Millisecond).String(),
		Attempts:  report.result.Attempts,
		Outcome:   outcome.Kind.String(),
		ExitCode:  outcome.ExitCode,
		Metrics:   report.metrics,
	}

	value, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode benchmark result: %w", err)
	}
	key := BenchmarkKeyPrefix + runID
	if _, _, err := o.store.Put(ctx, []byte(key), string(value)); err != nil {
		return nil, fmt.Errorf("store benchmark result: %w", err)
	}

	o.logger.Info("benchmark_stored", "key", key, "stressors", len(result.Metrics))
	return result, nil
}

// runStress is shared by stress and benchmark. A nil report with a nil
// error means nothing was run (--print-cmd).
func (o *Orchestrator) runStress(ctx context.Context, run stressRun) (*stressReport, error) {
	builder := process.NewStressBuilder(run.config)
	if run.opts.PrintCmd {
		fmt.Fprintln(o.stdout, builder.CommandString())
		return nil, nil
	}

	if !run.opts.SkipPreflight {
		err := o.preflight(preflight.Options{
			StageDir:      filepath.Dir(o.stager.Path(o.variant)),
			StressProgram: "stress-ng",
			Workers:       run.config.Cores,
		})
		if err != nil {
			return nil, err
		}
	}

	bin, err := o.stager.Stage(o.variant)
	o.collector.RecordStage(err)
	if err != nil {
		return nil, fmt.Errorf("stage stress-ng: %w", err)
	}
	defer bin.Release()

	spec := builder.Spec()
	command := spec.String()
	o.stressCommand.Store(&command)

	policy := retry.Policy{
		MaxAttempts: o.config.Stress.MaxRetries,
		Backoff:     o.config.Stress.RetryBackoff,
		Multiplier:  o.config.Stress.RetryMultiplier,
		MaxBackoff:  o.config.Stress.RetryMaxBackoff,
		Jitter:      o.config.Stress.RetryJitter,
	}
	executor := retry.NewExecutor(o.runner, o.logger, retry.Callbacks{
		OnAttempt: func(attempt int, outcome process.Outcome) {
			o.collector.RecordAttempt(outcome)
			o.stressAttempts.Store(int64(attempt))
			if outcome.Succeeded() {
				o.lastExitCode.Store(int64(outcome.ExitCode))
			}
		},
		OnRetry: func(int, time.Duration) {
			o.collector.RecordRetry()
			o.stressRetries.Add(1)
		},
		OnExhausted: func(int, process.Outcome) {
			o.collector.RecordExhausted()
		},
	})

	report := &stressReport{
		output:  logging.NewOutputHandler("stress-ng", o.logger, o.logger.Enabled(ctx, slog.LevelDebug)),
		command: command,
		start:   time.Now(),
	}

	done := make(chan struct{})
	stressTask := supervisor.Task{Name: "stress", Run: func(ctx context.Context) error {
		defer close(done)
		o.stressRunning.Store(true)
		defer o.stressRunning.Store(false)

		o.logger.Info("stress_starting",
			"command", command,
			"variant", o.variant.String(),
			"max_attempts", policy.TotalAttempts(),
		)

		report.result = executor.Run(ctx, spec, policy)
		report.elapsed = time.Since(report.start)

		outcome := report.result.Outcome
		report.output.HandleText(outcome.Stdout)
		report.output.HandleText(outcome.Stderr)
		report.metrics = process.ParseMetricsBrief(outcome.Stdout + "\n" + outcome.Stderr)

		switch {
		case !outcome.Succeeded():
			return fmt.Errorf("stress-ng %s after %d attempts: %w", outcome.Kind, report.result.Attempts, outcome.Err)
		case outcome.ExitCode != 0 && ctx.Err() == nil:
			return fmt.Errorf("stress-ng exited with code %d", outcome.ExitCode)
		}

		o.logger.Info("stress_complete",
			"exit_code", outcome.ExitCode,
			"attempts", report.result.Attempts,
			"duration", report.elapsed.String(),
		)
		return nil
	}}

	tasks := []supervisor.Task{stressTask}
	webAddr := ""
	if !run.opts.NoWeb {
		srv := o.newServer()
		tasks = append(tasks, serverTask(srv))
		webAddr = o.config.Web.Addr
	}

	result, runErr := o.supervise(ctx, tasks...)

	select {
	case <-done:
	default:
		// stress-ng outlived the shutdown timeout; its report is still
		// being written.
		o.logger.Warn("stress_summary_skipped", "stragglers", result.Stragglers)
		return nil, runErr
	}

	if report.result.Attempts > 0 {
		outcome := report.result.Outcome
		fmt.Fprint(o.stdout, stats.FormatStressSummary(stats.StressSummaryConfig{
			Title:       run.title,
			Variant:     o.variant.String(),
			Command:     command,
			RunID:       run.runID,
			Duration:    report.elapsed,
			Attempts:    report.result.Attempts,
			MaxAttempts: policy.TotalAttempts(),
			Outcome:     outcome.Kind.String(),
			ExitCode:    outcome.ExitCode,
			ErrorCounts: report.output.CountErrors(),
			Metrics:     report.metrics,
			WebAddr:     webAddr,
		}))
	}

	if runErr != nil {
		return nil, runErr
	}
	if result.Reason != supervisor.ReasonTaskCompleted {
		// Interrupted before stress-ng finished; nothing to record.
		return nil, nil
	}
	return report, nil
}
