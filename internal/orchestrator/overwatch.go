package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/preflight"
	"github.com/randomizedcoder/go-hwdiag/internal/process"
	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
	"github.com/randomizedcoder/go-hwdiag/internal/supervisor"
	"github.com/randomizedcoder/go-hwdiag/internal/tui"
)

// OverwatchOptions holds the CLI flags of the overwatch command.
type OverwatchOptions struct {
	TUI           bool
	SkipPreflight bool
}

// RunOverwatch samples process state into the store until interrupted,
// serving the status server alongside. A sampler that stops on a snapshot or
// storage failure does not end the session. With opts.TUI the live terminal
// view runs as a third task and quitting it ends the session.
func (o *Orchestrator) RunOverwatch(ctx context.Context, opts OverwatchOptions) error {
	if o.store == nil {
		return errors.New("overwatch: no store configured")
	}

	sc := o.config.Sampler
	if !opts.SkipPreflight {
		if err := o.preflight(preflight.Options{SnapshotProgram: sc.Command}); err != nil {
			return err
		}
	}

	layout, err := sampler.ParseLayout(sc.Layout)
	if err != nil {
		return err
	}

	digest := stats.NewSampleDigest()
	smp := sampler.New(sampler.Config{
		Runner:    o.runner,
		Store:     o.store,
		Logger:    o.logger,
		Command:   process.CommandSpec{Program: sc.Command, Args: sc.Args},
		Interval:  sc.Interval,
		MinTokens: sc.MinTokens,
		Layout:    layout,
		KeyPrefix: sc.KeyPrefix,
		Callbacks: sampler.Callbacks{
			OnIteration: o.collector.RecordIteration,
			OnBatch: func(batch []sampler.Sample) {
				o.collector.RecordBatch(len(batch))
				digest.AddBatch(batch)
				o.collector.SetSampleQuantiles(digest.Snapshot())
			},
			OnStop: func(string) {
				o.collector.SetSamplerRunning(false)
			},
		},
	})

	o.mu.Lock()
	o.sampler = smp
	o.digest = digest
	o.mu.Unlock()
	o.collector.SetSamplerRunning(true)

	srv := o.newServer()
	tasks := []supervisor.Task{
		serverTask(srv),
		// A stopped sampler leaves the status server up; /status reports
		// the stop reason until the session is interrupted.
		{Name: "sampler", Run: smp.Run, Background: true},
	}
	if opts.TUI {
		tasks = append(tasks, supervisor.Task{Name: "tui", Run: func(ctx context.Context) error {
			return tui.Run(ctx, tui.Config{
				Source:      o,
				WebAddr:     o.config.Web.Addr,
				StoragePath: o.storagePath,
			})
		}})
	}

	start := time.Now()
	_, err = o.supervise(ctx, tasks...)

	s := smp.Stats()
	fmt.Fprint(o.stdout, stats.FormatOverwatchSummary(stats.OverwatchSummaryConfig{
		Duration:      time.Since(start),
		Iterations:    s.Iterations,
		SamplesStored: s.SamplesStored,
		StopReason:    s.StopReason,
		Digest:        digest.Snapshot(),
		Top:           digest.TopProcesses(5),
		StoragePath:   o.storagePath,
		WebAddr:       o.config.Web.Addr,
	}))

	return err
}
