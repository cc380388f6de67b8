package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/randomizedcoder/go-hwdiag/internal/orchestrator"
	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
)

// Flags hold parse state, so each command gets its own instance.

func skipPreflightFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "skip-preflight",
		Usage: "skip the startup checks",
	}
}

func noWebFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "no-web",
		Usage: "do not start the status server",
	}
}

func (a *app) stressCmd() *cli.Command {
	return &cli.Command{
		Name:  "stress",
		Usage: "Run stress-ng against the CPU",
		Description: `Stages the embedded stress-ng launcher and runs it with bounded retries.
The status server runs alongside until stress-ng finishes or the run is
interrupted.

Cores and timeout default to stress.cores and stress.timeout.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "cores",
				Usage: "number of CPU stressors (0 = stress.cores)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "stress-ng run time (0 = stress.timeout)",
			},
			&cli.BoolFlag{
				Name:  "print-cmd",
				Usage: "print the stress-ng command and exit",
			},
			noWebFlag(),
			skipPreflightFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Int("cores") < 0 {
				return fmt.Errorf("invalid --cores %d: must not be negative", cmd.Int("cores"))
			}

			s, err := a.newSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			return s.orch.RunStress(ctx, stressOptions(cmd))
		},
	}
}

func (a *app) benchmarkCmd() *cli.Command {
	return &cli.Command{
		Name:  "benchmark",
		Usage: "Benchmark every CPU with stress-ng and store the result",
		Description: `Runs stress-ng with one stressor per online CPU using benchmark.cpu_method,
parses the --metrics-brief table and stores the result under
benchmark:<run id>.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "stress-ng run time (0 = benchmark.timeout)",
			},
			&cli.StringFlag{
				Name:  "cpu-method",
				Usage: "stress-ng --cpu-method (default: benchmark.cpu_method)",
			},
			&cli.BoolFlag{
				Name:  "print-cmd",
				Usage: "print the stress-ng command and exit",
			},
			noWebFlag(),
			skipPreflightFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if m := cmd.String("cpu-method"); m != "" {
				a.cfg.Benchmark.CPUMethod = m
			}

			s, err := a.newSession(cmd, sessionOptions{withStore: !cmd.Bool("print-cmd")})
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.orch.RunBenchmark(ctx, stressOptions(cmd))
			if err != nil {
				return err
			}
			if result != nil {
				fmt.Fprintf(outWriter(cmd), "Stored %s%s\n", orchestrator.BenchmarkKeyPrefix, result.RunID)
			}
			return nil
		},
	}
}

func stressOptions(cmd *cli.Command) orchestrator.StressOptions {
	return orchestrator.StressOptions{
		Cores:         cmd.Int("cores"),
		Timeout:       cmd.Duration("timeout"),
		PrintCmd:      cmd.Bool("print-cmd"),
		NoWeb:         cmd.Bool("no-web"),
		SkipPreflight: cmd.Bool("skip-preflight"),
	}
}

func (a *app) discoverCmd() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Describe the host and store the report",
		Description: `Collects OS, architecture, CPU count, hostname, the system serial number
and the type of the staged stress-ng binary. The report is stored under
discover:<hostname> and printed as YAML.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := a.newSession(cmd, sessionOptions{withStore: true})
			if err != nil {
				return err
			}
			defer s.Close()

			_, err = s.orch.RunDiscover(ctx)
			return err
		},
	}
}

func (a *app) overwatchCmd() *cli.Command {
	return &cli.Command{
		Name:  "overwatch",
		Usage: "Sample process state into the store until interrupted",
		Description: `Runs the snapshot command (sampler.command) every sampler.interval, stores
each parsed row under <sampler.key_prefix>:<timestamp>:<index> and serves
/status, /metrics and /dashboard on web.addr. Ctrl+C stops the session and
prints a summary.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "show the live terminal view (console logging is disabled)",
			},
			&cli.BoolFlag{
				Name:  "ephemeral",
				Usage: "keep samples in memory instead of general.storage_path",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "sampling interval (0 = sampler.interval)",
			},
			&cli.StringFlag{
				Name:  "layout",
				Usage: "snapshot column layout, aux or compact (default: sampler.layout)",
			},
			skipPreflightFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if d := cmd.Duration("interval"); d > 0 {
				a.cfg.Sampler.Interval = d
			}
			if l := cmd.String("layout"); l != "" {
				if _, err := sampler.ParseLayout(l); err != nil {
					return fmt.Errorf("invalid --layout: %w", err)
				}
				a.cfg.Sampler.Layout = l
			}

			tui := cmd.Bool("tui")
			s, err := a.newSession(cmd, sessionOptions{
				withStore: true,
				ephemeral: cmd.Bool("ephemeral"),
				quiet:     tui,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			return s.orch.RunOverwatch(ctx, orchestrator.OverwatchOptions{
				TUI:           tui,
				SkipPreflight: cmd.Bool("skip-preflight"),
			})
		},
	}
}

func (a *app) versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintf(outWriter(cmd), "%s %s (%s/%s, %s)\n",
				name, a.version, runtime.GOOS, runtime.GOARCH, runtime.Version())
			return nil
		},
	}
}
