// Package cli implements the hwdiag command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/randomizedcoder/go-hwdiag/internal/config"
	"github.com/randomizedcoder/go-hwdiag/internal/logging"
	"github.com/randomizedcoder/go-hwdiag/internal/orchestrator"
	"github.com/randomizedcoder/go-hwdiag/internal/storage"
)

const name = "hwdiag"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	version string

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

// New returns the root hwdiag command.
func New(version string) *cli.Command {
	a := &app{version: version}

	return &cli.Command{
		Name:    name,
		Usage:   "Hardware diagnostics: stress, benchmark, discover and process monitoring",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (default: embedded defaults)",
				Sources: cli.EnvVars("HWDIAG_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (trace, debug, info, warn, error); overrides general.log_level",
				Sources: cli.EnvVars("HWDIAG_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console log format (text, json); overrides general.log_format",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "shorthand for --log-level debug",
			},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.benchmarkCmd(),
			a.stressCmd(),
			a.discoverCmd(),
			a.overwatchCmd(),
			a.databaseCmd(),
			a.statusCmd(),
			a.versionCmd(),
		},
	}
}

// before loads the configuration and applies the global overrides. A missing
// or invalid explicit config ends the run before any command starts.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}

	if v := cmd.String("log-level"); v != "" {
		cfg.General.LogLevel = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.General.LogFormat = v
	}
	if err := config.Validate(cfg); err != nil {
		return ctx, err
	}

	a.cfg = cfg
	return ctx, nil
}

func (a *app) after(ctx context.Context, cmd *cli.Command) error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// initLogger builds the process logger once per run. With console unset the
// console handler is dropped and only the level files are written.
func (a *app) initLogger(cmd *cli.Command, console bool) (*slog.Logger, error) {
	if a.logger != nil {
		return a.logger, nil
	}

	var w io.Writer
	if console {
		w = errWriter(cmd)
	}

	g := a.cfg.General
	logger, closer, err := logging.NewFileLoggerWithWriter(w, g.LogFormat, g.LogLevel, g.LogDir, cmd.Bool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.SetDefault(logger)

	a.logger = logger
	a.closer = closer
	return logger, nil
}

// session is the per-command wiring handed to an action.
type session struct {
	logger *slog.Logger
	store  storage.Store
	orch   *orchestrator.Orchestrator
}

func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

type sessionOptions struct {
	withStore bool
	ephemeral bool
	quiet     bool // no console logging
}

// newSession initialises logging, opens the store when requested and builds
// the orchestrator for cmd. Storage failures surface here, before any task
// is started.
func (a *app) newSession(cmd *cli.Command, opts sessionOptions) (*session, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	logger, err := a.initLogger(cmd, !opts.quiet)
	if err != nil {
		return nil, err
	}
	logger.Debug("starting", "name", name, "version", a.version, "command", cmd.Name)

	s := &session{logger: logger}
	if opts.withStore {
		store, err := orchestrator.OpenStore(a.cfg, opts.ephemeral, logger)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	storagePath := a.cfg.General.StoragePath
	if opts.ephemeral {
		storagePath = "(memory)"
	}
	s.orch = orchestrator.New(a.cfg, logger, orchestrator.Options{
		Command:     cmd.Name,
		Version:     a.version,
		Stdout:      outWriter(cmd),
		Store:       s.store,
		StoragePath: storagePath,
	})
	return s, nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
