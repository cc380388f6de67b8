// Package sampler periodically snapshots process state with an external
// command and persists each parsed row to a key/value store.
package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/process"
	"github.com/randomizedcoder/go-hwdiag/internal/storage"
)

// Defaults applied by New for zero config values.
const (
	DefaultInterval  = 2 * time.Second
	DefaultMinTokens = 11
	DefaultKeyPrefix = "sample"
)

var (
	// ErrSnapshotFailed is returned by Run when the snapshot command could
	// not be run or exited non-zero.
	ErrSnapshotFailed = errors.New("sampler: snapshot failed")

	// ErrStorageFailed is returned by Run when a sample could not be stored.
	ErrStorageFailed = errors.New("sampler: storage failed")
)

// Stop reasons reported by Stats and logged with sampler_stopped.
const (
	ReasonCancelled      = "cancelled"
	ReasonSnapshotFailed = "snapshot_failed"
	ReasonStorageFailed  = "storage_failed"
)

// Callbacks contains optional callback functions for sampler events.
type Callbacks struct {
	// OnIteration is called after every snapshot command with its duration.
	OnIteration func(duration time.Duration)

	// OnBatch is called after a batch has been stored.
	OnBatch func(batch []Sample)

	// OnStop is called once when the loop stops.
	OnStop func(reason string)
}

// Config holds sampler configuration.
type Config struct {
	Runner  process.Runner
	Store   storage.Store
	Logger  *slog.Logger
	Command process.CommandSpec

	Interval  time.Duration
	MinTokens int
	Layout    Layout // defaults to LayoutAux
	KeyPrefix string

	Callbacks Callbacks

	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time view of the sampler counters.
type Stats struct {
	State         State
	Iterations    int64
	SamplesStored int64
	LastRun       time.Time
	StopReason    string
}

// Sampler runs the snapshot loop. Run may be called once.
type Sampler struct {
	runner    process.Runner
	store     storage.Store
	logger    *slog.Logger
	command   process.CommandSpec
	interval  time.Duration
	minTokens int
	layout    Layout
	keyPrefix string
	callbacks Callbacks
	now       func() time.Time

	state      atomic.Int32
	iterations atomic.Int64
	stored     atomic.Int64

	mu         sync.RWMutex
	latest     []Sample
	lastRun    time.Time
	stopReason string
}

// New creates a sampler in StateRunning.
func New(cfg Config) *Sampler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	minTokens := cfg.MinTokens
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}
	layout := cfg.Layout
	if layout == "" {
		layout = LayoutAux
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Sampler{
		runner:    cfg.Runner,
		store:     cfg.Store,
		logger:    logger,
		command:   cfg.Command,
		interval:  interval,
		minTokens: minTokens,
		layout:    layout,
		keyPrefix: keyPrefix,
		callbacks: cfg.Callbacks,
		now:       now,
	}
	s.state.Store(int32(StateRunning))
	return s
}

// Run loops until ctx is cancelled, the snapshot command fails, or a sample
// cannot be stored. It returns nil on cancellation and the cause otherwise.
// No iteration starts once ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("sampler_started",
		"command", s.command.String(),
		"interval", s.interval.String(),
		"min_tokens", s.minTokens,
		"layout", string(s.layout),
	)

	for {
		if ctx.Err() != nil {
			return s.stop(ReasonCancelled, nil)
		}

		if err := s.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stop(ReasonCancelled, nil)
			}
			if errors.Is(err, ErrStorageFailed) {
				return s.stop(ReasonStorageFailed, err)
			}
			return s.stop(ReasonSnapshotFailed, err)
		}

		if !sleep(ctx, s.interval) {
			return s.stop(ReasonCancelled, nil)
		}
	}
}

func (s *Sampler) iterate(ctx context.Context) error {
	s.iterations.Add(1)

	outcome := s.runner.Run(ctx, s.command)
	if s.callbacks.OnIteration != nil {
		s.callbacks.OnIteration(outcome.Duration)
	}

	if !outcome.Succeeded() {
		return fmt.Errorf("%w: %s: %v", ErrSnapshotFailed, outcome.Kind, outcome.Err)
	}
	if outcome.ExitCode != 0 {
		return fmt.Errorf("%w: %s exited with code %d", ErrSnapshotFailed, s.command.Program, outcome.ExitCode)
	}

	ts := s.now()
	batch := ParseSnapshot(outcome.Stdout, s.minTokens, s.layout)
	for i := range batch {
		batch[i].Timestamp = ts
	}

	for i, sample := range batch {
		value, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("%w: encode sample: %v", ErrStorageFailed, err)
		}
		key := SampleKey(s.keyPrefix, ts, i)
		if _, _, err := s.store.Put(ctx, key, string(value)); err != nil {
			return fmt.Errorf("%w: put %s: %w", ErrStorageFailed, key, err)
		}
		s.stored.Add(1)
	}

	s.mu.Lock()
	s.latest = batch
	s.lastRun = ts
	s.mu.Unlock()

	s.logger.Debug("sampler_batch_stored",
		"samples", len(batch),
		"duration", outcome.Duration.String(),
	)

	if s.callbacks.OnBatch != nil {
		s.callbacks.OnBatch(batch)
	}
	return nil
}

func (s *Sampler) stop(reason string, cause error) error {
	s.state.Store(int32(StateStopped))

	s.mu.Lock()
	s.stopReason = reason
	s.mu.Unlock()

	attrs := []any{
		"reason", reason,
		"iterations", s.iterations.Load(),
		"samples_stored", s.stored.Load(),
	}
	if cause != nil {
		s.logger.Error("sampler_stopped", append(attrs, "error", cause)...)
	} else {
		s.logger.Info("sampler_stopped", attrs...)
	}

	if s.callbacks.OnStop != nil {
		s.callbacks.OnStop(reason)
	}
	return cause
}

// State returns the current loop state.
func (s *Sampler) State() State {
	return State(s.state.Load())
}

// Latest returns a copy of the most recently stored batch.
func (s *Sampler) Latest() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sample, len(s.latest))
	copy(out, s.latest)
	return out
}

// Stats returns the sampler counters.
func (s *Sampler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		State:         s.State(),
		Iterations:    s.iterations.Load(),
		SamplesStored: s.stored.Load(),
		LastRun:       s.lastRun,
		StopReason:    s.stopReason,
	}
}

// Interval returns the configured sleep between iterations.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}
