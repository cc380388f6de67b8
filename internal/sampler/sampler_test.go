package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/process"
	"github.com/randomizedcoder/go-hwdiag/internal/storage"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingRunner returns the same outcome on every call and records calls.
type countingRunner struct {
	mu      sync.Mutex
	calls   int
	outcome process.Outcome
}

func (r *countingRunner) Run(ctx context.Context, spec process.CommandSpec) process.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.outcome
}

func (r *countingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func okOutcome(stdout string) process.Outcome {
	return process.Outcome{Kind: process.OutcomeSuccess, Stdout: stdout, ExitCode: 0}
}

// failingStore fails every Put after the first okPuts.
type failingStore struct {
	*storage.MemoryStore
	mu     sync.Mutex
	okPuts int
}

func (s *failingStore) Put(ctx context.Context, key []byte, value string) (string, bool, error) {
	s.mu.Lock()
	if s.okPuts <= 0 {
		s.mu.Unlock()
		return "", false, errors.New("disk full")
	}
	s.okPuts--
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, key, value)
}

const twoRows = "alice 1.2 3.4 /bin/x\nbob 0.1 0.2 /bin/y\n"

func runAsync(ctx context.Context, s *Sampler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func TestSampler_InitialState(t *testing.T) {
	s := New(Config{Runner: &countingRunner{}, Store: storage.NewMemoryStore()})
	if s.State() != StateRunning {
		t.Errorf("initial state = %v, want running", s.State())
	}
	if s.Interval() != DefaultInterval {
		t.Errorf("Interval = %v, want %v", s.Interval(), DefaultInterval)
	}
}

func TestSampler_StoresBatchInOrder(t *testing.T) {
	runner := &countingRunner{outcome: okOutcome(twoRows)}
	store := storage.NewMemoryStore()
	ts := time.Unix(1700000000, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var batches [][]Sample
	var mu sync.Mutex
	s := New(Config{
		Runner:    runner,
		Store:     store,
		Logger:    newTestLogger(),
		Command:   process.CommandSpec{Program: "ps"},
		Interval:  time.Hour,
		MinTokens: 3,
		Layout:    LayoutCompact,
		Now:       func() time.Time { return ts },
		Callbacks: Callbacks{
			OnBatch: func(batch []Sample) {
				mu.Lock()
				batches = append(batches, batch)
				mu.Unlock()
				cancel()
			},
		},
	})

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil on cancellation", err)
	}

	entries, err := store.List(context.Background(), "sample:", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stored %d entries, want 2", len(entries))
	}

	var first, second Sample
	if err := json.Unmarshal([]byte(entries[0].Value), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(entries[1].Value), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Owner != "alice" || second.Owner != "bob" {
		t.Errorf("order = %s, %s; want alice, bob", first.Owner, second.Owner)
	}
	if !first.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", first.Timestamp, ts)
	}
	if entries[0].Key != "sample:1700000000000000000:0000" {
		t.Errorf("key = %q", entries[0].Key)
	}

	latest := s.Latest()
	if len(latest) != 2 || latest[0].Owner != "alice" {
		t.Errorf("Latest = %+v", latest)
	}

	mu.Lock()
	if len(batches) != 1 {
		t.Errorf("OnBatch called %d times, want 1", len(batches))
	}
	mu.Unlock()

	st := s.Stats()
	if st.State != StateStopped || st.StopReason != ReasonCancelled {
		t.Errorf("Stats = %+v", st)
	}
	if st.Iterations != 1 || st.SamplesStored != 2 {
		t.Errorf("counters = %d iterations, %d stored", st.Iterations, st.SamplesStored)
	}
}

func TestSampler_CustomKeyPrefix(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{
		Runner:    &countingRunner{outcome: okOutcome(twoRows)},
		Store:     store,
		Interval:  time.Hour,
		MinTokens: 3,
		Layout:    LayoutCompact,
		KeyPrefix: "node1",
		Callbacks: Callbacks{OnBatch: func([]Sample) { cancel() }},
	})
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if store.Len() != 2 {
		t.Fatalf("stored %d, want 2", store.Len())
	}
	entries, _ := store.List(context.Background(), "node1:", 0)
	if len(entries) != 2 {
		t.Errorf("prefixed entries = %d, want 2", len(entries))
	}
}

func TestSampler_StopsPromptlyOnCancel(t *testing.T) {
	runner := &countingRunner{outcome: okOutcome(twoRows)}
	interval := 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{
		Runner:    runner,
		Store:     storage.NewMemoryStore(),
		Logger:    newTestLogger(),
		Interval:  interval,
		MinTokens: 3,
		Layout:    LayoutCompact,
	})

	done := runAsync(ctx, s)
	time.Sleep(3 * interval)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(interval + 500*time.Millisecond):
		t.Fatal("sampler did not stop within one interval of cancellation")
	}

	calls := runner.Calls()
	if calls < 1 {
		t.Errorf("calls = %d, want at least 1", calls)
	}

	time.Sleep(2 * interval)
	if runner.Calls() != calls {
		t.Errorf("iteration started after cancellation: %d -> %d", calls, runner.Calls())
	}
	if s.State() != StateStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestSampler_CancelledBeforeRun(t *testing.T) {
	runner := &countingRunner{outcome: okOutcome(twoRows)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Config{Runner: runner, Store: storage.NewMemoryStore(), MinTokens: 3, Layout: LayoutCompact})
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if runner.Calls() != 0 {
		t.Errorf("calls = %d, want 0", runner.Calls())
	}
}

func TestSampler_SnapshotFailureStops(t *testing.T) {
	tests := []struct {
		name    string
		outcome process.Outcome
	}{
		{
			name:    "spawn failed",
			outcome: process.Outcome{Kind: process.OutcomeSpawnFailed, ExitCode: -1, Err: errors.New("not found")},
		},
		{
			name:    "wait failed",
			outcome: process.Outcome{Kind: process.OutcomeWaitFailed, ExitCode: -1, Err: errors.New("broken pipe")},
		},
		{
			name:    "non-zero exit",
			outcome: process.Outcome{Kind: process.OutcomeSuccess, ExitCode: 2, Stdout: twoRows},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &countingRunner{outcome: tt.outcome}
			store := storage.NewMemoryStore()

			var stopReason string
			s := New(Config{
				Runner:    runner,
				Store:     store,
				Logger:    newTestLogger(),
				Interval:  time.Millisecond,
				MinTokens: 3,
				Layout:    LayoutCompact,
				Callbacks: Callbacks{OnStop: func(r string) { stopReason = r }},
			})

			err := s.Run(context.Background())
			if !errors.Is(err, ErrSnapshotFailed) {
				t.Fatalf("Run() = %v, want ErrSnapshotFailed", err)
			}
			if runner.Calls() != 1 {
				t.Errorf("calls = %d, want 1 (no retry)", runner.Calls())
			}
			if store.Len() != 0 {
				t.Errorf("stored %d, want 0", store.Len())
			}
			if stopReason != ReasonSnapshotFailed {
				t.Errorf("stop reason = %q", stopReason)
			}
			if s.State() != StateStopped {
				t.Errorf("state = %v", s.State())
			}
		})
	}
}

func TestSampler_StorageFailureStops(t *testing.T) {
	runner := &countingRunner{outcome: okOutcome(twoRows)}
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), okPuts: 3}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := New(Config{
		Runner:    runner,
		Store:     store,
		Logger:    logger,
		Interval:  time.Millisecond,
		MinTokens: 3,
		Layout:    LayoutCompact,
	})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("Run() = %v, want ErrStorageFailed", err)
	}

	// First batch (2 puts) succeeds, second batch fails on its second put.
	if runner.Calls() != 2 {
		t.Errorf("calls = %d, want 2", runner.Calls())
	}
	if got := s.Stats().SamplesStored; got != 3 {
		t.Errorf("SamplesStored = %d, want 3", got)
	}
	if s.Stats().StopReason != ReasonStorageFailed {
		t.Errorf("stop reason = %q", s.Stats().StopReason)
	}

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "reason=storage_failed") {
		t.Errorf("log missing storage failure:\n%s", out)
	}
}

func TestSampler_EmptySnapshotKeepsRunning(t *testing.T) {
	runner := &countingRunner{outcome: okOutcome("USER PID %CPU\n")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	iterations := 0
	s := New(Config{
		Runner:    runner,
		Store:     storage.NewMemoryStore(),
		Interval:  time.Millisecond,
		MinTokens: 3,
		Layout:    LayoutCompact,
		Callbacks: Callbacks{
			OnIteration: func(time.Duration) {
				iterations++
				if iterations == 3 {
					cancel()
				}
			},
		},
	})

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if runner.Calls() != 3 {
		t.Errorf("calls = %d, want 3", runner.Calls())
	}
	if len(s.Latest()) != 0 {
		t.Errorf("Latest = %+v, want empty", s.Latest())
	}
}

func TestSampler_RealCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryStore()
	s := New(Config{
		Runner: process.NewExecRunner(newTestLogger()),
		Store:  store,
		Command: process.CommandSpec{
			Program: "sh",
			Args:    []string{"-c", "printf 'alice 1.2 3.4 /bin/x\\nbob 0.1 0.2 /bin/y\\n'"},
		},
		Interval:  time.Hour,
		MinTokens: 3,
		Layout:    LayoutCompact,
		Callbacks: Callbacks{OnBatch: func([]Sample) { cancel() }},
	})

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("stored %d, want 2", store.Len())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if StateRunning.IsTerminal() || !StateStopped.IsTerminal() {
		t.Error("only stopped is terminal")
	}
}
