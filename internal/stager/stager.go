package stager

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

//go:embed payload/*
var embedded embed.FS

// ExecutableMode is the mode applied to a freshly staged payload.
const ExecutableMode fs.FileMode = 0o755

// StagedBinary is a payload materialized on disk.
type StagedBinary struct {
	Variant    Variant
	Path       string
	Executable bool

	stager  *Stager
	release sync.Once
}

// Release drops this holder's reference. Calling it more than once is a no-op.
func (b *StagedBinary) Release() {
	if b == nil || b.stager == nil {
		return
	}
	b.release.Do(func() {
		b.stager.Release(b.Path)
	})
}

// Config holds configuration for creating a new Stager.
type Config struct {
	Dir    string // empty = os.TempDir()
	Keep   bool   // never remove staged files
	Logger *slog.Logger

	// Payloads holds one file per Variant.BinaryName(). Defaults to the
	// embedded payloads.
	Payloads fs.FS
}

// Stager writes payloads to <dir>/stress-ng-<variant> at most once per path
// and reference counts the holders of each path.
type Stager struct {
	dir      string
	keep     bool
	logger   *slog.Logger
	payloads fs.FS

	mu   sync.Mutex
	refs map[string]*stagedRef
}

type stagedRef struct {
	count int
	owned bool // this stager wrote the file
}

// New creates a new Stager with the given configuration.
func New(cfg Config) *Stager {
	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	payloads := cfg.Payloads
	if payloads == nil {
		sub, err := fs.Sub(embedded, "payload")
		if err != nil {
			panic(fmt.Sprintf("stager: embedded payload directory: %v", err))
		}
		payloads = sub
	}

	return &Stager{
		dir:      dir,
		keep:     cfg.Keep,
		logger:   logger,
		payloads: payloads,
		refs:     make(map[string]*stagedRef),
	}
}

// Path returns where variant v is staged.
func (s *Stager) Path(v Variant) string {
	return filepath.Join(s.dir, v.BinaryName())
}

// Stage materializes the payload for v. An existing file at the target path
// is returned as-is: it is never rewritten and its mode is not changed.
// Every successful call must be paired with a Release.
func (s *Stager) Stage(v Variant) (*StagedBinary, error) {
	path := s.Path(v)

	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := os.Stat(path); err == nil {
		return s.existing(v, path, info), nil
	}

	payload, err := fs.ReadFile(s.payloads, v.BinaryName())
	if err != nil {
		return nil, &StageError{Kind: KindWriteFailed, Path: path, Err: fmt.Errorf("no payload for variant %s: %w", v, err)}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &StageError{Kind: KindWriteFailed, Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		// Another process staged it between Stat and OpenFile.
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, &StageError{Kind: KindWriteFailed, Path: path, Err: statErr}
		}
		return s.existing(v, path, info), nil
	}
	if err != nil {
		return nil, &StageError{Kind: KindWriteFailed, Path: path, Err: err}
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		s.remove(path)
		return nil, &StageError{Kind: KindWriteFailed, Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		s.remove(path)
		return nil, &StageError{Kind: KindWriteFailed, Path: path, Err: err}
	}

	if err := os.Chmod(path, ExecutableMode); err != nil {
		s.remove(path)
		return nil, &StageError{Kind: KindPermissionFailed, Path: path, Err: err}
	}

	s.acquire(path, true)

	s.logger.Info("stage_complete",
		"variant", v.String(),
		"path", path,
		"bytes", len(payload),
	)

	return &StagedBinary{Variant: v, Path: path, Executable: true, stager: s}, nil
}

// existing registers a holder of a file this stager did not write.
// Caller holds s.mu.
func (s *Stager) existing(v Variant, path string, info fs.FileInfo) *StagedBinary {
	executable := info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
	s.acquire(path, false)

	s.logger.Debug("stage_exists",
		"variant", v.String(),
		"path", path,
		"executable", executable,
	)

	return &StagedBinary{Variant: v, Path: path, Executable: executable, stager: s}
}

// acquire increments the reference count. Caller holds s.mu.
func (s *Stager) acquire(path string, owned bool) {
	ref, ok := s.refs[path]
	if !ok {
		ref = &stagedRef{}
		s.refs[path] = ref
	}
	ref.count++
	ref.owned = ref.owned || owned
}

// Release drops one reference to path. The file is removed when the last
// holder releases it, unless it was already on disk before this stager ran
// or the stager keeps staged files. Removal failures are logged, never returned.
func (s *Stager) Release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.refs[path]
	if !ok {
		return
	}

	ref.count--
	if ref.count > 0 {
		return
	}
	delete(s.refs, path)

	if !ref.owned || s.keep {
		s.logger.Debug("stage_retained", "path", path, "owned", ref.owned, "keep", s.keep)
		return
	}

	s.remove(path)
}

// Unstage removes path unconditionally, ignoring reference counts.
func (s *Stager) Unstage(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refs, path)
	s.remove(path)
}

// Refs returns the number of live holders of path.
func (s *Stager) Refs(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.refs[path]; ok {
		return ref.count
	}
	return 0
}

func (s *Stager) remove(path string) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("unstage_missing", "path", path)
			return
		}
		s.logger.Warn("unstage_failed",
			"path", path,
			"error", err,
		)
		return
	}
	s.logger.Debug("unstage_complete", "path", path)
}
