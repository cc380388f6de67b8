package stager

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testPayloads() fstest.MapFS {
	return fstest.MapFS{
		"stress-ng-linux":  &fstest.MapFile{Data: []byte("#!/bin/sh\necho linux\n")},
		"stress-ng-darwin": &fstest.MapFile{Data: []byte("#!/bin/sh\necho darwin\n")},
	}
}

func newTestStager(t *testing.T, keep bool) *Stager {
	t.Helper()
	return New(Config{
		Dir:      t.TempDir(),
		Keep:     keep,
		Logger:   newTestLogger(),
		Payloads: testPayloads(),
	})
}

func TestDetectVariant(t *testing.T) {
	testCases := []struct {
		goos      string
		want      Variant
		defaulted bool
	}{
		{"linux", VariantLinux, false},
		{"darwin", VariantDarwin, false},
		{"freebsd", VariantLinux, true},
		{"windows", VariantLinux, true},
		{"", VariantLinux, true},
	}

	for _, tc := range testCases {
		t.Run(tc.goos, func(t *testing.T) {
			got, defaulted := DetectVariant(tc.goos)
			if got != tc.want || defaulted != tc.defaulted {
				t.Errorf("DetectVariant(%q) = (%v, %v), want (%v, %v)",
					tc.goos, got, defaulted, tc.want, tc.defaulted)
			}
		})
	}
}

func TestVariant_BinaryName(t *testing.T) {
	if got := VariantLinux.BinaryName(); got != "stress-ng-linux" {
		t.Errorf("BinaryName() = %q", got)
	}
	if got := VariantDarwin.BinaryName(); got != "stress-ng-darwin" {
		t.Errorf("BinaryName() = %q", got)
	}
}

func TestStage_CleanDirectory(t *testing.T) {
	s := newTestStager(t, false)

	b, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	info, err := os.Stat(b.Path)
	if err != nil {
		t.Fatalf("staged path missing: %v", err)
	}
	if info.Mode().Perm() != ExecutableMode {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), ExecutableMode)
	}
	if !b.Executable {
		t.Error("Executable should be true")
	}
	if filepath.Base(b.Path) != "stress-ng-linux" {
		t.Errorf("Path = %q", b.Path)
	}

	data, _ := os.ReadFile(b.Path)
	if !strings.Contains(string(data), "echo linux") {
		t.Errorf("payload = %q", data)
	}

	// Second call returns the same path without error or rewrite
	b2, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatalf("second Stage: %v", err)
	}
	if b2.Path != b.Path {
		t.Errorf("second Path = %q, want %q", b2.Path, b.Path)
	}
	if !b2.Executable {
		t.Error("second Executable should be true")
	}
	if s.Refs(b.Path) != 2 {
		t.Errorf("Refs = %d, want 2", s.Refs(b.Path))
	}
}

func TestStage_Idempotent_AllVariants(t *testing.T) {
	for _, v := range []Variant{VariantLinux, VariantDarwin} {
		t.Run(v.String(), func(t *testing.T) {
			s := newTestStager(t, false)

			first, err := s.Stage(v)
			if err != nil {
				t.Fatalf("Stage: %v", err)
			}
			second, err := s.Stage(v)
			if err != nil {
				t.Fatalf("second Stage: %v", err)
			}
			if first.Path != second.Path {
				t.Errorf("paths differ: %q vs %q", first.Path, second.Path)
			}
		})
	}
}

func TestStage_NeverOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stress-ng-linux")
	original := []byte("pre-existing content")
	if err := os.WriteFile(path, original, 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(Config{Dir: dir, Logger: newTestLogger(), Payloads: testPayloads()})
	b, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, original) {
		t.Errorf("existing file was rewritten: %q", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("existing mode changed to %v", info.Mode().Perm())
	}
	if b.Executable {
		t.Error("Executable should reflect the existing mode bits")
	}

	// A file this stager did not write survives release
	b.Release()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("pre-existing file removed on release: %v", err)
	}
}

func TestStage_UnknownPayload(t *testing.T) {
	s := New(Config{
		Dir:      t.TempDir(),
		Logger:   newTestLogger(),
		Payloads: fstest.MapFS{},
	})

	_, err := s.Stage(VariantDarwin)
	if err == nil {
		t.Fatal("Expected error for missing payload")
	}
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("errors.Is(err, ErrWriteFailed) = false: %v", err)
	}

	var serr *StageError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected *StageError, got %T", err)
	}
	if serr.Kind != KindWriteFailed {
		t.Errorf("Kind = %v, want write_failed", serr.Kind)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("StageError should unwrap to the underlying cause")
	}
}

func TestStage_UnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	s := New(Config{Dir: dir, Logger: newTestLogger(), Payloads: testPayloads()})
	_, err := s.Stage(VariantLinux)
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Expected ErrWriteFailed, got %v", err)
	}
}

func TestRelease_RemovesOnLastHolder(t *testing.T) {
	s := newTestStager(t, false)

	a, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatal(err)
	}

	a.Release()
	if _, err := os.Stat(a.Path); err != nil {
		t.Fatalf("file removed while still held: %v", err)
	}

	// Double release by the same holder is a no-op
	a.Release()
	if s.Refs(a.Path) != 1 {
		t.Errorf("Refs = %d, want 1", s.Refs(a.Path))
	}

	b.Release()
	if _, err := os.Stat(a.Path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("file should be removed after last release, stat err = %v", err)
	}
}

func TestRelease_KeepStaged(t *testing.T) {
	s := newTestStager(t, true)

	b, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatal(err)
	}
	b.Release()

	if _, err := os.Stat(b.Path); err != nil {
		t.Errorf("keep=true should retain staged file: %v", err)
	}
}

func TestUnstage(t *testing.T) {
	s := newTestStager(t, false)

	b, err := s.Stage(VariantLinux)
	if err != nil {
		t.Fatal(err)
	}

	s.Unstage(b.Path)
	if _, err := os.Stat(b.Path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Unstage should remove file, stat err = %v", err)
	}
	if s.Refs(b.Path) != 0 {
		t.Errorf("Refs = %d after Unstage", s.Refs(b.Path))
	}

	// Unstaging a missing file is not fatal
	s.Unstage(b.Path)
	b.Release()
}

func TestStage_Concurrent(t *testing.T) {
	s := newTestStager(t, false)

	const holders = 16
	var wg sync.WaitGroup
	paths := make(chan string, holders)
	errs := make(chan error, holders)

	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.Stage(VariantLinux)
			if err != nil {
				errs <- err
				return
			}
			paths <- b.Path
		}()
	}
	wg.Wait()
	close(paths)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Stage: %v", err)
	}

	var first string
	for p := range paths {
		if first == "" {
			first = p
		}
		if p != first {
			t.Errorf("path %q differs from %q", p, first)
		}
	}
	if s.Refs(first) != holders {
		t.Errorf("Refs = %d, want %d", s.Refs(first), holders)
	}
}

func TestNew_EmbeddedPayloads(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})

	for _, v := range []Variant{VariantLinux, VariantDarwin} {
		b, err := s.Stage(v)
		if err != nil {
			t.Fatalf("Stage(%s) with embedded payloads: %v", v, err)
		}
		data, _ := os.ReadFile(b.Path)
		if !strings.HasPrefix(string(data), "#!/bin/sh") {
			t.Errorf("%s payload is not a shell launcher: %q", v, data)
		}
		b.Release()
	}
}

func TestStageError_Error(t *testing.T) {
	err := &StageError{Kind: KindPermissionFailed, Path: "/tmp/x", Err: errors.New("denied")}

	if got := err.Error(); got != "stage /tmp/x: permission_failed: denied" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrPermissionFailed) {
		t.Error("errors.Is(err, ErrPermissionFailed) = false")
	}
	if errors.Is(err, ErrWriteFailed) {
		t.Error("permission error should not match ErrWriteFailed")
	}
}
