package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// fileLevels are the levels that get their own log file, lowest first.
var fileLevels = []string{"trace", "debug", "info", "warn", "error"}

// LevelFileHandler writes each record to the file matching its level, so
// <dir>/<prefix>_warn.log holds warnings only. Files are truncated when the
// handler is created. Write failures are swallowed: a broken log sink must
// never fail the caller.
type LevelFileHandler struct {
	minLevel slog.Level
	handlers map[string]slog.Handler
	files    []*os.File
}

// NewLevelFileHandler creates (or truncates) one file per level under dir.
func NewLevelFileHandler(dir, prefix string, minLevel slog.Level) (*LevelFileHandler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}

	h := &LevelFileHandler{
		minLevel: minLevel,
		handlers: make(map[string]slog.Handler, len(fileLevels)),
	}

	opts := &slog.HandlerOptions{
		Level:       LevelTrace,
		ReplaceAttr: replaceLevelName,
	}

	for _, name := range fileLevels {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, name))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		h.files = append(h.files, f)
		h.handlers[name] = slog.NewTextHandler(f, opts)
	}

	return h, nil
}

// Enabled reports whether records at level l are written.
func (h *LevelFileHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.minLevel
}

// Handle routes the record to its level file.
func (h *LevelFileHandler) Handle(ctx context.Context, r slog.Record) error {
	inner, ok := h.handlers[levelName(r.Level)]
	if !ok {
		return nil
	}
	_ = inner.Handle(ctx, r)
	return nil
}

// WithAttrs returns a handler whose level files all carry attrs.
func (h *LevelFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	for name, inner := range h.handlers {
		clone.handlers[name] = inner.WithAttrs(attrs)
	}
	return clone
}

// WithGroup returns a handler whose level files all open group name.
func (h *LevelFileHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	for level, inner := range h.handlers {
		clone.handlers[level] = inner.WithGroup(name)
	}
	return clone
}

// Close closes every level file. Derived handlers share the files, so only
// the handler returned by NewLevelFileHandler should be closed.
func (h *LevelFileHandler) Close() error {
	var errs []error
	for _, f := range h.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.files = nil
	return errors.Join(errs...)
}

func (h *LevelFileHandler) clone() *LevelFileHandler {
	return &LevelFileHandler{
		minLevel: h.minLevel,
		handlers: make(map[string]slog.Handler, len(h.handlers)),
	}
}

// MultiHandler fans each record out to several handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler returns a handler that forwards to all of handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports whether any inner handler accepts level l.
func (m *MultiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

// Handle forwards r to every enabled handler. Inner errors are dropped.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

// WithAttrs applies attrs to every inner handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

// WithGroup applies the group to every inner handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}
