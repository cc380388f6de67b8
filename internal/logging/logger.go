// Package logging provides structured logging for hwdiag.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog.LevelDebug and carries the most verbose
// diagnostic output (raw command lines, per-sample parse decisions).
const LevelTrace = slog.Level(-8)

// NewLogger creates a new structured logger with the specified format and level.
// Format should be "json" or "text".
// Level should be "trace", "debug", "info", "warn", or "error".
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return slog.New(newConsoleHandler(os.Stderr, format, level, verbose))
}

// NewLoggerWithWriter creates a logger that writes to a custom writer.
// Useful for testing.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceLevelName,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewFileLogger creates a logger that writes to the console and, when logDir
// is non-empty, to one file per level under logDir. The returned closer
// releases the level files and is safe to call when no files were opened.
func NewFileLogger(format, level, logDir string, verbose bool) (*slog.Logger, io.Closer, error) {
	return NewFileLoggerWithWriter(os.Stderr, format, level, logDir, verbose)
}

// NewFileLoggerWithWriter is NewFileLogger with the console aimed at w.
// A nil w disables console output, leaving only the level files.
func NewFileLoggerWithWriter(w io.Writer, format, level, logDir string, verbose bool) (*slog.Logger, io.Closer, error) {
	var handlers []slog.Handler
	if w != nil {
		handlers = append(handlers, newConsoleHandler(w, format, level, verbose))
	}

	var closer io.Closer = nopCloser{}
	if logDir != "" {
		files, err := NewLevelFileHandler(logDir, "hwdiag", effectiveLevel(level, verbose))
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, files)
		closer = files
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.DiscardHandler), closer, nil
	case 1:
		return slog.New(handlers[0]), closer, nil
	default:
		return slog.New(NewMultiHandler(handlers...)), closer, nil
	}
}

func newConsoleHandler(w io.Writer, format, level string, verbose bool) slog.Handler {
	logLevel := effectiveLevel(level, verbose)

	opts := &slog.HandlerOptions{
		Level: logLevel,
		// Add source location for debug level
		AddSource:   logLevel <= slog.LevelDebug,
		ReplaceAttr: replaceLevelName,
	}

	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func effectiveLevel(level string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return parseLevel(level)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// levelName returns the lowercase name used for level files and the
// rendered "level" attribute.
func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "trace"
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// replaceLevelName renders LevelTrace as "TRACE" instead of "DEBUG-4".
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if l, ok := a.Value.Any().(slog.Level); ok && l < slog.LevelDebug {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
