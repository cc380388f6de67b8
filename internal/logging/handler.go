package logging

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines kept for the run summary.
	MaxBufferedLines = 100
)

// OutputHandler handles output captured from an external diagnostic tool.
// It buffers recent lines for the run summary and logs them at a level
// derived from their content.
type OutputHandler struct {
	tool    string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a new output handler for the named tool.
func NewOutputHandler(tool string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		tool:    tool,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleReader reads from an io.Reader and processes each line.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleText processes every line of an already captured output blob.
func (h *OutputHandler) HandleText(text string) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.HandleLine(line)
	}
}

// HandleLine processes a single line of tool output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

func (h *OutputHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level < slog.LevelWarn {
		return
	}

	h.logger.Log(nil, level, "tool_output",
		"tool", h.tool,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
// stress-ng prefixes its messages with "info:", "warn:", "fail:" or "error:".
func (h *OutputHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "error:") ||
		strings.Contains(lower, "fail:") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "not found") {
		return slog.LevelError
	}

	if strings.Contains(lower, "warn:") ||
		strings.Contains(lower, "skipped") ||
		strings.Contains(lower, "unsuccessful") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "info:") ||
		strings.Contains(lower, "completed") {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are failure patterns extracted for the run summary.
var ErrorPatterns = []string{
	"fail:",
	"error:",
	"unsuccessful",
	"skipped",
	"out of memory",
	"Permission denied",
	"killed",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
