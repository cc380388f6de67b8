package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/process"
)

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════════════════════════\n"
	ruleLight = "───────────────────────────────────────────────────────────────────────────────\n"
)

// StressSummaryConfig holds the data for the stress and benchmark exit
// summaries.
type StressSummaryConfig struct {
	// Title is "Stress" or "Benchmark".
	Title   string
	Variant string
	Command string
	RunID   string

	Duration    time.Duration
	Attempts    int
	MaxAttempts int

	// Outcome is the process.OutcomeKind name of the final attempt.
	Outcome  string
	ExitCode int

	// ErrorCounts maps a stress-ng failure pattern to its occurrences.
	ErrorCounts map[string]int

	// Metrics is the parsed --metrics-brief table, if any.
	Metrics []process.StressorMetric

	WebAddr string
}

// FormatStressSummary formats the result of a stress or benchmark run.
func FormatStressSummary(cfg StressSummaryConfig) string {
	var b strings.Builder

	title := cfg.Title
	if title == "" {
		title = "Stress"
	}

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	fmt.Fprintf(&b, "%s\n", centre("hwdiag "+title+" Summary"))
	b.WriteString(ruleHeavy + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.RunID != "" {
		fmt.Fprintf(&b, "Run ID:                 %s\n", cfg.RunID)
	}
	if cfg.Variant != "" {
		fmt.Fprintf(&b, "Binary Variant:         %s\n", cfg.Variant)
	}
	if cfg.Command != "" {
		fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	}
	fmt.Fprintf(&b, "Attempts:               %d of %d\n", cfg.Attempts, cfg.MaxAttempts)
	fmt.Fprintf(&b, "Outcome:                %s\n", cfg.Outcome)
	if cfg.Outcome == process.OutcomeSuccess.String() {
		fmt.Fprintf(&b, "Exit Code:              %d %s\n", cfg.ExitCode, exitCodeLabel(cfg.ExitCode))
	}
	b.WriteString("\n")

	if len(cfg.Metrics) > 0 {
		b.WriteString(section("Stressor Metrics"))
		fmt.Fprintf(&b, "  %-12s %14s %10s %16s %16s\n", "Stressor", "Bogo Ops", "Real (s)", "Bogo Ops/s", "Ops/s (CPU)")
		b.WriteString("  " + strings.Repeat("─", 72) + "\n")
		for _, m := range cfg.Metrics {
			fmt.Fprintf(&b, "  %-12s %14s %10.2f %16s %16s\n",
				m.Stressor,
				FormatNumber(m.BogoOps),
				m.RealTimeSecs,
				FormatRate(m.BogoOpsPerSec),
				FormatRate(m.BogoOpsPerCPUSec),
			)
		}
		b.WriteString("\n")
	}

	if len(cfg.ErrorCounts) > 0 {
		b.WriteString(section("Errors"))

		patterns := make([]string, 0, len(cfg.ErrorCounts))
		for p := range cfg.ErrorCounts {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)

		for _, p := range patterns {
			fmt.Fprintf(&b, "  %-28s %d\n", p+":", cfg.ErrorCounts[p])
		}
		b.WriteString("\n")
	}

	if cfg.WebAddr != "" {
		fmt.Fprintf(&b, "Status endpoint was: http://%s/status\n", cfg.WebAddr)
	}

	b.WriteString(ruleHeavy)
	return b.String()
}

// OverwatchSummaryConfig holds the data for the overwatch exit summary.
type OverwatchSummaryConfig struct {
	Duration      time.Duration
	Iterations    int64
	SamplesStored int64
	StopReason    string
	Digest        DigestSnapshot
	Top           []ProcessStats
	StoragePath   string
	WebAddr       string
}

// FormatOverwatchSummary formats the result of a sampling session.
func FormatOverwatchSummary(cfg OverwatchSummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	fmt.Fprintf(&b, "%s\n", centre("hwdiag Overwatch Summary"))
	b.WriteString(ruleHeavy + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Iterations:             %s\n", FormatNumber(cfg.Iterations))
	fmt.Fprintf(&b, "Samples Stored:         %s\n", FormatNumber(cfg.SamplesStored))
	if cfg.StopReason != "" {
		fmt.Fprintf(&b, "Stop Reason:            %s\n", cfg.StopReason)
	}
	if cfg.StoragePath != "" {
		fmt.Fprintf(&b, "Storage:                %s\n", cfg.StoragePath)
	}
	b.WriteString("\n")

	if cfg.Digest.Count > 0 {
		b.WriteString(section("Process Load Distribution"))
		fmt.Fprintf(&b, "  %-10s %10s %10s %10s %10s\n", "", "P50", "P95", "P99", "Max")
		fmt.Fprintf(&b, "  %-10s %10s %10s %10s %10s\n", "CPU",
			FormatPercent(cfg.Digest.CPU.P50),
			FormatPercent(cfg.Digest.CPU.P95),
			FormatPercent(cfg.Digest.CPU.P99),
			FormatPercent(cfg.Digest.CPU.Max),
		)
		fmt.Fprintf(&b, "  %-10s %10s %10s %10s %10s\n", "Memory",
			FormatPercent(cfg.Digest.Memory.P50),
			FormatPercent(cfg.Digest.Memory.P95),
			FormatPercent(cfg.Digest.Memory.P99),
			FormatPercent(cfg.Digest.Memory.Max),
		)
		b.WriteString("\n")
	}

	if len(cfg.Top) > 0 {
		b.WriteString(section("Top Processes"))
		fmt.Fprintf(&b, "  %-10s %9s %9s %9s  %s\n", "Owner", "Avg CPU", "Peak CPU", "Peak Mem", "Command")
		for _, p := range cfg.Top {
			fmt.Fprintf(&b, "  %-10s %9s %9s %9s  %s\n",
				truncate(p.Owner, 10),
				FormatPercent(p.AvgCPU),
				FormatPercent(p.PeakCPU),
				FormatPercent(p.PeakMemory),
				truncate(p.CommandLine, 40),
			)
		}
		b.WriteString("\n")
	}

	if cfg.WebAddr != "" {
		fmt.Fprintf(&b, "Status endpoint was: http://%s/status\n", cfg.WebAddr)
	}

	b.WriteString(ruleHeavy)
	return b.String()
}

func section(title string) string {
	return ruleLight + centre(title) + "\n" + ruleLight + "\n"
}

func centre(s string) string {
	width := 79
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return strings.Repeat(" ", (width-n)/2) + s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 2:
		return "(stressor failed)"
	case 3:
		return "(stressor not implemented)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", rate/1_000_000)
	}
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// FormatPercent formats a ps-style percentage.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
