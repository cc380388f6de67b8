package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-hwdiag/internal/metrics"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderView() string {
	sections := []string{m.renderHeader()}

	if !m.hasStatus {
		sections = append(sections, mutedStyle.Render("waiting for first sample..."))
	}
	if st := m.status.Stress; st != nil {
		sections = append(sections, m.renderStress(st))
	}
	if sm := m.status.Sampler; sm != nil {
		sections = append(sections, m.renderSampler(sm))
		sections = append(sections, m.renderDistribution(sm.Digest))
		if m.showTop {
			sections = append(sections, m.renderTopTable(sm.Top))
		} else {
			sections = append(sections, m.renderLatestTable(sm))
		}
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	host := m.status.Hostname
	if host == "" {
		host = "localhost"
	}

	header := fmt.Sprintf(" hwdiag %s │ %s │ %s │ Elapsed: %s ",
		m.status.Command,
		host,
		GetStateLabel(m.SamplerState()),
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Panels
// =============================================================================

func (m Model) renderSampler(sm *metrics.SamplerStatus) string {
	lines := []string{
		sectionHeaderStyle.Render("Sampler"),
		RenderKeyValue("Iterations", stats.FormatNumber(sm.Iterations)),
		RenderKeyValue("Samples stored", stats.FormatNumber(sm.SamplesStored)),
		RenderKeyValue("Interval", sm.Interval),
	}
	if !sm.LastRun.IsZero() {
		lines = append(lines, RenderKeyValue("Last snapshot", sm.LastRun.Format("15:04:05")))
	}
	if sm.StopReason != "" {
		lines = append(lines, RenderKeyValue("Stopped", statusError.Render(sm.StopReason)))
	}
	if m.storagePath != "" {
		lines = append(lines, RenderKeyValue("Storage", m.storagePath))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderStress(st *metrics.StressStatus) string {
	exit := "-"
	if st.LastExitCode >= 0 {
		exit = fmt.Sprintf("%d", st.LastExitCode)
	}
	running := mutedStyle.Render("finished")
	if st.Running {
		running = statusOK.Render("running")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("stress-ng"),
		RenderKeyValue("Command", truncate(st.Command, m.width-22)),
		RenderKeyValue("State", running),
		RenderKeyValue("Attempts", fmt.Sprintf("%d (%d retries)", st.Attempts, st.Retries)),
		RenderKeyValue("Last exit code", GetExitCodeStyle(st.LastExitCode).Render(exit)),
	)
}

func (m Model) renderDistribution(d stats.DigestSnapshot) string {
	if d.Count == 0 {
		return ""
	}

	barWidth := m.width - 40
	if barWidth > 40 {
		barWidth = 40
	}

	row := func(label string, q stats.Quantiles) string {
		return lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(label),
			" p50 ", GetLoadLabel(q.P50),
			" p95 ", GetLoadLabel(q.P95),
			" p99 ", GetLoadLabel(q.P99),
			"  ", RenderProgressBar(q.P95/100, barWidth),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Load distribution"),
		row("CPU %", d.CPU),
		row("Memory %", d.Memory),
	)
}

func (m Model) renderLatestTable(sm *metrics.SamplerStatus) string {
	cmdWidth := m.commandWidth()
	rows := []string{
		sectionHeaderStyle.Render("Latest snapshot"),
		tableHeaderStyle.Render(fmt.Sprintf("%-10s %7s %7s %7s  %s", "USER", "PID", "%CPU", "%MEM", "COMMAND")),
	}

	for i, s := range sm.Latest {
		if i >= m.maxRows {
			break
		}
		line := fmt.Sprintf("%-10s %7d %s %s  %s",
			truncate(s.Owner, 10),
			s.PID,
			GetLoadLabel(s.CPUPercent),
			GetLoadLabel(s.MemoryPercent),
			truncate(s.CommandLine, cmdWidth),
		)
		rows = append(rows, rowStyle(i).Render(line))
	}
	if len(sm.Latest) == 0 {
		rows = append(rows, mutedStyle.Render("(no processes above the token threshold)"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderTopTable(top []stats.ProcessStats) string {
	cmdWidth := m.commandWidth()
	rows := []string{
		sectionHeaderStyle.Render("Top processes (session)"),
		tableHeaderStyle.Render(fmt.Sprintf("%-10s %7s %7s %7s  %s", "USER", "AVG", "PEAK", "SAMPLES", "COMMAND")),
	}

	for i, p := range top {
		if i >= m.maxRows {
			break
		}
		line := fmt.Sprintf("%-10s %s %s %7d  %s",
			truncate(p.Owner, 10),
			GetLoadLabel(p.AvgCPU),
			GetLoadLabel(p.PeakCPU),
			p.Samples,
			truncate(p.CommandLine, cmdWidth),
		)
		rows = append(rows, rowStyle(i).Render(line))
	}
	if len(top) == 0 {
		rows = append(rows, mutedStyle.Render("(no samples yet)"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func rowStyle(i int) lipgloss.Style {
	if i%2 == 0 {
		return tableRowEvenStyle
	}
	return tableRowOddStyle
}

func (m Model) commandWidth() int {
	w := m.width - 40
	if w < 20 {
		w = 20
	}
	return w
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"t: toggle top/latest",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.webAddr != "" {
		right = dimStyle.Render("http://" + m.webAddr + "/dashboard")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
