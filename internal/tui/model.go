package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-hwdiag/internal/metrics"
)

// refreshInterval is how often the model polls its status source.
const refreshInterval = 500 * time.Millisecond

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries an updated status document.
type StatusMsg struct {
	Status metrics.Status
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	webAddr     string
	storagePath string
	maxRows     int

	// Current state
	status     metrics.Status
	hasStatus  bool
	startTime  time.Time
	lastUpdate time.Time
	showTop    bool

	// Display options
	width  int
	height int

	source metrics.StatusSource

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Source      metrics.StatusSource
	WebAddr     string
	StoragePath string

	// MaxRows bounds the process table. Defaults to 10.
	MaxRows int
}

// New creates a new TUI model.
func New(cfg Config) Model {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 10
	}
	return Model{
		webAddr:     cfg.WebAddr,
		storagePath: cfg.StoragePath,
		maxRows:     maxRows,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// Run shows the model until the user quits or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	program := tea.NewProgram(New(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "t":
			m.showTop = !m.showTop
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.status = m.source.Status()
			m.hasStatus = true
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case StatusMsg:
		m.status = msg.Status
		m.hasStatus = true
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after refreshInterval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the TUI started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// SamplerState returns the sampler state from the last status, or "".
func (m Model) SamplerState() string {
	if m.status.Sampler == nil {
		return ""
	}
	return m.status.Sampler.State
}

// Iterations returns the sampler iteration count.
func (m Model) Iterations() int64 {
	if m.status.Sampler == nil {
		return 0
	}
	return m.status.Sampler.Iterations
}

// SamplesStored returns the number of samples written to storage.
func (m Model) SamplesStored() int64 {
	if m.status.Sampler == nil {
		return 0
	}
	return m.status.Sampler.SamplesStored
}

// Quitting reports whether the user asked to quit.
func (m Model) Quitting() bool {
	return m.quitting
}
