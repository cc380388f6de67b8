package metrics

import (
	"time"

	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
)

// StatusSource provides the document served on /status and /dashboard.
type StatusSource interface {
	Status() Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() Status

// Status implements StatusSource.
func (f StatusFunc) Status() Status { return f() }

// Status is the live state of a running hwdiag command.
type Status struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Command   string    `json:"command"`
	Variant   string    `json:"variant,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Sampler *SamplerStatus `json:"sampler,omitempty"`
	Stress  *StressStatus  `json:"stress,omitempty"`
}

// SamplerStatus describes the sampling loop.
type SamplerStatus struct {
	State         string               `json:"state"`
	Interval      string               `json:"interval"`
	Iterations    int64                `json:"iterations"`
	SamplesStored int64                `json:"samples_stored"`
	LastRun       time.Time            `json:"last_run,omitempty"`
	StopReason    string               `json:"stop_reason,omitempty"`
	Digest        stats.DigestSnapshot `json:"digest"`
	Latest        []sampler.Sample     `json:"latest"`
	Top           []stats.ProcessStats `json:"top,omitempty"`
}

// StressStatus describes a stress or benchmark run.
type StressStatus struct {
	Command      string `json:"command"`
	Attempts     int64  `json:"attempts"`
	Retries      int64  `json:"retries"`
	LastExitCode int    `json:"last_exit_code"`
	Running      bool   `json:"running"`
}
