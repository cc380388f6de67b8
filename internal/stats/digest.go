// Package stats aggregates sampler batches and run outcomes into the
// percentiles and tables shown by the status page, the TUI and the exit
// summaries.
package stats

import (
	"sort"
	"sync"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
)

// digestCompression keeps roughly 100 centroids per digest.
const digestCompression = 100

// Quantiles is a percentile summary of one measurement.
type Quantiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// ProcessStats aggregates every sample seen for one command line.
type ProcessStats struct {
	CommandLine string  `json:"command_line"`
	Owner       string  `json:"owner"`
	Samples     int64   `json:"samples"`
	AvgCPU      float64 `json:"avg_cpu_percent"`
	PeakCPU     float64 `json:"peak_cpu_percent"`
	PeakMemory  float64 `json:"peak_memory_percent"`

	cpuSum float64
}

// DigestSnapshot is a point-in-time copy of a SampleDigest.
type DigestSnapshot struct {
	Count   int64     `json:"count"`
	Batches int64     `json:"batches"`
	CPU     Quantiles `json:"cpu_percent"`
	Memory  Quantiles `json:"memory_percent"`
}

// SampleDigest tracks CPU and memory percentiles across every sample the
// sampler stores. Safe for concurrent use.
type SampleDigest struct {
	mu        sync.Mutex
	cpu       *tdigest.TDigest
	memory    *tdigest.TDigest
	cpuMax    float64
	memoryMax float64
	count     int64
	batches   int64
	processes map[string]*ProcessStats
}

// NewSampleDigest creates an empty digest.
func NewSampleDigest() *SampleDigest {
	return &SampleDigest{
		cpu:       tdigest.NewWithCompression(digestCompression),
		memory:    tdigest.NewWithCompression(digestCompression),
		processes: make(map[string]*ProcessStats),
	}
}

// AddBatch records one sampler batch.
func (d *SampleDigest) AddBatch(batch []sampler.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.batches++
	for _, s := range batch {
		d.add(s)
	}
}

// Add records a single sample.
func (d *SampleDigest) Add(s sampler.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(s)
}

func (d *SampleDigest) add(s sampler.Sample) {
	d.count++
	d.cpu.Add(s.CPUPercent, 1)
	d.memory.Add(s.MemoryPercent, 1)
	if s.CPUPercent > d.cpuMax {
		d.cpuMax = s.CPUPercent
	}
	if s.MemoryPercent > d.memoryMax {
		d.memoryMax = s.MemoryPercent
	}

	p, ok := d.processes[s.CommandLine]
	if !ok {
		p = &ProcessStats{CommandLine: s.CommandLine, Owner: s.Owner}
		d.processes[s.CommandLine] = p
	}
	p.Samples++
	p.cpuSum += s.CPUPercent
	p.AvgCPU = p.cpuSum / float64(p.Samples)
	if s.CPUPercent > p.PeakCPU {
		p.PeakCPU = s.CPUPercent
	}
	if s.MemoryPercent > p.PeakMemory {
		p.PeakMemory = s.MemoryPercent
	}
}

// Snapshot returns the current percentiles. All zero when nothing has been
// recorded.
func (d *SampleDigest) Snapshot() DigestSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DigestSnapshot{Count: d.count, Batches: d.batches}
	if d.count == 0 {
		return snap
	}

	snap.CPU = Quantiles{
		P50: d.cpu.Quantile(0.50),
		P95: d.cpu.Quantile(0.95),
		P99: d.cpu.Quantile(0.99),
		Max: d.cpuMax,
	}
	snap.Memory = Quantiles{
		P50: d.memory.Quantile(0.50),
		P95: d.memory.Quantile(0.95),
		P99: d.memory.Quantile(0.99),
		Max: d.memoryMax,
	}
	return snap
}

// TopProcesses returns up to n command lines ordered by average CPU,
// highest first. Ties are broken by command line.
func (d *SampleDigest) TopProcesses(n int) []ProcessStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ProcessStats, 0, len(d.processes))
	for _, p := range d.processes {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgCPU != out[j].AvgCPU {
			return out[i].AvgCPU > out[j].AvgCPU
		}
		return out[i].CommandLine < out[j].CommandLine
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Reset discards everything recorded so far.
func (d *SampleDigest) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cpu = tdigest.NewWithCompression(digestCompression)
	d.memory = tdigest.NewWithCompression(digestCompression)
	d.cpuMax, d.memoryMax = 0, 0
	d.count, d.batches = 0, 0
	d.processes = make(map[string]*ProcessStats)
}
