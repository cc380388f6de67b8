// Package metrics exposes hwdiag's Prometheus metrics and the HTTP status
// server.
//
// Every Collector owns its metric instances, so several collectors can be
// registered on separate registries (one per test).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-hwdiag/internal/process"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
)

// Namespace prefixes every hwdiag metric.
const Namespace = "hwdiag"

// Collector manages all Prometheus metrics for one hwdiag process.
type Collector struct {
	info *prometheus.GaugeVec

	// Sampler
	samplerIterations prometheus.Counter
	samplesStored     prometheus.Counter
	snapshotDuration  prometheus.Histogram
	samplerRunning    prometheus.Gauge
	sampleCPU         *prometheus.GaugeVec
	sampleMemory      *prometheus.GaugeVec

	// Stress / benchmark
	stressAttempts  *prometheus.CounterVec
	stressRetries   prometheus.Counter
	stressExhausted prometheus.Counter
	stressExitCode  prometheus.Gauge
	stressDuration  prometheus.Histogram
	stageTotal      *prometheus.CounterVec

	// HTTP
	httpRequests    *prometheus.CounterVec
	httpRateLimited prometheus.Counter

	startTime time.Time

	mu        sync.Mutex
	attempts  int64
	retries   int64
	exitCodes map[int]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Variant string
	Command string
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "Information about the hwdiag run (value always 1)",
		}, []string{"version", "variant", "command"}),

		samplerIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sampler_iterations_total",
			Help:      "Snapshot commands run by the sampler",
		}),
		samplesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "samples_stored_total",
			Help:      "Process samples written to storage",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sampler_snapshot_duration_seconds",
			Help:      "Wall time of each snapshot command",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		samplerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sampler_running",
			Help:      "1 while the sampling loop is running",
		}),
		sampleCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sample_cpu_percent",
			Help:      "Per-process CPU percent across all samples",
		}, []string{"quantile"}),
		sampleMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sample_memory_percent",
			Help:      "Per-process memory percent across all samples",
		}, []string{"quantile"}),

		stressAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stress_attempts_total",
			Help:      "stress-ng attempts by outcome",
		}, []string{"outcome"}),
		stressRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stress_retries_total",
			Help:      "Retries scheduled after spawn or wait failures",
		}),
		stressExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stress_retries_exhausted_total",
			Help:      "Runs that failed on every allowed attempt",
		}),
		stressExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "stress_last_exit_code",
			Help:      "Exit code of the last stress-ng process (-1 = never ran)",
		}),
		stressDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stress_run_duration_seconds",
			Help:      "Wall time of each stress-ng attempt",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_total",
			Help:      "Binary staging operations by result",
		}, []string{"result"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by path and status code",
		}, []string{"path", "code"}),
		httpRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_rate_limited_total",
			Help:      "HTTP requests rejected by the rate limiter",
		}),

		startTime: time.Now(),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.samplerIterations,
		c.samplesStored,
		c.snapshotDuration,
		c.samplerRunning,
		c.sampleCPU,
		c.sampleMemory,
		c.stressAttempts,
		c.stressRetries,
		c.stressExhausted,
		c.stressExitCode,
		c.stressDuration,
		c.stageTotal,
		c.httpRequests,
		c.httpRateLimited,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Variant, cfg.Command).Set(1)
	c.stressExitCode.Set(-1)

	return c
}

// =============================================================================
// Sampler
// =============================================================================

// RecordIteration counts one snapshot command and its duration.
func (c *Collector) RecordIteration(d time.Duration) {
	c.samplerIterations.Inc()
	c.snapshotDuration.Observe(d.Seconds())
}

// RecordBatch counts stored samples.
func (c *Collector) RecordBatch(n int) {
	c.samplesStored.Add(float64(n))
}

// SetSamplerRunning flips the sampler_running gauge.
func (c *Collector) SetSamplerRunning(running bool) {
	if running {
		c.samplerRunning.Set(1)
		return
	}
	c.samplerRunning.Set(0)
}

// SetSampleQuantiles publishes the digest percentiles.
func (c *Collector) SetSampleQuantiles(snap stats.DigestSnapshot) {
	setQuantiles(c.sampleCPU, snap.CPU)
	setQuantiles(c.sampleMemory, snap.Memory)
}

func setQuantiles(g *prometheus.GaugeVec, q stats.Quantiles) {
	g.WithLabelValues("0.5").Set(q.P50)
	g.WithLabelValues("0.95").Set(q.P95)
	g.WithLabelValues("0.99").Set(q.P99)
	g.WithLabelValues("1").Set(q.Max)
}

// =============================================================================
// Stress
// =============================================================================

// RecordAttempt counts one stress-ng attempt.
func (c *Collector) RecordAttempt(outcome process.Outcome) {
	c.stressAttempts.WithLabelValues(outcome.Kind.String()).Inc()
	c.stressDuration.Observe(outcome.Duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++

	if outcome.Succeeded() {
		c.stressExitCode.Set(float64(outcome.ExitCode))
		c.exitCodes[outcome.ExitCode]++
	}
}

// RecordRetry counts a scheduled retry.
func (c *Collector) RecordRetry() {
	c.stressRetries.Inc()

	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

// RecordExhausted counts a run whose every attempt failed.
func (c *Collector) RecordExhausted() {
	c.stressExhausted.Inc()
}

// RecordStage counts a staging operation.
func (c *Collector) RecordStage(err error) {
	if err != nil {
		c.stageTotal.WithLabelValues("failed").Inc()
		return
	}
	c.stageTotal.WithLabelValues("ok").Inc()
}

// =============================================================================
// HTTP
// =============================================================================

// RecordRequest counts one served request.
func (c *Collector) RecordRequest(path string, code int) {
	c.httpRequests.WithLabelValues(path, statusLabel(code)).Inc()
}

// RecordRateLimited counts a rejected request.
func (c *Collector) RecordRateLimited() {
	c.httpRateLimited.Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the stress counters for the exit summary.
type Summary struct {
	Duration  time.Duration
	Attempts  int64
	Retries   int64
	ExitCodes map[int]int64
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:  time.Since(c.startTime),
		Attempts:  c.attempts,
		Retries:   c.retries,
		ExitCodes: make(map[int]int64, len(c.exitCodes)),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	return s
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}
