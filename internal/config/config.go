// Package config provides configuration management for hwdiag.
package config

import "time"

// Config holds all configuration options for hwdiag.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Web       WebConfig       `yaml:"web"`
	Stress    StressConfig    `yaml:"stress"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
}

// GeneralConfig holds logging, storage and staging settings.
type GeneralConfig struct {
	LogDir      string `yaml:"log_dir"` // empty = console only
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json, text
	StoragePath string `yaml:"storage_path"`
	StageDir    string `yaml:"stage_dir"` // empty = os.TempDir()
	KeepStaged  bool   `yaml:"keep_staged"`
}

// WebConfig holds the status server settings.
type WebConfig struct {
	Addr            string        `yaml:"addr"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StressConfig holds the stress-ng defaults used by the stress command.
type StressConfig struct {
	Cores           int           `yaml:"cores"`
	Timeout         time.Duration `yaml:"timeout"`
	ExtraFlags      []string      `yaml:"extra_flags"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`  // 1 keeps the backoff constant
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff"` // 0 = uncapped
	RetryJitter     float64       `yaml:"retry_jitter"`      // fraction, 0..1
	MetricsBrief    bool          `yaml:"metrics_brief"`
}

// SamplerConfig holds the process snapshot loop settings.
type SamplerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	MinTokens int           `yaml:"min_tokens"`
	Command   string        `yaml:"command"`
	Args      []string      `yaml:"args"`
	Layout    string        `yaml:"layout"` // "aux" or "compact"
	KeyPrefix string        `yaml:"key_prefix"`
}

// BenchmarkConfig holds the benchmark command settings.
type BenchmarkConfig struct {
	CPUMethod string        `yaml:"cpu_method"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
// The embedded default.yaml carries the same values.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			LogDir:      "logs",
			LogLevel:    "info",
			LogFormat:   "text",
			StoragePath: "hwdiag.db",
		},
		Web: WebConfig{
			Addr:            "127.0.0.1:8000",
			RateLimit:       20,
			RateBurst:       40,
			ShutdownTimeout: 5 * time.Second,
		},
		Stress: StressConfig{
			Cores:           4,
			Timeout:         60 * time.Second,
			MaxRetries:      2,
			RetryBackoff:    time.Second,
			RetryMultiplier: 1,
			MetricsBrief:    true,
		},
		Sampler: SamplerConfig{
			Interval:  2 * time.Second,
			MinTokens: 11,
			Command:   "sh",
			Args:      []string{"-c", "ps aux | sort -nrk 3,3 | head -n 10"},
			Layout:    "aux",
			KeyPrefix: "sample",
		},
		Benchmark: BenchmarkConfig{
			CPUMethod: "all",
			Timeout:   30 * time.Second,
		},
	}
}
