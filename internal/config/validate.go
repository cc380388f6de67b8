package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem found joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	// General
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
	}
	if !validLevels[strings.ToLower(cfg.General.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "general.log_level",
			Message: fmt.Sprintf("must be one of: trace, debug, info, warn, error (got %q)", cfg.General.LogLevel),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.General.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "general.log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.General.LogFormat),
		})
	}

	if cfg.General.StoragePath == "" {
		errs = append(errs, ValidationError{
			Field:   "general.storage_path",
			Message: "is required",
		})
	}

	// Web
	if err := validateAddr(cfg.Web.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "web.addr",
			Message: err.Error(),
		})
	}
	if cfg.Web.RateLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "web.rate_limit",
			Message: "must be positive",
		})
	}
	if cfg.Web.RateBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "web.rate_burst",
			Message: "must be at least 1",
		})
	}
	if cfg.Web.ShutdownTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "web.shutdown_timeout",
			Message: "must be positive",
		})
	}

	// Stress
	if cfg.Stress.Cores < 0 {
		errs = append(errs, ValidationError{
			Field:   "stress.cores",
			Message: "must be >= 0 (0 = all online CPUs)",
		})
	}
	if cfg.Stress.Timeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "stress.timeout",
			Message: fmt.Sprintf("must be at least 1s (got %v)", cfg.Stress.Timeout),
		})
	}
	if cfg.Stress.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "stress.max_retries",
			Message: "must be >= 0",
		})
	}
	if cfg.Stress.RetryBackoff < 0 {
		errs = append(errs, ValidationError{
			Field:   "stress.retry_backoff",
			Message: "must not be negative",
		})
	}
	if cfg.Stress.RetryMultiplier < 1 {
		errs = append(errs, ValidationError{
			Field:   "stress.retry_multiplier",
			Message: fmt.Sprintf("must be at least 1 (got %v)", cfg.Stress.RetryMultiplier),
		})
	}
	if cfg.Stress.RetryMaxBackoff < 0 {
		errs = append(errs, ValidationError{
			Field:   "stress.retry_max_backoff",
			Message: "must not be negative",
		})
	}
	if cfg.Stress.RetryJitter < 0 || cfg.Stress.RetryJitter > 1 {
		errs = append(errs, ValidationError{
			Field:   "stress.retry_jitter",
			Message: fmt.Sprintf("must be between 0 and 1 (got %v)", cfg.Stress.RetryJitter),
		})
	}

	// Sampler
	if cfg.Sampler.Interval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "sampler.interval",
			Message: "must be positive",
		})
	}
	if cfg.Sampler.MinTokens < 3 {
		errs = append(errs, ValidationError{
			Field:   "sampler.min_tokens",
			Message: "must be at least 3 (owner, cpu, memory)",
		})
	}
	if cfg.Sampler.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "sampler.command",
			Message: "is required",
		})
	}
	if cfg.Sampler.Layout != "aux" && cfg.Sampler.Layout != "compact" {
		errs = append(errs, ValidationError{
			Field:   "sampler.layout",
			Message: fmt.Sprintf("must be 'aux' or 'compact' (got %q)", cfg.Sampler.Layout),
		})
	}
	if cfg.Sampler.KeyPrefix == "" || strings.Contains(cfg.Sampler.KeyPrefix, ":") {
		errs = append(errs, ValidationError{
			Field:   "sampler.key_prefix",
			Message: fmt.Sprintf("must be non-empty and must not contain ':' (got %q)", cfg.Sampler.KeyPrefix),
		})
	}

	// Benchmark
	if cfg.Benchmark.CPUMethod == "" {
		errs = append(errs, ValidationError{
			Field:   "benchmark.cpu_method",
			Message: "is required",
		})
	}
	if cfg.Benchmark.Timeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "benchmark.timeout",
			Message: fmt.Sprintf("must be at least 1s (got %v)", cfg.Benchmark.Timeout),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateAddr checks that addr is a host:port pair.
func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("is required")
	}
	if strings.Contains(addr, "://") {
		return errors.New("must be host:port, not a URL")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}
