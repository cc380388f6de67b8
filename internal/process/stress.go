package process

import (
	"math"
	"strconv"
	"time"
)

// StressConfig holds configuration for a stress-ng invocation.
type StressConfig struct {
	// BinaryPath is the path to the staged stress-ng launcher.
	BinaryPath string

	// Cores is the number of CPU stressor workers. 0 means one per online CPU.
	Cores int

	// Timeout is how long stress-ng runs before stopping its stressors.
	Timeout time.Duration

	// CPUMethod selects the CPU stress method. Empty uses stress-ng's default.
	CPUMethod string

	// MetricsBrief enables the bogo-ops summary table.
	MetricsBrief bool

	// ExtraFlags are appended verbatim.
	ExtraFlags []string

	// OutputPath, when set, receives stdout and stderr instead of memory.
	OutputPath string
}

// DefaultStressConfig returns a StressConfig with sensible defaults.
func DefaultStressConfig(binaryPath string) *StressConfig {
	return &StressConfig{
		BinaryPath:   binaryPath,
		Cores:        4,
		Timeout:      60 * time.Second,
		MetricsBrief: true,
	}
}

// BenchmarkStressConfig returns the configuration used by the benchmark
// command: every online CPU, one method, metrics table enabled.
func BenchmarkStressConfig(binaryPath, cpuMethod string, timeout time.Duration) *StressConfig {
	return &StressConfig{
		BinaryPath:   binaryPath,
		Cores:        0,
		Timeout:      timeout,
		CPUMethod:    cpuMethod,
		MetricsBrief: true,
	}
}

// StressBuilder builds stress-ng command specs.
type StressBuilder struct {
	config *StressConfig
}

// NewStressBuilder creates a new builder with the given configuration.
func NewStressBuilder(cfg *StressConfig) *StressBuilder {
	return &StressBuilder{
		config: cfg,
	}
}

// Name returns "stress-ng".
func (b *StressBuilder) Name() string {
	return "stress-ng"
}

// Spec returns the command spec for one stress-ng run.
func (b *StressBuilder) Spec() CommandSpec {
	return CommandSpec{
		Program:    b.config.BinaryPath,
		Args:       b.buildArgs(),
		OutputPath: b.config.OutputPath,
	}
}

// buildArgs constructs the stress-ng command-line arguments.
func (b *StressBuilder) buildArgs() []string {
	args := []string{
		"--cpu", strconv.Itoa(b.config.Cores),
	}

	if b.config.CPUMethod != "" {
		args = append(args, "--cpu-method", b.config.CPUMethod)
	}

	args = append(args, "--timeout", FormatTimeout(b.config.Timeout))

	if b.config.MetricsBrief {
		args = append(args, "--metrics-brief")
	}

	args = append(args, b.config.ExtraFlags...)

	return args
}

// Config returns the stress configuration.
func (b *StressBuilder) Config() *StressConfig {
	return b.config
}

// CommandString returns the command that would be executed (for debugging).
func (b *StressBuilder) CommandString() string {
	return b.Spec().String()
}

// FormatTimeout renders d in whole seconds the way stress-ng expects
// ("60s"), rounding up and never below one second.
func FormatTimeout(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10) + "s"
}
