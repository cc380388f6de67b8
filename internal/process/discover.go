package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultSerialPath is where Linux exposes the DMI product serial number.
const DefaultSerialPath = "/sys/class/dmi/id/product_serial"

// UnknownValue is reported for probes that could not determine a value.
const UnknownValue = "unknown"

// SystemInfo is the host description produced by Discover.
type SystemInfo struct {
	Hostname     string    `json:"hostname" yaml:"hostname"`
	OS           string    `json:"os" yaml:"os"`
	Arch         string    `json:"arch" yaml:"arch"`
	CPUs         int       `json:"cpus" yaml:"cpus"`
	Kernel       string    `json:"kernel" yaml:"kernel"`
	SerialNumber string    `json:"serial_number" yaml:"serial_number"`
	BinaryType   string    `json:"binary_type,omitempty" yaml:"binary_type,omitempty"`
	Warnings     []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	CollectedAt  time.Time `json:"collected_at" yaml:"collected_at"`
}

// DiscoverConfig holds configuration for Discover.
type DiscoverConfig struct {
	// GOOS selects the serial number probe. Defaults to runtime.GOOS.
	GOOS string

	// SerialPath overrides DefaultSerialPath on Linux.
	SerialPath string

	// BinaryPath, when set, is described with file(1).
	BinaryPath string
}

// Discover collects host information concurrently. Individual probe failures
// are recorded in Warnings. An error is returned only when ctx is cancelled.
func Discover(ctx context.Context, runner Runner, logger *slog.Logger, cfg DiscoverConfig) (*SystemInfo, error) {
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	serialPath := cfg.SerialPath
	if serialPath == "" {
		serialPath = DefaultSerialPath
	}

	info := &SystemInfo{
		OS:          goos,
		Arch:        runtime.GOARCH,
		CPUs:        runtime.NumCPU(),
		CollectedAt: time.Now().UTC(),
	}

	var mu sync.Mutex
	warn := func(probe string, err error) {
		logger.Warn("discover_probe_failed", "probe", probe, "error", err)
		mu.Lock()
		info.Warnings = append(info.Warnings, fmt.Sprintf("%s: %v", probe, err))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Hostname
	g.Go(func() error {
		name, err := os.Hostname()
		if err != nil {
			warn("hostname", err)
			name = UnknownValue
		}
		mu.Lock()
		info.Hostname = name
		mu.Unlock()
		return nil
	})

	// Kernel release
	g.Go(func() error {
		kernel, err := runOutput(gctx, runner, CommandSpec{Program: "uname", Args: []string{"-r"}})
		if err != nil {
			warn("kernel", err)
			kernel = UnknownValue
		}
		mu.Lock()
		info.Kernel = kernel
		mu.Unlock()
		return gctx.Err()
	})

	// Serial number
	g.Go(func() error {
		serial, err := serialNumber(gctx, runner, goos, serialPath)
		if err != nil {
			warn("serial_number", err)
			serial = UnknownValue
		}
		mu.Lock()
		info.SerialNumber = serial
		mu.Unlock()
		return gctx.Err()
	})

	// Staged binary type
	if cfg.BinaryPath != "" {
		g.Go(func() error {
			desc, err := runOutput(gctx, runner, CommandSpec{Program: "file", Args: []string{cfg.BinaryPath}})
			if err != nil {
				warn("binary_type", err)
				desc = UnknownValue
			}
			logger.Info("staged_binary_type", "path", cfg.BinaryPath, "type", desc)
			mu.Lock()
			info.BinaryType = desc
			mu.Unlock()
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	return info, nil
}

// serialNumber reads the platform serial number.
func serialNumber(ctx context.Context, runner Runner, goos, serialPath string) (string, error) {
	switch goos {
	case "linux":
		data, err := os.ReadFile(serialPath)
		if err != nil {
			return "", err
		}
		serial := strings.TrimSpace(string(data))
		if serial == "" {
			return "", fmt.Errorf("%s is empty", serialPath)
		}
		return serial, nil

	case "darwin":
		out, err := runOutput(ctx, runner, CommandSpec{
			Program: "ioreg",
			Args:    []string{"-l", "-d", "2", "-c", "IOPlatformExpertDevice"},
		})
		if err != nil {
			return "", err
		}
		return ParseIORegSerial(out)

	default:
		return "", fmt.Errorf("serial number not supported on %s", goos)
	}
}

var ioregSerialRe = regexp.MustCompile(`"IOPlatformSerialNumber"\s*=\s*"([^"]*)"`)

// ParseIORegSerial extracts IOPlatformSerialNumber from `ioreg -l` output.
func ParseIORegSerial(output string) (string, error) {
	m := ioregSerialRe.FindStringSubmatch(output)
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("IOPlatformSerialNumber not found in ioreg output")
	}
	return m[1], nil
}

// runOutput runs spec once and returns its trimmed stdout. A spawn or wait
// failure or a non-zero exit is an error.
func runOutput(ctx context.Context, runner Runner, spec CommandSpec) (string, error) {
	outcome := runner.Run(ctx, spec)
	if !outcome.Succeeded() {
		return "", fmt.Errorf("%s %s: %w", spec.Program, outcome.Kind, outcome.Err)
	}
	if outcome.ExitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s", spec.Program, outcome.ExitCode, strings.TrimSpace(outcome.Stderr))
	}
	return strings.TrimSpace(outcome.Stdout), nil
}
