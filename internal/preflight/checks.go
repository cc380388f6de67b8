// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// MinFileDescriptors is the soft RLIMIT_NOFILE below which the fd check
// fails. The SQLite pool, log files, the listener and stress-ng's own
// descriptors all count against it.
const MinFileDescriptors = 256

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll checks. Empty fields skip their check.
type Options struct {
	StageDir        string // must be writable
	SnapshotProgram string // sampler command, must resolve on PATH
	StressProgram   string // runtime the staged launcher execs; warning only
	Workers         int    // stress-ng worker count for the process limit
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Failed returns the checks that did not pass.
func (r *Result) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// RunAll executes all preflight checks selected by opts.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(MinFileDescriptors))
	add(checkProcessLimit(opts.Workers))

	if opts.StageDir != "" {
		add(checkStageDir(opts.StageDir))
	}
	if opts.SnapshotProgram != "" {
		add(checkProgram("snapshot_command", opts.SnapshotProgram, false))
	}
	if opts.StressProgram != "" {
		add(checkProgram("stress_runtime", opts.StressProgram, true))
	}

	return result
}

// checkFileDescriptors verifies the soft descriptor limit.
func checkFileDescriptors(required int) Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := int(limit.Cur)
	if limit.Cur > 1<<30 {
		actual = 1 << 30
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(workers int) Check {
	required := workers + 50

	// Read soft limit from /proc/self/limits
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses reads the soft "Max processes" limit from the contents
// of /proc/self/limits. It returns 0 when the line is missing.
func parseMaxProcesses(limits string) int {
	actual := 0
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 4 {
			if fields[2] == "unlimited" {
				actual = 1000000
			} else {
				fmt.Sscanf(fields[2], "%d", &actual)
			}
		}
		break
	}
	return actual
}

// checkStageDir verifies dir exists or can be created, and that a file can
// be created in it.
func checkStageDir(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{
			Name:    "stage_dir",
			Passed:  false,
			Message: fmt.Sprintf("%s not creatable: %v", dir, err),
		}
	}

	f, err := os.CreateTemp(dir, ".hwdiag-preflight-*")
	if err != nil {
		return Check{
			Name:    "stage_dir",
			Passed:  false,
			Message: fmt.Sprintf("%s not writable: %v", dir, err),
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	return Check{
		Name:    "stage_dir",
		Passed:  true,
		Message: fmt.Sprintf("%s writable", dir),
	}
}

// checkProgram verifies program resolves on PATH. Missing optional programs
// are reported as warnings.
func checkProgram(name, program string, optional bool) Check {
	path, err := exec.LookPath(program)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  optional,
			Warning: optional,
			Message: fmt.Sprintf("%s not found: %v", program, err),
		}
	}

	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "stage_dir":
		return "set general.stage_dir to a writable directory"
	case "snapshot_command":
		return "install procps (apt install procps) or set sampler.command"
	case "stress_runtime":
		return "install stress-ng (apt install stress-ng / brew install stress-ng)"
	default:
		return ""
	}
}
