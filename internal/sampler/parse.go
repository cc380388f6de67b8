package sampler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// auxColumns is the column count of `ps aux` output:
// USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND...
const auxColumns = 11

// Layout names the column order of the snapshot command's output.
type Layout string

const (
	// LayoutAux is `ps aux`: owner, pid, cpu, mem, seven more columns,
	// then the command.
	LayoutAux Layout = "aux"

	// LayoutCompact is "owner cpu mem command...".
	LayoutCompact Layout = "compact"
)

// ParseLayout maps a config value to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case LayoutAux, LayoutCompact:
		return l, nil
	}
	return "", fmt.Errorf("unknown sampler layout %q", s)
}

// cpuColumn is the index of the cpu field for the layout.
func (l Layout) cpuColumn() int {
	if l == LayoutCompact {
		return 1
	}
	return 2
}

// Sample is one process row of a snapshot.
type Sample struct {
	Owner         string    `json:"owner"`
	PID           int       `json:"pid,omitempty"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	CommandLine   string    `json:"command_line"`
	Timestamp     time.Time `json:"timestamp"`
}

// ParseSnapshot turns snapshot command output into samples, preserving line
// order. Every row is read with the given layout. Lines with fewer than
// minTokens whitespace-separated tokens, header rows, and lines that do not
// fit the layout are skipped.
func ParseSnapshot(stdout string, minTokens int, layout Layout) []Sample {
	parse := parseAux
	if layout == LayoutCompact {
		parse = parseCompact
	}

	var samples []Sample
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < minTokens || len(fields) < 3 {
			continue
		}
		if isHeader(fields, layout) {
			continue
		}

		sample, ok := parse(fields)
		if !ok {
			continue
		}
		samples = append(samples, sample)
	}

	return samples
}

// isHeader looks only at the owner and cpu columns, so a command line
// mentioning %CPU is still a row.
func isHeader(fields []string, layout Layout) bool {
	if fields[0] == "USER" || fields[0] == "UID" {
		return true
	}
	col := layout.cpuColumn()
	return col < len(fields) && fields[col] == "%CPU"
}

func parseAux(fields []string) (Sample, bool) {
	if len(fields) < auxColumns {
		return Sample{}, false
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Sample{}, false
	}
	cpu, mem, ok := parsePercents(fields[2], fields[3])
	if !ok {
		return Sample{}, false
	}

	return Sample{
		Owner:         fields[0],
		PID:           pid,
		CPUPercent:    cpu,
		MemoryPercent: mem,
		CommandLine:   strings.Join(fields[auxColumns-1:], " "),
	}, true
}

func parseCompact(fields []string) (Sample, bool) {
	cpu, mem, ok := parsePercents(fields[1], fields[2])
	if !ok {
		return Sample{}, false
	}

	return Sample{
		Owner:         fields[0],
		CPUPercent:    cpu,
		MemoryPercent: mem,
		CommandLine:   strings.Join(fields[3:], " "),
	}, true
}

func parsePercents(cpuField, memField string) (cpu, mem float64, ok bool) {
	cpu, err := strconv.ParseFloat(cpuField, 64)
	if err != nil {
		return 0, 0, false
	}
	mem, err = strconv.ParseFloat(memField, 64)
	if err != nil {
		return 0, 0, false
	}
	return cpu, mem, true
}

// SampleKey returns the storage key for the index-th sample of the batch
// taken at ts. Keys sort by time, then by position in the batch.
func SampleKey(prefix string, ts time.Time, index int) []byte {
	return []byte(fmt.Sprintf("%s:%d:%04d", prefix, ts.UnixNano(), index))
}
