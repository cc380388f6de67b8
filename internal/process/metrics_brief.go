package process

import (
	"strconv"
	"strings"
)

// StressorMetric is one row of the stress-ng --metrics-brief table.
type StressorMetric struct {
	Stressor         string  `json:"stressor" yaml:"stressor"`
	BogoOps          int64   `json:"bogo_ops" yaml:"bogo_ops"`
	RealTimeSecs     float64 `json:"real_time_secs" yaml:"real_time_secs"`
	UserTimeSecs     float64 `json:"user_time_secs" yaml:"user_time_secs"`
	SystemTimeSecs   float64 `json:"system_time_secs" yaml:"system_time_secs"`
	BogoOpsPerSec    float64 `json:"bogo_ops_per_sec" yaml:"bogo_ops_per_sec"`
	BogoOpsPerCPUSec float64 `json:"bogo_ops_per_cpu_sec" yaml:"bogo_ops_per_cpu_sec"`
}

// ParseMetricsBrief extracts stressor rows from stress-ng output. Lines look like
//
//	stress-ng: metrc: [1234] cpu   40000   10.00   39.80   0.01   3999.62   1004.80
//
// Older releases use "info:" instead of "metrc:". Header and unrelated lines
// are skipped.
func ParseMetricsBrief(output string) []StressorMetric {
	var metrics []StressorMetric

	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "] ")
		if idx < 0 || !strings.HasPrefix(strings.TrimSpace(line), "stress-ng:") {
			continue
		}

		fields := strings.Fields(line[idx+2:])
		if len(fields) < 7 {
			continue
		}

		m, ok := parseMetricFields(fields)
		if !ok {
			continue
		}
		metrics = append(metrics, m)
	}

	return metrics
}

func parseMetricFields(fields []string) (StressorMetric, bool) {
	ops, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return StressorMetric{}, false
	}

	var nums [5]float64
	for i := range nums {
		v, err := strconv.ParseFloat(fields[2+i], 64)
		if err != nil {
			return StressorMetric{}, false
		}
		nums[i] = v
	}

	return StressorMetric{
		Stressor:         fields[0],
		BogoOps:          ops,
		RealTimeSecs:     nums[0],
		UserTimeSecs:     nums[1],
		SystemTimeSecs:   nums[2],
		BogoOpsPerSec:    nums[3],
		BogoOpsPerCPUSec: nums[4],
	}, true
}
