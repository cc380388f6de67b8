package process

import "testing"

const metricsBriefOutput = `stress-ng: info:  [4242] setting to a 10 secs run per stressor
stress-ng: info:  [4242] dispatching hogs: 4 cpu
stress-ng: metrc: [4242] stressor       bogo ops real time  usr time  sys time   bogo ops/s     bogo ops/s
stress-ng: metrc: [4242]                           (secs)    (secs)    (secs)   (real time) (usr+sys time)
stress-ng: metrc: [4242] cpu               40012     10.00     39.80      0.01      4001.05        1005.07
stress-ng: metrc: [4242] matrix             1234     10.01     10.00      0.00       123.28         123.40
stress-ng: info:  [4242] successful run completed in 10.01 secs
`

func TestParseMetricsBrief(t *testing.T) {
	metrics := ParseMetricsBrief(metricsBriefOutput)

	if len(metrics) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(metrics), metrics)
	}

	cpu := metrics[0]
	if cpu.Stressor != "cpu" {
		t.Errorf("Stressor = %q, want cpu", cpu.Stressor)
	}
	if cpu.BogoOps != 40012 {
		t.Errorf("BogoOps = %d, want 40012", cpu.BogoOps)
	}
	if cpu.RealTimeSecs != 10.00 || cpu.UserTimeSecs != 39.80 || cpu.SystemTimeSecs != 0.01 {
		t.Errorf("times = %v/%v/%v", cpu.RealTimeSecs, cpu.UserTimeSecs, cpu.SystemTimeSecs)
	}
	if cpu.BogoOpsPerSec != 4001.05 {
		t.Errorf("BogoOpsPerSec = %v", cpu.BogoOpsPerSec)
	}
	if cpu.BogoOpsPerCPUSec != 1005.07 {
		t.Errorf("BogoOpsPerCPUSec = %v", cpu.BogoOpsPerCPUSec)
	}

	if metrics[1].Stressor != "matrix" {
		t.Errorf("second Stressor = %q, want matrix", metrics[1].Stressor)
	}
}

func TestParseMetricsBrief_OlderInfoPrefix(t *testing.T) {
	out := "stress-ng: info:  [99] cpu    100   1.00   1.00   0.00   100.00   100.00\n"

	metrics := ParseMetricsBrief(out)
	if len(metrics) != 1 || metrics[0].BogoOps != 100 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestParseMetricsBrief_Ignores(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no prefix", "[1] cpu 100 1.00 1.00 0.00 100.00 100.00"},
		{"short row", "stress-ng: metrc: [1] cpu 100 1.00"},
		{"non numeric", "stress-ng: metrc: [1] cpu many 1.00 1.00 0.00 100.00 100.00"},
		{"bad float", "stress-ng: metrc: [1] cpu 100 1.00 x 0.00 100.00 100.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseMetricsBrief(tt.in); len(got) != 0 {
				t.Errorf("ParseMetricsBrief(%q) = %+v, want none", tt.in, got)
			}
		})
	}
}
