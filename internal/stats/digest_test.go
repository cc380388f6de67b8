package stats

import (
	"math"
	"sync"
	"testing"

	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
)

func testBatch() []sampler.Sample {
	return []sampler.Sample{
		{Owner: "root", PID: 100, CPUPercent: 98.0, MemoryPercent: 0.3, CommandLine: "stress-ng --cpu 4"},
		{Owner: "alice", PID: 200, CPUPercent: 1.5, MemoryPercent: 4.0, CommandLine: "/usr/bin/firefox"},
		{Owner: "bob", PID: 300, CPUPercent: 0.1, MemoryPercent: 0.1, CommandLine: "sshd: bob"},
	}
}

func TestSampleDigest_Empty(t *testing.T) {
	d := NewSampleDigest()
	snap := d.Snapshot()

	if snap.Count != 0 || snap.Batches != 0 {
		t.Errorf("snapshot = %+v, want zero", snap)
	}
	if math.IsNaN(snap.CPU.P50) || snap.CPU.P50 != 0 {
		t.Errorf("CPU.P50 = %v, want 0", snap.CPU.P50)
	}
	if got := d.TopProcesses(5); len(got) != 0 {
		t.Errorf("TopProcesses = %v, want empty", got)
	}
}

func TestSampleDigest_Quantiles(t *testing.T) {
	d := NewSampleDigest()

	// 100 samples with CPU 1..100.
	batch := make([]sampler.Sample, 0, 100)
	for i := 1; i <= 100; i++ {
		batch = append(batch, sampler.Sample{
			Owner:         "u",
			CPUPercent:    float64(i),
			MemoryPercent: float64(i) / 10,
			CommandLine:   "cmd",
		})
	}
	d.AddBatch(batch)

	snap := d.Snapshot()
	if snap.Count != 100 || snap.Batches != 1 {
		t.Fatalf("Count = %d, Batches = %d", snap.Count, snap.Batches)
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cpu p50", snap.CPU.P50, 50},
		{"cpu p95", snap.CPU.P95, 95},
		{"cpu p99", snap.CPU.P99, 99},
		{"mem p50", snap.Memory.P50, 5},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > tt.want*0.05+0.5 {
			t.Errorf("%s = %v, want ~%v", tt.name, tt.got, tt.want)
		}
	}

	if snap.CPU.Max != 100 || snap.Memory.Max != 10 {
		t.Errorf("Max = %v/%v, want 100/10", snap.CPU.Max, snap.Memory.Max)
	}
}

func TestSampleDigest_TopProcesses(t *testing.T) {
	d := NewSampleDigest()
	d.AddBatch(testBatch())
	d.AddBatch([]sampler.Sample{
		{Owner: "root", CPUPercent: 90.0, MemoryPercent: 0.5, CommandLine: "stress-ng --cpu 4"},
	})

	top := d.TopProcesses(2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].CommandLine != "stress-ng --cpu 4" {
		t.Errorf("top[0] = %q", top[0].CommandLine)
	}
	if top[0].Samples != 2 || top[0].AvgCPU != 94.0 || top[0].PeakCPU != 98.0 || top[0].PeakMemory != 0.5 {
		t.Errorf("top[0] = %+v", top[0])
	}
	if top[1].CommandLine != "/usr/bin/firefox" {
		t.Errorf("top[1] = %q", top[1].CommandLine)
	}

	all := d.TopProcesses(0)
	if len(all) != 3 {
		t.Errorf("TopProcesses(0) = %d entries, want 3", len(all))
	}
}

func TestSampleDigest_Reset(t *testing.T) {
	d := NewSampleDigest()
	d.AddBatch(testBatch())
	d.Reset()

	if snap := d.Snapshot(); snap.Count != 0 {
		t.Errorf("Count after Reset = %d", snap.Count)
	}
	if len(d.TopProcesses(0)) != 0 {
		t.Error("processes not cleared")
	}
}

func TestSampleDigest_Concurrent(t *testing.T) {
	d := NewSampleDigest()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Add(sampler.Sample{CPUPercent: float64(j), CommandLine: "x"})
				_ = d.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := d.Snapshot().Count; got != 400 {
		t.Errorf("Count = %d, want 400", got)
	}
}
