package sampler

import (
	"strings"
	"testing"
	"time"
)

func TestParseSnapshot_CompactLayout(t *testing.T) {
	stdout := "alice 1.2 3.4 /bin/x\nbob 0.1 0.2 /bin/y\n"

	samples := ParseSnapshot(stdout, 3, LayoutCompact)
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}

	want := []Sample{
		{Owner: "alice", CPUPercent: 1.2, MemoryPercent: 3.4, CommandLine: "/bin/x"},
		{Owner: "bob", CPUPercent: 0.1, MemoryPercent: 0.2, CommandLine: "/bin/y"},
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %+v, want %+v", i, samples[i], want[i])
		}
	}
}

func TestParseSnapshot_PsAux(t *testing.T) {
	stdout := strings.Join([]string{
		"USER       PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND",
		"root      1234 98.5  0.3 123456  7890 pts/0    R+   10:00   1:23 stress-ng --cpu 4 --timeout 60s",
		"alice       42  1.0  2.5  55555  4444 ?        Ss   09:00   0:01 /usr/bin/sshd -D",
	}, "\n")

	samples := ParseSnapshot(stdout, 11, LayoutAux)
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}

	first := samples[0]
	if first.Owner != "root" || first.PID != 1234 {
		t.Errorf("first = %+v", first)
	}
	if first.CPUPercent != 98.5 || first.MemoryPercent != 0.3 {
		t.Errorf("first percents = %v/%v", first.CPUPercent, first.MemoryPercent)
	}
	if first.CommandLine != "stress-ng --cpu 4 --timeout 60s" {
		t.Errorf("first command = %q", first.CommandLine)
	}
	if samples[1].CommandLine != "/usr/bin/sshd -D" {
		t.Errorf("second command = %q", samples[1].CommandLine)
	}
}

func TestParseSnapshot_Filtering(t *testing.T) {
	tests := []struct {
		name      string
		stdout    string
		minTokens int
		want      int
	}{
		{"empty", "", 3, 0},
		{"blank lines", "\n\n  \n", 3, 0},
		{"below threshold", "alice 1.2\n", 3, 0},
		{"header only", "USER %CPU %MEM COMMAND\n", 3, 0},
		{"non-numeric cpu", "alice high 3.4 /bin/x\n", 3, 0},
		{"non-numeric mem", "alice 1.2 lots /bin/x\n", 3, 0},
		{"threshold above columns", "alice 1.2 3.4 /bin/x\n", 5, 0},
		{"threshold at columns", "alice 1.2 3.4 /bin/x\n", 4, 1},
		{"mixed", "alice 1.2 3.4 /bin/x\nshort\nbob 0.1 0.2 /bin/y --flag\n", 3, 2},
		{"no trailing newline", "alice 1.2 3.4 /bin/x", 3, 1},
		{"crlf", "alice 1.2 3.4 /bin/x\r\nbob 0.1 0.2 /bin/y\r\n", 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSnapshot(tt.stdout, tt.minTokens, LayoutCompact)
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d (%+v)", len(got), tt.want, got)
			}
		})
	}
}

// Every well-formed line meeting the threshold yields exactly one sample.
func TestParseSnapshot_CountMatchesQualifyingLines(t *testing.T) {
	lines := []string{
		"a 1 1 x",
		"b 2 2 y z",
		"c 3",
		"d 4 4 p q r s",
		"",
		"e",
		"f 6 6 cmd",
	}

	for minTokens := 1; minTokens <= 8; minTokens++ {
		want := 0
		for _, l := range lines {
			n := len(strings.Fields(l))
			if n >= minTokens && n >= 4 {
				want++
			}
		}
		got := ParseSnapshot(strings.Join(lines, "\n"), minTokens, LayoutCompact)
		if len(got) != want {
			t.Errorf("minTokens=%d: len = %d, want %d", minTokens, len(got), want)
		}
	}
}

func TestParseSnapshot_CommandJoinsRemainingFields(t *testing.T) {
	samples := ParseSnapshot("carol 0.0 0.1 python3   -m   http.server 8080\n", 3, LayoutCompact)
	if len(samples) != 1 {
		t.Fatalf("len = %d, want 1", len(samples))
	}
	if samples[0].CommandLine != "python3 -m http.server 8080" {
		t.Errorf("command = %q", samples[0].CommandLine)
	}
}

func TestParseSnapshot_LayoutIsNotGuessed(t *testing.T) {
	// Eleven tokens with an integer second column.
	row := "alice 1 2 3 a b c d e f g\n"

	compact := ParseSnapshot(row, 3, LayoutCompact)
	if len(compact) != 1 {
		t.Fatalf("compact: len = %d, want 1", len(compact))
	}
	want := Sample{Owner: "alice", CPUPercent: 1, MemoryPercent: 2, CommandLine: "3 a b c d e f g"}
	if compact[0] != want {
		t.Errorf("compact = %+v, want %+v", compact[0], want)
	}

	aux := ParseSnapshot(row, 3, LayoutAux)
	if len(aux) != 1 || aux[0].PID != 1 || aux[0].CPUPercent != 2 || aux[0].CommandLine != "g" {
		t.Errorf("aux = %+v", aux)
	}

	// A compact row is too short for aux.
	if got := ParseSnapshot("alice 1.2 3.4 /bin/x\n", 3, LayoutAux); len(got) != 0 {
		t.Errorf("compact row under aux = %+v, want none", got)
	}
}

func TestParseSnapshot_HeaderDetection(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		layout  Layout
		want    int
		command string
	}{
		{
			name:   "aux header",
			stdout: "USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND\n",
			layout: LayoutAux,
		},
		{
			name:   "compact header without owner label",
			stdout: "OWNER %CPU %MEM COMMAND\n",
			layout: LayoutCompact,
		},
		{
			name:    "aux command mentions %CPU",
			stdout:  "alice 77 0.5 0.1 1000 200 pts/1 S+ 10:00 0:00 watch ps -o %CPU\n",
			layout:  LayoutAux,
			want:    1,
			command: "watch ps -o %CPU",
		},
		{
			name:    "compact command mentions %MEM",
			stdout:  "bob 0.5 0.1 ps -o %MEM,%CPU %MEM\n",
			layout:  LayoutCompact,
			want:    1,
			command: "ps -o %MEM,%CPU %MEM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSnapshot(tt.stdout, 3, tt.layout)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d (%+v)", len(got), tt.want, got)
			}
			if tt.want > 0 && got[0].CommandLine != tt.command {
				t.Errorf("command = %q, want %q", got[0].CommandLine, tt.command)
			}
		})
	}
}

func TestParseLayout(t *testing.T) {
	tests := []struct {
		in      string
		want    Layout
		wantErr bool
	}{
		{"aux", LayoutAux, false},
		{"compact", LayoutCompact, false},
		{"", "", true},
		{"auto", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLayout(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLayout(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLayout(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSampleKey(t *testing.T) {
	ts := time.Unix(1700000000, 5)

	got := string(SampleKey("sample", ts, 3))
	want := "sample:1700000000000000005:0003"
	if got != want {
		t.Errorf("SampleKey = %q, want %q", got, want)
	}

	// Keys within a batch sort in batch order.
	if string(SampleKey("sample", ts, 2)) >= string(SampleKey("sample", ts, 10)) {
		t.Error("index 2 should sort before index 10")
	}
	// Later batches sort after earlier ones.
	if string(SampleKey("sample", ts, 99)) >= string(SampleKey("sample", ts.Add(time.Nanosecond), 0)) {
		t.Error("later batch should sort after earlier batch")
	}
}
