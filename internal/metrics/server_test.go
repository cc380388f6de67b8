package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/randomizedcoder/go-hwdiag/internal/sampler"
	"github.com/randomizedcoder/go-hwdiag/internal/stats"
)

func testStatus() Status {
	return Status{
		Service:   "hwdiag",
		Version:   "test",
		Command:   "overwatch",
		Variant:   "linux",
		Hostname:  "bench-01",
		StartedAt: time.Unix(1700000000, 0).UTC(),
		Uptime:    "00:00:10",
		Sampler: &SamplerStatus{
			State:         "running",
			Interval:      "2s",
			Iterations:    5,
			SamplesStored: 50,
			Digest:        stats.DigestSnapshot{Count: 50, CPU: stats.Quantiles{P50: 1.5}},
			Latest: []sampler.Sample{
				{Owner: "root", PID: 1234, CPUPercent: 98.5, MemoryPercent: 0.3, CommandLine: "stress-ng --cpu 4"},
				{Owner: "alice", PID: 42, CPUPercent: 1.0, MemoryPercent: 2.5, CommandLine: "<script>alert(1)</script>"},
			},
		},
	}
}

func newTestServer(cfg ServerConfig) (*Server, *Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWithRegistry(CollectorConfig{Version: "test"}, registry)

	cfg.Gatherer = registry
	cfg.Collector = collector
	if cfg.Status == nil {
		cfg.Status = StatusFunc(testStatus)
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}
	return NewServer(cfg), collector, registry
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _, _ := newTestServer(ServerConfig{})

	for _, path := range []string{"/health", "/healthz"} {
		rec := get(t, s.Handler(), path)
		if rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != "ok" {
			t.Errorf("%s body = %q", path, rec.Body.String())
		}
	}
}

func TestServer_ReadyBeforeStart(t *testing.T) {
	s, _, _ := newTestServer(ServerConfig{})

	for _, path := range []string{"/ready", "/readyz"} {
		if rec := get(t, s.Handler(), path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, rec.Code)
		}
	}
}

func TestServer_RequestID(t *testing.T) {
	s, _, _ := newTestServer(ServerConfig{})

	rec := get(t, s.Handler(), "/health")
	id := rec.Header().Get("X-Request-Id")
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("X-Request-Id = %q, want a UUID", id)
	}

	provided := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-Id", provided)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != provided {
		t.Errorf("X-Request-Id = %q, want %q", got, provided)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-Id", "not-a-uuid")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got == "not-a-uuid" {
		t.Error("invalid request ID should be replaced")
	}
}

func TestServer_Status(t *testing.T) {
	s, _, _ := newTestServer(ServerConfig{})

	rec := get(t, s.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Command != "overwatch" || got.Sampler == nil {
		t.Fatalf("status = %+v", got)
	}
	if len(got.Sampler.Latest) != 2 || got.Sampler.Latest[0].PID != 1234 {
		t.Errorf("latest = %+v", got.Sampler.Latest)
	}
}

func TestServer_NoStatusSource(t *testing.T) {
	s := NewServer(ServerConfig{Gatherer: prometheus.NewRegistry()})

	for _, path := range []string{"/status", "/dashboard"} {
		if rec := get(t, s.Handler(), path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, rec.Code)
		}
	}
}

func TestServer_Dashboard(t *testing.T) {
	s, _, _ := newTestServer(ServerConfig{})

	rec := get(t, s.Handler(), "/dashboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{"hwdiag overwatch", "bench-01", "stress-ng --cpu 4", "98.5%"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("command line was not escaped")
	}
}

func TestServer_Metrics(t *testing.T) {
	s, collector, _ := newTestServer(ServerConfig{})
	collector.RecordBatch(3)

	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hwdiag_samples_stored_total 3") {
		t.Errorf("metrics body missing samples counter:\n%s", rec.Body.String())
	}
}

func TestServer_RateLimit(t *testing.T) {
	s, collector, _ := newTestServer(ServerConfig{RateLimit: 0.001, RateBurst: 1})

	if rec := get(t, s.Handler(), "/status"); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", rec.Code)
	}

	rec := get(t, s.Handler(), "/status")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("rejected response missing X-Request-Id")
	}

	// Health checks are not rate limited.
	if rec := get(t, s.Handler(), "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}

	if got := testutil.ToFloat64(collector.httpRateLimited); got != 1 {
		t.Errorf("rate limited = %v, want 1", got)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s, _, _ := newTestServer(ServerConfig{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("server never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ready = %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil after cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	if s.Ready() {
		t.Error("server still ready after shutdown")
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	s, _, _ := newTestServer(ServerConfig{Addr: occupied.Addr().String()})

	start := time.Now()
	err = s.Start(context.Background())
	if err == nil {
		t.Fatal("Start() = nil, want bind error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("bind failure took %v", time.Since(start))
	}
	if s.Ready() {
		t.Error("server ready after bind failure")
	}
}
