package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/adgate/internal/config"
	"github.com/jkaninda/adgate/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestNilAccessors(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil || obs.MetricsOrNil() != nil || obs.AnomalyOrNil() != nil {
		t.Error("nil Observability accessors must return nil")
	}
}

// --- MetricsCollector ---

func counterValue(t *testing.T, reg interface {
	Gather() ([]*dto.MetricFamily, error)
}, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
					break
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.PreviewsTotal.WithLabelValues("update_budget").Inc()
	m.PreviewsTotal.WithLabelValues("update_budget").Inc()
	m.ConfirmationsTotal.WithLabelValues("update_budget", "success").Inc()
	m.BlockedOperationsTotal.WithLabelValues("update_budget", "vague_request").Inc()
	m.RollbacksTotal.WithLabelValues("success").Inc()

	if got := counterValue(t, m.Registry, "adgate_safety_previews_total", map[string]string{"tool": "update_budget"}); got != 2 {
		t.Errorf("previews counter = %v, want 2", got)
	}
	if got := counterValue(t, m.Registry, "adgate_safety_blocked_operations_total", map[string]string{"reason": "vague_request"}); got != 1 {
		t.Errorf("blocked counter = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "adgate_snapshot_rollbacks_total", map[string]string{"status": "success"}); got != 1 {
		t.Errorf("rollback counter = %v, want 1", got)
	}
}

// --- InstrumentedExecutor ---

func TestInstrumentedExecutor_RecordsCalls(t *testing.T) {
	mem := platform.NewMemory("google_ads")
	mem.SeedBudget("acct-1", platform.Budget{ID: "b-1", AmountMicros: 50_000_000})

	m := NewMetricsCollector()
	exec := NewInstrumentedExecutor(mem, m, nil, nil)

	if exec.Name() != "google_ads" {
		t.Errorf("Name = %q", exec.Name())
	}

	ctx := context.Background()
	if _, err := exec.GetBudget(ctx, "acct-1", "b-1"); err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if _, err := exec.SetBudget(ctx, "acct-1", "b-1", 60_000_000); err != nil {
		t.Fatalf("SetBudget: %v", err)
	}
	if _, err := exec.GetBudget(ctx, "acct-1", "missing"); err == nil {
		t.Fatal("expected error for missing budget")
	}

	if got := counterValue(t, m.Registry, "adgate_platform_calls_total", map[string]string{"operation": "set_budget", "status": "success"}); got != 1 {
		t.Errorf("set_budget success counter = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "adgate_platform_calls_total", map[string]string{"operation": "get_budget", "status": "error"}); got != 1 {
		t.Errorf("get_budget error counter = %v, want 1", got)
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	a.RecordBlocked("x")
	a.RecordAllowed("x")
}

func TestAnomalyDetector_Window(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		BlockRateThreshold: 0.5,
		WindowSeconds:      1,
	}, testLogger())

	for i := 0; i < 6; i++ {
		a.RecordBlocked("update_budget")
	}

	a.mu.Lock()
	sum := a.blocked["update_budget"].sum()
	a.mu.Unlock()
	if sum != 6 {
		t.Errorf("window sum = %v, want 6", sum)
	}

	time.Sleep(1100 * time.Millisecond)

	a.mu.Lock()
	sum = a.blocked["update_budget"].sum()
	a.mu.Unlock()
	if sum != 0 {
		t.Errorf("window sum after expiry = %v, want 0", sum)
	}
}

// --- HealthChecker ---

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker(testLogger())

	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("readiness with no checks = %q", status.Status)
	}

	h.AddCheck("db", func(context.Context) error { return nil })
	h.AddCheck("webhook", func(context.Context) error { return errors.New("unreachable") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "ok" || status.Checks["webhook"].Status != "fail" {
		t.Errorf("checks = %+v", status.Checks)
	}

	if h.CheckHealth().Status != "ok" {
		t.Error("liveness should always be ok")
	}
}
