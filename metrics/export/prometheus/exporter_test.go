package prometheus

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/lockguard"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot lockguard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() lockguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	h, err := c.Handler()
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: lockguard.MetricsSnapshot{
			Counters:   map[lockguard.MetricID]uint64{},
			Histograms: map[lockguard.MetricID][]uint64{},
		},
	})

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 0 {
		t.Fatalf("expected no metric families, got %d", len(families))
	}
}

func TestCollectIncludesCounterAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: lockguard.MetricsSnapshot{
			Counters: map[lockguard.MetricID]uint64{
				lockguard.MetricAccountLocked: 7,
			},
			Histograms: map[lockguard.MetricID][]uint64{
				lockguard.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := scrape(t, c)
	for _, want := range []string{
		"lockguard_account_locked_total 7",
		"lockguard_login_success_total 0",
		`lockguard_authenticate_latency_seconds_bucket{le="0.005"} 1`,
		`lockguard_authenticate_latency_seconds_bucket{le="+Inf"} 36`,
		"lockguard_authenticate_latency_seconds_count 36",
		"lockguard_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestCollectorReadsLiveEngine(t *testing.T) {
	cfg := lockguard.DefaultConfig()
	cfg.Metrics.Enabled = true
	engine, err := lockguard.New().
		WithConfig(cfg).
		WithStore(nopStore{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	out := scrape(t, NewCollector(engine))
	if !strings.Contains(out, "lockguard_store_failure_total 0") {
		t.Fatalf("expected zero-valued counters from a live engine, got:\n%s", out)
	}
}

type nopStore struct{}

func (nopStore) FindOne(context.Context, lockguard.Field, string) (*lockguard.UserRecord, error) {
	return nil, lockguard.ErrRecordNotFound
}
func (nopStore) Create(_ context.Context, r *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	return r, nil
}
func (nopStore) Save(_ context.Context, r *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	return r, nil
}
func (nopStore) Delete(context.Context, *lockguard.UserRecord) error { return nil }
