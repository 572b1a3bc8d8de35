package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	m := prom.Metrics
	for _, c := range []Counter{
		m.PositionsOpened, m.PositionsClosed, m.PositionsReconciled, m.EntryFailed, m.ExitFailed,
		m.Unwinds, m.CycleErrors, m.OrdersPlaced, m.OrdersFailed,
	} {
		c.Inc()
	}
	m.OrdersPlaced.Inc()

	if len(prom.counters) != 9 {
		t.Fatalf("expected 9 counters, got %d", len(prom.counters))
	}
	for name, counter := range prom.counters {
		want := 1.0
		if name == "orders_placed_total" {
			want = 2
		}
		if got := testutil.ToFloat64(counter); got != want {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OpenPositions.Set(2)
	prom.Metrics.Drawdown.Set(0.013)
	if got := testutil.ToFloat64(prom.gauges["open_positions"]); got != 2 {
		t.Fatalf("expected open_positions 2, got %v", got)
	}
	if got := testutil.ToFloat64(prom.gauges["drawdown"]); got != 0.013 {
		t.Fatalf("expected drawdown 0.013, got %v", got)
	}
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.PositionsOpened.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "funding_carry_bot_positions_opened_total 1") {
		t.Fatalf("expected namespaced counter in output:\n%s", body)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.PositionsOpened.Inc()
	m.Drawdown.Set(1)
}
