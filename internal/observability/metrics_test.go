package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("start", 500)
	w.Observe("start", 900)
	w.Observe("start", 700)
	w.Observe("reminder", 9000)
	w.ObserveStale("reminder")
	w.ObserveStale("reminder")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Kinds) != 2 {
		t.Fatalf("len(Kinds) = %d, want 2", len(snap.Kinds))
	}
	rem, start := snap.Kinds[0], snap.Kinds[1]
	if start.Kind != "start" || start.Samples != 3 {
		t.Fatalf("start stats = %+v", start)
	}
	if start.LastMS != 700 {
		t.Fatalf("LastMS = %.0f, want 700", start.LastMS)
	}
	if start.P50MS != 700 || start.P95MS != 900 || start.AvgMS != 700 {
		t.Fatalf("start percentiles = %+v, want p50 700 p95 900 avg 700", start)
	}
	if start.TargetP95MS != 4000 || start.OverTarget {
		t.Fatalf("start target = %+v", start)
	}
	if rem.Kind != "reminder" || !rem.OverTarget {
		t.Fatalf("reminder stats = %+v, want over its 8000ms target", rem)
	}
	if len(snap.StaleFires) != 1 || snap.StaleFires[0] != (StaleCount{Kind: "reminder", Count: 2}) {
		t.Fatalf("StaleFires = %+v, want reminder x2", snap.StaleFires)
	}
}

func TestLatencyWindowKeepsMostRecent(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("reminder", 10)
	w.Observe("reminder", 20)
	w.Observe("reminder", 30)

	s := w.Snapshot().Kinds[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25 (oldest sample evicted)", s.AvgMS)
	}
}

func TestMetricsRecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith("cheerup_test", reg)

	m.SetActiveTasks(3)
	m.IncTaskEvent("task_created")
	m.ObserveNotification("start", "sent")
	m.IncStaleFire("reminder")
	m.ObserveGenerationLatency("start", 1200*time.Millisecond)

	if got := testutil.ToFloat64(m.ActiveTasks); got != 3 {
		t.Fatalf("active_tasks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.StaleFires.WithLabelValues("reminder")); got != 1 {
		t.Fatalf("stale fires = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.GenerationLatency, "cheerup_test_generation_latency_ms"); got != 1 {
		t.Fatalf("generation latency series = %d, want 1", got)
	}

	rec := httptest.NewRecorder()
	MetricsHandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cheerup_test_notifications_total") {
		t.Fatalf("metrics output missing notifications counter")
	}
	if !strings.Contains(string(body), `cheerup_test_generation_latency_ms_count{kind="start"} 1`) {
		t.Fatalf("metrics output missing per-kind generation latency")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetActiveTasks(1)
	m.IncTaskEvent("x")
	m.ObserveNotification("start", "sent")
	m.IncStaleFire("terminal")
	m.ObserveGenerationLatency("start", time.Second)
	if snap := m.LatencySnapshot(); len(snap.Kinds) != 0 {
		t.Fatalf("nil metrics snapshot = %+v, want empty", snap)
	}
}
