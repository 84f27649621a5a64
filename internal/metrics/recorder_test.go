package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func gatheredValue(t *testing.T, reg *prom.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)
	r.ObserveDispatch("refresh", false, 200*time.Millisecond)
	r.ObserveDispatch("refresh", true, time.Second)
	r.ObserveDispatch("none", false, time.Millisecond)
	r.IncFileChange("recorded")
	r.IncFileChange("debounced")
	r.IncFileChange("recorded")
	r.SetPendingChanges(3)
	r.IncWatcherExit("gave_up")

	if got := gatheredValue(t, reg, "buildd_dispatches_total", map[string]string{"decision": "refresh", "result": "failed"}); got != 1 {
		t.Fatalf("expected 1 failed refresh, got %v", got)
	}
	if got := gatheredValue(t, reg, "buildd_file_changes_total", map[string]string{"outcome": "recorded"}); got != 2 {
		t.Fatalf("expected 2 recorded changes, got %v", got)
	}
	if got := gatheredValue(t, reg, "buildd_pending_changes", nil); got != 3 {
		t.Fatalf("expected pending gauge 3, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveDispatch("refresh", false, time.Second)
	r.IncFileChange("recorded")
	r.SetPendingChanges(1)
	r.IncWatcherExit("panic")
	r.RegisterRuntimeCollectors()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil recorder handler, got %d", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder(nil)
	r.ObserveDispatch("reconfigure", false, time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `buildd_dispatches_total{decision="reconfigure",result="success"} 1`) {
		t.Fatalf("metrics output missing dispatch counter:\n%s", body)
	}
}
