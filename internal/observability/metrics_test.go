package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveFrameRecordsTierAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewFrameCollector(reg)
	if err != nil {
		t.Fatalf("NewFrameCollector: %v", err)
	}

	collector.ObserveFrame(RefreshFull, 3*time.Millisecond)
	collector.ObserveFrame(RefreshPositional, time.Millisecond)
	collector.ObserveFrame(RefreshPositional, time.Millisecond)

	if got := testutil.ToFloat64(collector.Frames.WithLabelValues(RefreshFull)); got != 1 {
		t.Fatalf("router_frames_total{refresh=full} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Frames.WithLabelValues(RefreshPositional)); got != 2 {
		t.Fatalf("router_frames_total{refresh=positional} = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "router_frame_duration_seconds", nil); count != 3 {
		t.Fatalf("router_frame_duration_seconds sample_count = %d, want 3", count)
	}
}

func TestObserveISLsAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewFrameCollector(reg)
	if err != nil {
		t.Fatalf("NewFrameCollector: %v", err)
	}

	collector.ObserveISLs(48, 48, 0)
	collector.ObserveISLs(46, 0, 2)
	collector.ObserveRoute(true)
	collector.ObserveRoute(false)
	collector.SetLockedLinks(7)

	if got := testutil.ToFloat64(collector.ActiveISLs); got != 46 {
		t.Fatalf("router_active_isls = %v, want 46", got)
	}
	if got := testutil.ToFloat64(collector.ISLFormed); got != 48 {
		t.Fatalf("router_isl_formed_total = %v, want 48", got)
	}
	if got := testutil.ToFloat64(collector.ISLDropped); got != 2 {
		t.Fatalf("router_isl_dropped_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.RouteQueries.WithLabelValues("unreachable")); got != 1 {
		t.Fatalf("router_route_queries_total{outcome=unreachable} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.LockedLinks); got != 7 {
		t.Fatalf("router_locked_links = %v, want 7", got)
	}
}

func TestNewFrameCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewFrameCollector(reg)
	if err != nil {
		t.Fatalf("NewFrameCollector: %v", err)
	}
	second, err := NewFrameCollector(reg)
	if err != nil {
		t.Fatalf("second NewFrameCollector: %v", err)
	}

	first.ObserveRoute(true)
	if got := testutil.ToFloat64(second.RouteQueries.WithLabelValues("reachable")); got != 1 {
		t.Fatalf("shared router_route_queries_total = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *FrameCollector
	c.ObserveFrame(RefreshFull, time.Second)
	c.ObserveRoute(true)
	c.ObserveISLs(1, 1, 1)
	c.SetGraphSize(1, 1)
	c.SetLockedLinks(1)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewFrameCollector(reg)
	if err != nil {
		t.Fatalf("NewFrameCollector: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.Middleware)
	r.Get("/api/frames/{frame}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/api/frames/1", "/api/frames/2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues(http.MethodGet, "/api/frames/{frame}", "404")); got != 2 {
		t.Fatalf("router_http_requests_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "router_http_request_duration_seconds", map[string]string{
		"route": "/api/frames/{frame}",
	}); count != 2 {
		t.Fatalf("router_http_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesGraphGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewFrameCollector(reg)
	if err != nil {
		t.Fatalf("NewFrameCollector: %v", err)
	}
	collector.SetGraphSize(1586, 3172)
	collector.ObserveFrame(RefreshFull, time.Millisecond)

	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"router_graph_nodes 1586",
		"router_graph_links 3172",
		`router_frames_total{refresh="full"} 1`,
		"router_frame_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
