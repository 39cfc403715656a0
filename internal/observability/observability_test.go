package observability

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"segtag/internal/asset"
	"segtag/internal/session"
)

type fakeStats struct{ stats session.Stats }

func (f fakeStats) Stats() session.Stats { return f.stats }

func gathered(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[mf.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestMetricsExposeSessionStats(t *testing.T) {
	src := fakeStats{session.Stats{Labels: 3, Saves: 2, Outstanding: 1, Loader: asset.LoaderStats{Requested: 5, Applied: 4, Stale: 1}}}
	m := NewMetrics(src)
	m.ObserveHTTP("POST", "/v1/label", 200, time.Millisecond)
	m.Observe(context.Background(), "label", true, time.Millisecond)
	m.Observe(context.Background(), "label", false, time.Millisecond)
	m.Observe(context.Background(), "", true, time.Millisecond)

	got := gathered(t, m)
	want := map[string]float64{
		"segtag_labels_total":                3,
		"segtag_snapshot_saves_total":        2,
		"segtag_asset_handles_outstanding":   1,
		"segtag_asset_loads_stale_total":     1,
		"segtag_asset_loads_requested_total": 5,
		"segtag_http_requests_total":         1,
		"segtag_operations_total":            2,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s = %v want %v", name, got[name], v)
		}
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "segtag_labels_total 3") {
		t.Fatalf("handler output missing counter:\n%s", body)
	}
}

func TestExpvarRecorder(t *testing.T) {
	rec := NewExpvarRecorder("")
	rec.Observe(context.Background(), "export", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "export", false, time.Millisecond)
	if rec.Count("export", "success") != 1 || rec.Count("export", "error") != 1 {
		t.Fatalf("unexpected counts")
	}
	if rec.DurationMS("export") < 3 {
		t.Fatalf("durations not aggregated: %v", rec.DurationMS("export"))
	}
	if rec.Count("missing", "success") != 0 || rec.DurationMS("missing") != 0 {
		t.Fatalf("unknown operation should read as zero")
	}
	published := expvar.Get(rec.Name())
	if published == nil || !strings.Contains(published.String(), `"export": {`) {
		t.Fatalf("recorder not published: %v", published)
	}
}

func TestInstrumentTracksSpansAndRecorders(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf, 2)
	rec := NewExpvarRecorder("")
	in := Instrument{Tracer: tracer, Recorders: []Recorder{rec}}
	for i := 0; i < 3; i++ {
		_, done := in.Track(context.Background(), "label")
		var err error
		if i == 2 {
			err = errors.New("boom")
		}
		done(err)
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Fatalf("expected three json lines, got %q", buf.String())
	}
	if rec.Count("label", "success") != 2 || rec.Count("label", "error") != 1 {
		t.Fatalf("recorder not called")
	}
	_, done := Instrument{}.Track(context.Background(), "noop")
	done(nil)
}
