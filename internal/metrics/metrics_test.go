package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

type fakeStats struct {
	stats Stats
	err   error
}

func (f fakeStats) CollectStats(context.Context) (Stats, error) {
	return f.stats, f.err
}

func TestCollectorUpdatesGauges(t *testing.T) {
	c := NewCollector(fakeStats{stats: Stats{
		ByType:       map[string]int{"image": 7, "video": 2},
		Favorites:    3,
		WithWorkflow: 5,
	}}, time.Hour)

	c.collect()

	if got := gaugeValue(t, CatalogEntries.WithLabelValues("image")); got != 7 {
		t.Errorf("image entries = %v, want 7", got)
	}
	if got := gaugeValue(t, CatalogFavorites); got != 3 {
		t.Errorf("favorites = %v, want 3", got)
	}
	if got := gaugeValue(t, CatalogWithWorkflow); got != 5 {
		t.Errorf("with workflow = %v, want 5", got)
	}
}

func entryTypes(t *testing.T) map[string]float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	CatalogEntries.Collect(ch)
	close(ch)

	out := make(map[string]float64)
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			t.Fatalf("reading series: %v", err)
		}
		for _, l := range m.GetLabel() {
			if l.GetName() == "type" {
				out[l.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestCollectorDropsEmptiedTypes(t *testing.T) {
	tests := []struct {
		name   string
		byType map[string]int
		want   map[string]float64
	}{
		{"both types", map[string]int{"image": 4, "video": 1}, map[string]float64{"image": 4, "video": 1}},
		{"last video deleted", map[string]int{"image": 4}, map[string]float64{"image": 4}},
		{"catalog emptied", map[string]int{}, map[string]float64{}},
	}

	for _, tt := range tests {
		NewCollector(fakeStats{stats: Stats{ByType: tt.byType}}, time.Hour).collect()

		got := entryTypes(t)
		if len(got) != len(tt.want) {
			t.Errorf("%s: series = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for typ, v := range tt.want {
			if got[typ] != v {
				t.Errorf("%s: %s = %v, want %v", tt.name, typ, got[typ], v)
			}
		}
	}
}

func TestCollectorIgnoresErrors(t *testing.T) {
	CatalogFavorites.Set(11)
	c := NewCollector(fakeStats{err: errors.New("db closed")}, time.Hour)
	c.collect()

	if got := gaugeValue(t, CatalogFavorites); got != 11 {
		t.Errorf("favorites changed on error: %v", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(nil, 10*time.Millisecond)
	c.Start()
	time.Sleep(25 * time.Millisecond)
	c.Stop()
}

func TestInitializeMetrics(t *testing.T) {
	InitializeMetrics("test", "abc123", "go1.25")

	if got := gaugeValue(t, AppInfo.WithLabelValues("test", "abc123", "go1.25")); got != 1 {
		t.Errorf("app info = %v, want 1", got)
	}

	ch := make(chan prometheus.Metric, 32)
	SyncSessionsTotal.Collect(ch)
	close(ch)
	if n := len(ch); n < 6 {
		t.Errorf("expected pre-populated sync session series, got %d", n)
	}
}
