package datadog

import (
	"context"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"warehouse/internal/metrics"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, nil
}

func (f *fakeSubmitter) series() []datadogV2.MetricSeries {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []datadogV2.MetricSeries
	for _, p := range f.payloads {
		out = append(out, p.Series...)
	}
	return out
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "warehouse_test",
		FlushEvery: time.Hour, // tests flush explicitly
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func TestBackendCountersAccumulate(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("warehouse_rows_inserted_total", 3, metrics.Labels{"table": "users"})
	b.IncCounter("warehouse_rows_inserted_total", 4, metrics.Labels{"table": "users"})
	b.IncCounter("warehouse_rows_inserted_total", 1, metrics.Labels{"table": "songs"})

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	series := sub.series()
	if len(series) != 2 {
		t.Fatalf("got %d series, want 2: %+v", len(series), series)
	}
	byTag := map[string]float64{}
	for _, s := range series {
		if s.Metric != "warehouse.rows.inserted.total" {
			t.Errorf("metric name = %s, want dotted form", s.Metric)
		}
		for _, tag := range s.Tags {
			if strings.HasPrefix(tag, "table:") {
				byTag[tag] = *s.Points[0].Value
			}
		}
	}
	if byTag["table:users"] != 7 || byTag["table:songs"] != 1 {
		t.Errorf("series values = %v, want users=7 songs=1", byTag)
	}
}

func TestBackendBaseTags(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("x_total", 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	series := sub.series()
	if len(series) != 1 {
		t.Fatalf("got %d series, want 1", len(series))
	}
	var hasJob, hasEnv bool
	for _, tag := range series[0].Tags {
		if tag == "job:warehouse_test" {
			hasJob = true
		}
		if strings.HasPrefix(tag, "env:") {
			hasEnv = true
		}
	}
	if !hasJob || !hasEnv {
		t.Errorf("tags = %v, want job and env tags", series[0].Tags)
	}
}

func TestBackendHistogramPercentiles(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	for i := 1; i <= 100; i++ {
		b.ObserveHistogram("warehouse_load_seconds", float64(i), nil)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := map[string]float64{}
	for _, s := range sub.series() {
		got[s.Metric] = *s.Points[0].Value
	}
	if got["warehouse.load.seconds.max"] != 100 {
		t.Errorf("max = %v, want 100", got["warehouse.load.seconds.max"])
	}
	if got["warehouse.load.seconds.samples"] != 100 {
		t.Errorf("samples = %v, want 100", got["warehouse.load.seconds.samples"])
	}
	if p50 := got["warehouse.load.seconds.p50"]; p50 < 49 || p50 > 52 {
		t.Errorf("p50 = %v, want ~50", p50)
	}
	if p99 := got["warehouse.load.seconds.p99"]; p99 < 98 || p99 > 100 {
		t.Errorf("p99 = %v, want ~99", p99)
	}
}

func TestFlushEmptySubmitsNothing(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(sub.payloads) != 0 {
		t.Errorf("empty backend submitted %d payloads", len(sub.payloads))
	}
}

func TestSeriesKeyStableAcrossLabelOrder(t *testing.T) {
	t.Parallel()

	a := seriesKey("m", metrics.Labels{"x": "1", "y": "2"})
	c := seriesKey("m", metrics.Labels{"y": "2", "x": "1"})
	if a != c {
		t.Errorf("seriesKey not order independent: %q vs %q", a, c)
	}

	name, tags := splitSeriesKey(a)
	sort.Strings(tags)
	if name != "m" || !reflect.DeepEqual(tags, []string{"x:1", "y:2"}) {
		t.Errorf("splitSeriesKey = %q %v", name, tags)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4, 5}
	if got := percentileNearestRank(s, 0.5); got != 3 {
		t.Errorf("p50 = %v, want 3", got)
	}
	if got := percentileNearestRank(s, 1.5); got != 5 {
		t.Errorf("p>1 = %v, want last", got)
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	got := ParseTagsCSV(" env:prod , service:warehouse ,, ")
	want := []string{"env:prod", "service:warehouse"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseTagsCSV = %v, want %v", got, want)
	}
	if ParseTagsCSV("") != nil {
		t.Error("empty input should return nil")
	}
}
