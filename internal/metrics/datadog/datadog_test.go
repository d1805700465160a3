package datadog

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"filequery/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// newTestBackend builds a backend with all seams stubbed: fake clock,
// manual ticker, fake submitter. The returned ticker channel is never
// fired; tests flush explicitly.
func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		ServiceName: "testsvc",
		FlushEvery:  time.Hour,
		now:         func() time.Time { return time.Unix(1700000000, 0) },
		newTicker: func(time.Duration) *time.Ticker {
			return &time.Ticker{C: make(chan time.Time)}
		},
		submitter: sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seriesByMetric(p datadogV2.MetricPayload) map[string]datadogV2.MetricSeries {
	out := make(map[string]datadogV2.MetricSeries, len(p.Series))
	for _, s := range p.Series {
		out[s.Metric] = s
	}
	return out
}

// TestFlushEmptyBuffersSubmitsNothing verifies an idle backend never
// produces network traffic.
func TestFlushEmptyBuffersSubmitsNothing(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sub.count(); got != 0 {
		t.Fatalf("empty flush submitted %d payloads, want 0", got)
	}
}

// TestCountersAggregateAcrossCalls verifies repeated increments collapse
// into one series point with the summed value.
func TestCountersAggregateAcrossCalls(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("query_total", 1, nil)
	b.IncCounter("query_total", 1, nil)
	b.IncCounter("rows_scanned_total", 500, nil)
	b.IncCounter("query_errors_total", 1, metrics.Labels{"kind": "UNRESOLVED_REFERENCE"})
	b.IncCounter("join_rows_skipped_total", 3, nil)
	b.IncCounter("sources_registered_total", 2, metrics.Labels{"format": "delimited"})
	b.IncCounter("rows_exported_total", 40, metrics.Labels{"backend": "sqlite"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	p, ok := sub.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}
	got := seriesByMetric(p)

	checks := map[string]float64{
		"filequery.query.total":        2,
		"filequery.rows.scanned":       500,
		"filequery.query.errors":       1,
		"filequery.join.rows_skipped":  3,
		"filequery.sources.registered": 2,
		"filequery.rows.exported":      40,
	}
	for metric, want := range checks {
		s, ok := got[metric]
		if !ok {
			t.Fatalf("metric %s missing from payload", metric)
		}
		if v := *s.Points[0].Value; v != want {
			t.Errorf("%s = %v, want %v", metric, v, want)
		}
	}

	errSeries := got["filequery.query.errors"]
	if !hasTag(errSeries.Tags, "kind:UNRESOLVED_REFERENCE") {
		t.Errorf("error series tags = %v, want kind tag", errSeries.Tags)
	}
	if !hasTag(errSeries.Tags, "service:testsvc") {
		t.Errorf("error series tags = %v, want service tag", errSeries.Tags)
	}
	if expSeries := got["filequery.rows.exported"]; !hasTag(expSeries.Tags, "backend:sqlite") {
		t.Errorf("export series tags = %v, want backend tag", expSeries.Tags)
	}
}

// TestNegativeAndZeroObservationsIgnored verifies counter deltas <= 0
// and negative histogram samples are dropped.
func TestNegativeAndZeroObservationsIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("query_total", 0, nil)
	b.IncCounter("query_total", -5, nil)
	b.ObserveHistogram("query_duration_seconds", -1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sub.count(); got != 0 {
		t.Fatalf("flush submitted %d payloads, want 0", got)
	}
}

// TestHistogramPercentiles verifies duration samples publish the fixed
// percentile gauge set.
func TestHistogramPercentiles(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		b.ObserveHistogram("query_duration_seconds", v, nil)
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	p, ok := sub.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}
	got := seriesByMetric(p)

	for _, suffix := range []string{".p50", ".p90", ".p95", ".p99", ".max", ".samples"} {
		if _, ok := got["filequery.query.duration_seconds"+suffix]; !ok {
			t.Errorf("missing percentile series %s", suffix)
		}
	}
	if v := *got["filequery.query.duration_seconds.max"].Points[0].Value; v != 0.5 {
		t.Errorf("max = %v, want 0.5", v)
	}
	if v := *got["filequery.query.duration_seconds.samples"].Points[0].Value; v != 5 {
		t.Errorf("samples = %v, want 5", v)
	}
}

// TestFlushResetsBuffers verifies a second flush after activity submits
// nothing, so points are never double-counted.
func TestFlushResetsBuffers(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("query_total", 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if got := sub.count(); got != 1 {
		t.Fatalf("got %d payloads, want 1", got)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 6},
		{0.9, 9},
		{1, 10},
	}
	for _, tc := range tests {
		if got := percentileNearestRank(s, tc.p); got != tc.want {
			t.Errorf("percentileNearestRank(p=%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Errorf("empty input = %v, want 0", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "env:prod", want: []string{"env:prod"}},
		{name: "spaces_trimmed", in: " env:prod , team:data ", want: []string{"env:prod", "team:data"}},
		{name: "empty_items_dropped", in: "env:prod,,", want: []string{"env:prod"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTagsCSV(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("ParseTagsCSV(%q) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("ParseTagsCSV(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
