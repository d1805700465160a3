// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on a ticker (default
// once per minute), with one final flush on Close. Interactive sessions
// get their tail flush at shutdown; long-lived services get a proper
// time series instead of a single spike at exit.
//
// Concurrency model:
//   - query goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits
//     out of lock
//   - the flush loop calls Flush periodically; Close stops the loop
package datadog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"filequery/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// ServiceName becomes tag "service:<name>" on every metric.
	// If empty, defaults to "filequery".
	ServiceName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams. Production code
	// never sets them; unit tests use them to avoid real network
	// submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics.
// The SDK exposes a concrete *datadogV2.MetricsApi; depending on this
// interface instead lets tests substitute a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api contextSubmitter

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	queryCount    float64
	errorCounts   map[string]float64 // error kind -> count
	rowsScanned   float64
	joinSkipped   float64
	sourceCounts  map[string]float64 // format -> registered sources
	queryDur      []float64
	registerDur   []float64
	exportCounts  map[string]float64 // backend kind -> exported rows
}

type contextSubmitter struct {
	ctx context.Context
	api metricsSubmitter
}

// NewBackend constructs a Datadog backend using the official client.
// Credentials come from the standard DD_API_KEY/DD_APP_KEY environment,
// resolved by the SDK's default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.ServiceName
	if service == "" {
		service = "filequery"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 1+len(opts.Tags))
	baseTags = append(baseTags, "service:"+service)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        contextSubmitter{ctx: dd.NewDefaultContext(parent), api: submitter},
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		errorCounts:  make(map[string]float64),
		sourceCounts: make(map[string]float64),
		exportCounts: make(map[string]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown metric names are
// ignored; the set of published metrics is an operational contract.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "query_total":
		b.queryCount += delta

	case "query_errors_total":
		kind := labels["kind"]
		if kind == "" {
			kind = "unknown"
		}
		b.errorCounts[kind] += delta

	case "rows_scanned_total":
		b.rowsScanned += delta

	case "join_rows_skipped_total":
		b.joinSkipped += delta

	case "sources_registered_total":
		format := labels["format"]
		if format == "" {
			format = "unknown"
		}
		b.sourceCounts[format] += delta

	case "rows_exported_total":
		kind := labels["backend"]
		if kind == "" {
			kind = "unknown"
		}
		b.exportCounts[kind] += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "query_duration_seconds":
		b.queryDur = append(b.queryDur, value)

	case "register_duration_seconds":
		b.registerDur = append(b.registerDur, value)
	}
}

// snapshot is the detached buffered state used to build one flush
// payload. Flush resets buffers under the lock and submits out of lock;
// snapshot keeps those two phases separate.
type snapshot struct {
	queryCount   float64
	errorCounts  map[string]float64
	rowsScanned  float64
	joinSkipped  float64
	sourceCounts map[string]float64
	queryDur     []float64
	registerDur  []float64
	exportCounts map[string]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		queryCount:   b.queryCount,
		errorCounts:  b.errorCounts,
		rowsScanned:  b.rowsScanned,
		joinSkipped:  b.joinSkipped,
		sourceCounts: b.sourceCounts,
		queryDur:     b.queryDur,
		registerDur:  b.registerDur,
		exportCounts: b.exportCounts,
	}

	b.queryCount = 0
	b.errorCounts = make(map[string]float64)
	b.rowsScanned = 0
	b.joinSkipped = 0
	b.sourceCounts = make(map[string]float64)
	b.queryDur = nil
	b.registerDur = nil
	b.exportCounts = make(map[string]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return s.queryCount == 0 &&
		len(s.errorCounts) == 0 &&
		s.rowsScanned == 0 &&
		s.joinSkipped == 0 &&
		len(s.sourceCounts) == 0 &&
		len(s.queryDur) == 0 &&
		len(s.registerDur) == 0 &&
		len(s.exportCounts) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
// Buffers reset even if submission fails, so a broken network never
// blocks query execution or grows memory without bound.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.api.SubmitMetrics(b.api.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs the Datadog series for a snapshot at a fixed
// timestamp. It is pure (no locks, network, or clocks), which keeps the
// naming and tagging contract unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 16)

	if s.queryCount != 0 {
		series = append(series, countSeries("filequery.query.total", s.queryCount, b.baseTags, nowUnix))
	}
	for kind, v := range s.errorCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, countSeries("filequery.query.errors", v, tags, nowUnix))
	}
	if s.rowsScanned != 0 {
		series = append(series, countSeries("filequery.rows.scanned", s.rowsScanned, b.baseTags, nowUnix))
	}
	if s.joinSkipped != 0 {
		series = append(series, countSeries("filequery.join.rows_skipped", s.joinSkipped, b.baseTags, nowUnix))
	}
	for format, v := range s.sourceCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "format:"+format)
		series = append(series, countSeries("filequery.sources.registered", v, tags, nowUnix))
	}
	for kind, v := range s.exportCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "backend:"+kind)
		series = append(series, countSeries("filequery.rows.exported", v, tags, nowUnix))
	}

	addPercentiles(&series, b.baseTags, "filequery.query.duration_seconds", s.queryDur, nowUnix)
	addPercentiles(&series, b.baseTags, "filequery.register.duration_seconds", s.registerDur, nowUnix)

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample
// set. Empty sample sets produce nothing; the input is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
