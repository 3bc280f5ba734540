// Package metrics exposes Prometheus collectors for a snapshot run.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder owns a private registry so each run reports only its own series.
// It satisfies the fetcher, buffer and pipeline observer interfaces.
type Recorder struct {
	registry *prometheus.Registry

	queued         prometheus.Counter
	parsed         prometheus.Counter
	pages          prometheus.Counter
	detailFailures prometheus.Counter
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	retries        prometheus.Counter
	flushRows      prometheus.Counter
	flushBatches   prometheus.Counter
	lastFlush      prometheus.Gauge
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_entities_queued_total",
			Help: "Entities discovered on listing pages and scheduled for detail fetch.",
		}),
		parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_records_parsed_total",
			Help: "Snapshot records built from detail pages.",
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_listing_pages_total",
			Help: "Listing pages traversed.",
		}),
		detailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_detail_failures_total",
			Help: "Detail pages skipped after fetch failure.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_fetch_attempts_total",
			Help: "HTTP fetch attempts, labeled by status class.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapshot_fetch_duration_seconds",
			Help:    "Histogram of fetch attempt latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_fetch_retries_total",
			Help: "Fetch attempts repeated after a retryable failure.",
		}),
		flushRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_flushed_rows_total",
			Help: "Rows committed to the snapshot store.",
		}),
		flushBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_flush_batches_total",
			Help: "Batches committed to the snapshot store.",
		}),
		lastFlush: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapshot_last_flush_timestamp_seconds",
			Help: "Unix time of the most recent successful flush.",
		}),
	}
	r.registry.MustRegister(
		r.queued, r.parsed, r.pages, r.detailFailures,
		r.fetches, r.fetchDuration, r.retries,
		r.flushRows, r.flushBatches, r.lastFlush,
	)
	return r
}

// Registry exposes the underlying registry for tests and exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveFetch records one fetch attempt.
func (r *Recorder) ObserveFetch(status int, err error, dur time.Duration) {
	r.fetches.WithLabelValues(StatusClass(status, err)).Inc()
	r.fetchDuration.Observe(dur.Seconds())
}

// ObserveRetry counts a retried attempt.
func (r *Recorder) ObserveRetry() { r.retries.Inc() }

// ObserveFlush records a committed batch.
func (r *Recorder) ObserveFlush(rows int) {
	r.flushRows.Add(float64(rows))
	r.flushBatches.Inc()
	r.lastFlush.SetToCurrentTime()
}

// ObserveQueued adds n discovered entities.
func (r *Recorder) ObserveQueued(n int) { r.queued.Add(float64(n)) }

// ObserveParsed counts one built record.
func (r *Recorder) ObserveParsed() { r.parsed.Inc() }

// ObservePage counts one traversed listing page.
func (r *Recorder) ObservePage() { r.pages.Inc() }

// ObserveDetailFailure counts one skipped detail page.
func (r *Recorder) ObserveDetailFailure() { r.detailFailures.Inc() }

// StatusClass maps an HTTP status to a low-cardinality label.
func StatusClass(status int, err error) string {
	switch {
	case status >= 100 && status < 600:
		return strconv.Itoa(status/100) + "xx"
	case err != nil:
		return "error"
	default:
		return "unknown"
	}
}

// Push sends the registry to a Prometheus Pushgateway under job.
// A run is a batch job, so there is no scrape endpoint to serve.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job, runID string) error {
	pusher := push.New(gatewayURL, job).Gatherer(r.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

// WriteTextfile writes the registry in text exposition format, suitable for
// the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
