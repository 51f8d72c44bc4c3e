package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all framework metrics covering the golden 4 signals:
// - Latency: How long job runs take
// - Traffic: Run/log-entry throughput
// - Errors: Rate of errored runs and failed persistence writes
// - Saturation: Active runs and detached write queue depth
type Metrics struct {
	meter metric.Meter

	// Run metrics (Latency, Traffic, Errors, Saturation)
	RunDuration metric.Float64Histogram
	RunsTotal   metric.Int64Counter
	RunErrors   metric.Int64Counter
	RunsActive  metric.Int64UpDownCounter

	// Detached writer metrics (Traffic, Errors, Saturation)
	WritesApplied   metric.Int64Counter
	WritesFailed    metric.Int64Counter
	WritesDropped   metric.Int64Counter
	WriteQueueDepth metric.Int64Gauge

	// Log persistence (Traffic)
	LogEntriesTotal metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("jobtrack")
	m := &Metrics{meter: meter}

	// Run metrics
	m.RunDuration, err = meter.Float64Histogram(
		"job_run_duration_seconds",
		metric.WithDescription("Job run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsTotal, err = meter.Int64Counter(
		"job_runs_total",
		metric.WithDescription("Total number of job runs started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunErrors, err = meter.Int64Counter(
		"job_run_errors_total",
		metric.WithDescription("Total number of job runs that ended in error"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsActive, err = meter.Int64UpDownCounter(
		"job_runs_active",
		metric.WithDescription("Number of currently running jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Writer metrics
	m.WritesApplied, err = meter.Int64Counter(
		"job_writes_applied_total",
		metric.WithDescription("Total persistence writes applied by the detached writer"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WritesFailed, err = meter.Int64Counter(
		"job_writes_failed_total",
		metric.WithDescription("Total persistence writes abandoned after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WritesDropped, err = meter.Int64Counter(
		"job_writes_dropped_total",
		metric.WithDescription("Total persistence writes dropped (queue full or breaker open)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WriteQueueDepth, err = meter.Int64Gauge(
		"job_write_queue_depth",
		metric.WithDescription("Current number of writes queued per runner (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LogEntriesTotal, err = meter.Int64Counter(
		"job_log_entries_total",
		metric.WithDescription("Total durable job log entries persisted"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordRunStarted records a job run starting.
func (m *Metrics) RecordRunStarted(ctx context.Context, name string) {
	attrs := metric.WithAttributes(nameAttr(name))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunsActive.Add(ctx, 1, attrs)
}

// RecordRunCompleted records a job run reaching a terminal status.
func (m *Metrics) RecordRunCompleted(ctx context.Context, name string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(nameAttr(name), successAttr(success))
	m.RunDuration.Record(ctx, durationSeconds, attrs)
	m.RunsActive.Add(ctx, -1, metric.WithAttributes(nameAttr(name)))

	if !success {
		m.RunErrors.Add(ctx, 1, attrs)
	}
}

// RecordWriteApplied records a persistence write applied by the writer.
func (m *Metrics) RecordWriteApplied(ctx context.Context) {
	m.WritesApplied.Add(ctx, 1)
}

// RecordWriteFailed records a persistence write abandoned after retries.
func (m *Metrics) RecordWriteFailed(ctx context.Context) {
	m.WritesFailed.Add(ctx, 1)
}

// RecordWriteDropped records a persistence write dropped before attempting.
func (m *Metrics) RecordWriteDropped(ctx context.Context) {
	m.WritesDropped.Add(ctx, 1)
}

// RecordWriteQueueDepth records the current write queue depth.
func (m *Metrics) RecordWriteQueueDepth(ctx context.Context, depth int64) {
	m.WriteQueueDepth.Record(ctx, depth)
}

// RecordLogEntry records a durable log entry being persisted.
func (m *Metrics) RecordLogEntry(ctx context.Context, name string) {
	m.LogEntriesTotal.Add(ctx, 1, metric.WithAttributes(nameAttr(name)))
}
