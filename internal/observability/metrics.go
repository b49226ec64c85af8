package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName is the instrumentation scope of every compass instrument.
const MeterName = "compass"

var selectionBuckets = []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5}

// Metrics tracks classification, selection, and cache health. A nil *Metrics
// is a valid no-op recorder.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	gatherer promclient.Gatherer

	classifications metric.Int64Counter
	selections      metric.Float64Histogram
	failures        metric.Int64Counter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cacheEvictions  metric.Int64Counter
	cacheResident   metric.Int64Gauge
}

// NewMetrics exports the compass instruments, plus Go runtime and process
// collectors, on a fresh Prometheus registry.
func NewMetrics() (*Metrics, error) {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(reg)
}

// NewMetricsWithRegistry exports only the compass instruments on reg.
func NewMetricsWithRegistry(reg *promclient.Registry) (*Metrics, error) {
	if reg == nil {
		reg = promclient.NewRegistry()
	}
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(MeterName)

	m := &Metrics{provider: provider, gatherer: reg}
	if m.classifications, err = meter.Int64Counter(
		"compass.classifier.classifications",
		metric.WithDescription("Classifications by deciding method and resulting context"),
		metric.WithUnit("{classification}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create classifications counter: %w", err)
	}
	if m.selections, err = meter.Float64Histogram(
		"compass.selection.duration",
		metric.WithDescription("Wall-clock time to build a selection, by context"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(selectionBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create selection histogram: %w", err)
	}
	if m.failures, err = meter.Int64Counter(
		"compass.selection.failures",
		metric.WithDescription("Selections aborted by a directive failure, by error kind"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter(
		"compass.cache.hits",
		metric.WithDescription("Directive lookups served from the cache"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter(
		"compass.cache.misses",
		metric.WithDescription("Directive lookups that went to the repository"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}
	if m.cacheEvictions, err = meter.Int64Counter(
		"compass.cache.evictions",
		metric.WithDescription("Entries evicted to stay under the byte ceiling"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache evictions counter: %w", err)
	}
	if m.cacheResident, err = meter.Int64Gauge(
		"compass.cache.resident",
		metric.WithDescription("Bytes of directive content currently cached"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache resident gauge: %w", err)
	}
	return m, nil
}

// RecordClassification counts one classifier decision.
func (m *Metrics) RecordClassification(method, context string) {
	if m == nil {
		return
	}
	m.classifications.Add(bg(), 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("context", context),
	))
}

// RecordSelection observes the duration of a completed selection.
func (m *Metrics) RecordSelection(context string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.selections.Record(bg(), elapsed.Seconds(), metric.WithAttributes(attribute.String("context", context)))
}

// RecordFailure counts an aborted selection.
func (m *Metrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.Add(bg(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Add(bg(), 1)
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Add(bg(), 1)
}

func (m *Metrics) CacheEvicted(count int) {
	if m == nil {
		return
	}
	m.cacheEvictions.Add(bg(), int64(count))
}

func (m *Metrics) CacheResident(bytes int64) {
	if m == nil {
		return
	}
	m.cacheResident.Record(bg(), bytes)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Instruments are recorded outside any request span.
func bg() context.Context { return context.Background() }
