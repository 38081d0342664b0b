// Package telemetry exposes stimulus and render counters through an
// OpenTelemetry meter provider scraped by Prometheus.
package telemetry

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "github.com/satindergrewal/tinnitone"

// Setup installs the global meter provider and returns its shutdown func and
// the /metrics handler. If the exporter cannot be created, metrics stay
// in-process and the handler is nil.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, http.Handler, error) {
	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Prometheus exporter unavailable: %v", err)
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		otel.SetMeterProvider(provider)
		return provider.Shutdown, nil, nil
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, promhttp.Handler(), nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
}

// Collector is a private meter provider read back on demand, for processes
// with no scrape endpoint such as batch runs.
type Collector struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// NewCollector creates a collector for serviceName.
func NewCollector(ctx context.Context, serviceName string) (*Collector, error) {
	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewManualReader()
	return &Collector{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
	}, nil
}

// Metrics returns instruments recording into the collector.
func (c *Collector) Metrics() *Metrics {
	return NewWithMeter(c.provider.Meter(meterName))
}

// Totals collects every instrument. Counters are keyed by name, with
// attributes appended as name{k=v}; histograms report name.count and
// name.sum.
func (c *Collector) Totals(ctx context.Context) (map[string]float64, error) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	totals := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					totals[seriesName(md.Name, dp.Attributes)] += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					totals[seriesName(md.Name, dp.Attributes)] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					totals[md.Name+".count"] += float64(dp.Count)
					totals[md.Name+".sum"] += dp.Sum
				}
			}
		}
	}
	return totals, nil
}

// Shutdown releases the provider.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}

func seriesName(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	return name + "{" + attrs.Encoded(attribute.DefaultEncoder()) + "}"
}

// Metrics holds the instruments. A nil *Metrics records nothing.
type Metrics struct {
	chunksScheduled metric.Int64Counter
	chunksCancelled metric.Int64Counter
	chunksRendered  metric.Int64Counter
	batchItems      metric.Int64Counter
	renderSeconds   metric.Float64Histogram
}

// New creates instruments from the global meter provider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates instruments from meter.
func NewWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}
	m.chunksScheduled, _ = meter.Int64Counter("tinnitone.live.chunks_scheduled",
		metric.WithDescription("Harmonic-complex chunks queued on the live graph"))
	m.chunksCancelled, _ = meter.Int64Counter("tinnitone.live.chunks_cancelled",
		metric.WithDescription("In-flight chunks silenced by a stop"))
	m.chunksRendered, _ = meter.Int64Counter("tinnitone.offline.chunks_rendered",
		metric.WithDescription("Chunks accumulated by the offline renderer"))
	m.batchItems, _ = meter.Int64Counter("tinnitone.batch.items",
		metric.WithDescription("Batch catalog items by outcome"))
	m.renderSeconds, _ = meter.Float64Histogram("tinnitone.offline.render_seconds",
		metric.WithDescription("Wall time of complete offline renders"),
		metric.WithUnit("s"))
	return m
}

func (m *Metrics) ChunkScheduled(ctx context.Context) {
	if m == nil || m.chunksScheduled == nil {
		return
	}
	m.chunksScheduled.Add(ctx, 1)
}

func (m *Metrics) ChunksCancelled(ctx context.Context, n int) {
	if m == nil || m.chunksCancelled == nil || n == 0 {
		return
	}
	m.chunksCancelled.Add(ctx, int64(n))
}

func (m *Metrics) ChunkRendered(ctx context.Context) {
	if m == nil || m.chunksRendered == nil {
		return
	}
	m.chunksRendered.Add(ctx, 1)
}

// BatchItem counts one catalog item; status is generated, skipped or failed.
func (m *Metrics) BatchItem(ctx context.Context, status string) {
	if m == nil || m.batchItems == nil {
		return
	}
	m.batchItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RenderCompleted(ctx context.Context, seconds float64) {
	if m == nil || m.renderSeconds == nil {
		return
	}
	m.renderSeconds.Record(ctx, seconds)
}
