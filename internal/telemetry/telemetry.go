// Package telemetry wires OpenTelemetry metrics to a Prometheus exporter.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments recorded by the HTTP middleware.
type Metrics struct {
	Requests        metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram

	registry *prometheus.Registry
}

// PrometheusHandler returns the handler serving the /metrics endpoint.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitMetrics sets up a Prometheus-backed meter provider and the request
// instruments. The returned shutdown func flushes the provider.
func InitMetrics(serviceVersion string) (func(context.Context) error, *Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	if err := runtime.Start(runtime.WithMeterProvider(provider)); err != nil {
		return nil, nil, fmt.Errorf("start runtime instrumentation: %w", err)
	}

	meter := provider.Meter("searchstack", metric.WithInstrumentationVersion(serviceVersion))

	requests, err := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	if err != nil {
		return nil, nil, err
	}
	errorCount, err := meter.Int64Counter("http_request_errors_total",
		metric.WithDescription("Total number of HTTP requests that returned 4xx/5xx"))
	if err != nil {
		return nil, nil, err
	}
	duration, err := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))
	if err != nil {
		return nil, nil, err
	}

	m := &Metrics{
		Requests:        requests,
		ErrorCount:      errorCount,
		RequestDuration: duration,
		registry:        registry,
	}
	return provider.Shutdown, m, nil
}
