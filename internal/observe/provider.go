package observe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Provider is an SDK meter provider whose instruments are scraped through
// Handler.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider

	// Handler serves the Prometheus text format, usually on /metrics.
	Handler http.Handler
}

// InitProvider builds a Prometheus-backed meter provider on a private
// registry and registers it as the global provider, so [DefaultMetrics]
// picks it up when called afterwards.
func InitProvider(serviceName string) (*Provider, error) {
	if serviceName == "" {
		serviceName = "stock-ledger"
	}
	registry := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	return &Provider{
		MeterProvider: mp,
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}
