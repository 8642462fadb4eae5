// Package observe holds the OpenTelemetry instruments of the stock ledger.
// Tests should build their own [Metrics] with [NewMetrics] and a private
// provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/rl1809/stock-ledger"

// Metrics holds the metric instruments. All fields are safe for concurrent use.
type Metrics struct {
	// Messages counts handled messages by attribute "outcome".
	Messages metric.Int64Counter

	// Clauses counts parsed clauses by attribute "valid" ("true"/"false").
	Clauses metric.Int64Counter

	// StoreRetries counts retried persistence calls by attribute "op".
	StoreRetries metric.Int64Counter

	// LotsSelfHealed counts lots recreated after an external delete.
	LotsSelfHealed metric.Int64Counter

	// ReconcileDuration tracks the latency of one reconciled update.
	ReconcileDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Messages, err = m.Int64Counter("stockledger.messages",
		metric.WithDescription("Handled messages by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Clauses, err = m.Int64Counter("stockledger.clauses",
		metric.WithDescription("Parsed clauses by validity."),
	); err != nil {
		return nil, err
	}
	if met.StoreRetries, err = m.Int64Counter("stockledger.store.retries",
		metric.WithDescription("Retried persistence calls by operation."),
	); err != nil {
		return nil, err
	}
	if met.LotsSelfHealed, err = m.Int64Counter("stockledger.lots.self_healed",
		metric.WithDescription("Lots recreated after they went missing."),
	); err != nil {
		return nil, err
	}
	if met.ReconcileDuration, err = m.Float64Histogram("stockledger.reconcile.duration",
		metric.WithDescription("Latency of reconciling one update."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance on the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: failed to create noop metrics: " + err.Error())
	}
	return m
}

func (m *Metrics) RecordMessage(ctx context.Context, outcome string) {
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordClauses(ctx context.Context, total, valid int) {
	if valid > 0 {
		m.Clauses.Add(ctx, int64(valid), metric.WithAttributes(attribute.Bool("valid", true)))
	}
	if invalid := total - valid; invalid > 0 {
		m.Clauses.Add(ctx, int64(invalid), metric.WithAttributes(attribute.Bool("valid", false)))
	}
}

func (m *Metrics) RecordStoreRetry(ctx context.Context, op string) {
	m.StoreRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) RecordSelfHeal(ctx context.Context) {
	m.LotsSelfHealed.Add(ctx, 1)
}

// ObserveReconcile records the time since start.
func (m *Metrics) ObserveReconcile(ctx context.Context, action string, start time.Time) {
	m.ReconcileDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("action", action)))
}
