package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessage(ctx, "updates_applied")
	m.RecordMessage(ctx, "updates_applied")
	m.RecordMessage(ctx, "no_valid_updates")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "stockledger.messages", "outcome", "updates_applied"); got != 2 {
		t.Errorf("updates_applied = %d, want 2", got)
	}
}

func TestRecordClauses(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordClauses(context.Background(), 5, 3)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "stockledger.clauses", "valid", "true"); got != 3 {
		t.Errorf("valid = %d, want 3", got)
	}
	if got := sumWhere(t, rm, "stockledger.clauses", "valid", "false"); got != 2 {
		t.Errorf("invalid = %d, want 2", got)
	}
}

func TestStoreAndSelfHealCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStoreRetry(ctx, "patch_batch")
	m.RecordSelfHeal(ctx)
	m.RecordSelfHeal(ctx)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "stockledger.store.retries", "op", "patch_batch"); got != 1 {
		t.Errorf("retries = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "stockledger.lots.self_healed", "", ""); got != 2 {
		t.Errorf("self healed = %d, want 2", got)
	}
}

func TestObserveReconcile(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ObserveReconcile(context.Background(), "sold", time.Now().Add(-10*time.Millisecond))

	rm := collect(t, reader)
	met := findMetric(rm, "stockledger.reconcile.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one sample, got %+v", hist.DataPoints)
	}
}
