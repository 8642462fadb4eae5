package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observe"
)

func TestLedger_CreateThenIncrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := dec("2.5")

	first, err := f.ledger.CreateOrIncrementBatch(ctx, "shop-1", "Maggi", dec("10"), "packets", testNow, &price)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.ledger.CreateOrIncrementBatch(ctx, "shop-1", "Maggi", dec("4"), "packets", testNow.Add(3*time.Hour), &price)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected same lot, got %s and %s", first.ID, second.ID)
	}
	if !second.Quantity.Equal(dec("14")) {
		t.Errorf("expected 14, got %s", second.Quantity)
	}
	if !second.PurchaseValue.Equal(dec("35")) {
		t.Errorf("expected purchase value 35, got %s", second.PurchaseValue)
	}
}

func TestLedger_UpdateBatchQuantityClampsAtZero(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, "Soap", 3, "pieces", day(2024, 3, 1))

	got, err := f.ledger.UpdateBatchQuantity(context.Background(), lot.ID, dec("-10"), "pieces")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.Quantity.IsZero() {
		t.Errorf("expected 0, got %s", got.Quantity)
	}
}

func TestLedger_UpdateBatchQuantityConvertsUnits(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, "Rice", 5, "kg", day(2024, 3, 1))

	got, err := f.ledger.UpdateBatchQuantity(context.Background(), lot.ID, dec("-250"), "g")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.Quantity.Equal(dec("4.75")) || got.Unit != "kg" {
		t.Errorf("expected 4.75 kg, got %s %s", got.Quantity, got.Unit)
	}

	if _, err := f.ledger.UpdateBatchQuantity(context.Background(), lot.ID, dec("-1"), "l"); !errors.Is(err, domain.ErrIncompatibleUnits) {
		t.Errorf("expected ErrIncompatibleUnits, got %v", err)
	}
}

func TestLedger_UpdateBatchQuantityUnknownLot(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.UpdateBatchQuantity(context.Background(), "missing", dec("-1"), "pieces")
	if !errors.Is(err, domain.ErrLotNotFound) {
		t.Errorf("expected ErrLotNotFound, got %v", err)
	}
}

func TestLedger_SelfHealRecreatesMissingLot(t *testing.T) {
	f := newFixture(t)
	var slept time.Duration
	f.ledger.settle = 200 * time.Millisecond
	f.ledger.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	key := domain.CompositeKey("shop-1", "Tea", day(2024, 3, 2))

	got, err := f.ledger.UpdateBatchQuantityByCompositeKey(context.Background(), key, dec("5"), "packets")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.Quantity.Equal(dec("5")) || got.CompositeKey != key {
		t.Errorf("expected recreated lot with 5, got %+v", got)
	}
	if slept != 200*time.Millisecond {
		t.Errorf("expected settle delay before re-read, got %v", slept)
	}

	got, err = f.ledger.UpdateBatchQuantityByCompositeKey(context.Background(), key, dec("-8"), "packets")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.Quantity.IsZero() {
		t.Errorf("expected clamp to 0, got %s", got.Quantity)
	}
}

// vanishingBatches deletes a lot right after its first lookup by key.
type vanishingBatches struct {
	*storage.MemoryAdapter
	mu    sync.Mutex
	reads int
}

func (v *vanishingBatches) FindBatchByKey(ctx context.Context, key string) (*domain.BatchRecord, error) {
	b, err := v.MemoryAdapter.FindBatchByKey(ctx, key)
	if err != nil || b == nil {
		return b, err
	}
	v.mu.Lock()
	v.reads++
	first := v.reads == 1
	v.mu.Unlock()
	if first {
		if err := v.MemoryAdapter.DeleteBatch(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func TestLedger_SelfHealWhenLotVanishesBeforePatch(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, "Sugar", 7, "kg", day(2024, 3, 2))
	f.ledger.batches = &vanishingBatches{MemoryAdapter: f.repo}
	f.ledger.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	got, err := f.ledger.UpdateBatchQuantityByCompositeKey(context.Background(), lot.CompositeKey, dec("3"), "kg")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ID == lot.ID {
		t.Errorf("expected a recreated lot, got original id %s", got.ID)
	}
	if !got.Quantity.Equal(dec("3")) {
		t.Errorf("expected 3, got %s", got.Quantity)
	}

	lots := f.lots(t, "Sugar")
	if len(lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(lots))
	}
	if !lots[0].Quantity.Equal(dec("3")) || lots[0].CompositeKey != lot.CompositeKey {
		t.Errorf("expected stored lot with 3 under %s, got %+v", lot.CompositeKey, lots[0])
	}
}

func TestLedger_SelfHealRecordsMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t)
	f.ledger.metrics = metrics

	key := domain.CompositeKey("shop-1", "Tea", day(2024, 3, 2))
	if _, err := f.ledger.UpdateBatchQuantityByCompositeKey(context.Background(), key, dec("-1"), "packets"); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var healed int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "stockledger.lots.self_healed" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				healed += dp.Value
			}
		}
	}
	if healed != 1 {
		t.Errorf("expected 1 self-heal, got %d", healed)
	}
}

func TestLedger_InvalidCompositeKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.UpdateBatchQuantityByCompositeKey(context.Background(), "bogus", dec("1"), "pieces")
	if !errors.Is(err, domain.ErrInvalidCompositeKey) {
		t.Errorf("expected ErrInvalidCompositeKey, got %v", err)
	}
}

func TestLedger_ConsumeOldestReportsLeftover(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, "Eggs", 6, "pieces", day(2024, 3, 1))
	f.addLot(t, "Eggs", 6, "pieces", day(2024, 3, 2))

	touched, leftover, err := f.ledger.ConsumeOldest(context.Background(), "shop-1", "Eggs", dec("15"), "pieces")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(touched) != 2 {
		t.Errorf("expected 2 lots touched, got %d", len(touched))
	}
	if !leftover.Equal(dec("3")) {
		t.Errorf("expected leftover 3, got %s", leftover)
	}
}

func TestLedger_LinksLotToStockRow(t *testing.T) {
	f := newFixture(t)
	f.send(t, "2 soap purchased")

	lots := f.lots(t, "Soap")
	rec := f.stock(t, "Soap")
	if rec == nil {
		t.Fatal("expected a stock row")
	}
	if len(lots) != 1 || len(rec.BatchIDs) != 1 || rec.BatchIDs[0] != lots[0].ID {
		t.Errorf("expected stock row linked to lot, got %v / %+v", rec.BatchIDs, lots)
	}
	if lots[0].LinkedInventoryID != rec.ID {
		t.Errorf("expected lot linked to row %s, got %s", rec.ID, lots[0].LinkedInventoryID)
	}
}

func TestLedger_TodayUsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	f := newFixture(t)
	l := NewLedger(f.repo, f.repo, nil, nil, LedgerConfig{Location: loc})
	l.now = func() time.Time { return time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC) }

	if got := l.Today(); !got.Equal(day(2024, 3, 11)) {
		t.Errorf("expected 2024-03-11, got %v", got)
	}
}
