package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/units"
	"github.com/rl1809/stock-ledger/internal/observe"
	"github.com/rl1809/stock-ledger/internal/port"
)

// LedgerConfig configures a [Ledger].
type LedgerConfig struct {
	// SelfHealSettle is the pause between recreating a missing lot and
	// re-reading it, giving an eventually consistent store time to settle.
	SelfHealSettle time.Duration

	// Location decides which calendar day "today" is.
	Location *time.Location
}

// Ledger keeps dated purchase lots. Mutations of one lot serialize on its
// composite key.
type Ledger struct {
	batches   port.BatchRepository
	inventory port.InventoryRepository
	locker    port.KeyLocker
	metrics   *observe.Metrics
	settle    time.Duration
	loc       *time.Location
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

func NewLedger(batches port.BatchRepository, inventory port.InventoryRepository, locker port.KeyLocker, metrics *observe.Metrics, cfg LedgerConfig) *Ledger {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Ledger{
		batches:   batches,
		inventory: inventory,
		locker:    locker,
		metrics:   metrics,
		settle:    cfg.SelfHealSettle,
		loc:       loc,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lotLockKey(compositeKey string) string {
	return "lot:" + compositeKey
}

// civilDate is the calendar day of t as a UTC midnight.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is the current calendar day in the ledger's location.
func (l *Ledger) Today() time.Time {
	return civilDate(l.now().In(l.loc))
}

// CreateOrIncrementBatch adds qty to the lot of (shopID, product, day),
// creating it when absent. A stated per-unit price adds price*qty to the
// lot's purchase value.
func (l *Ledger) CreateOrIncrementBatch(ctx context.Context, shopID, product string, qty decimal.Decimal, unit string, day time.Time, price *decimal.Decimal) (*domain.BatchRecord, error) {
	day = civilDate(day)
	key := domain.CompositeKey(shopID, product, day)

	unlock, err := l.locker.Lock(ctx, lotLockKey(key))
	if err != nil {
		return nil, fmt.Errorf("lock lot: %w", err)
	}
	defer unlock()

	existing, err := l.batches.FindBatchByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if existing != nil {
		return l.increment(ctx, existing, qty, unit, price)
	}

	now := l.now()
	b := domain.BatchRecord{
		ID:            uuid.NewString(),
		ShopID:        shopID,
		Product:       product,
		Quantity:      qty.Round(units.Scale),
		Unit:          units.Canonical(unit),
		PurchaseDate:  day,
		PurchasePrice: price,
		PurchaseValue: decimal.Zero,
		CompositeKey:  key,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if price != nil {
		b.PurchaseValue = price.Mul(qty).Round(units.Scale)
	}

	if err := l.create(ctx, &b); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		// Created by a writer outside this process group; fold into it.
		existing, ferr := l.batches.FindBatchByKey(ctx, key)
		if ferr != nil || existing == nil {
			return nil, fmt.Errorf("find lot after duplicate: %w", errors.Join(err, ferr))
		}
		return l.increment(ctx, existing, qty, unit, price)
	}
	return &b, nil
}

// create inserts b and back-links it from the product's stock row.
func (l *Ledger) create(ctx context.Context, b *domain.BatchRecord) error {
	inv, err := l.inventory.FindInventory(ctx, b.ShopID, b.Product)
	if err != nil {
		return fmt.Errorf("find inventory: %w", err)
	}
	if inv != nil {
		b.LinkedInventoryID = inv.ID
	}
	if err := l.batches.CreateBatch(ctx, *b); err != nil {
		return fmt.Errorf("create lot: %w", err)
	}
	if inv != nil && inv.LinkBatch(b.ID) {
		if err := l.inventory.PatchInventoryBatchIDs(ctx, inv.ID, inv.BatchIDs); err != nil {
			observe.Logger(ctx).Warn("failed to link lot to stock row",
				"lot_id", b.ID,
				"inventory_id", inv.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (l *Ledger) increment(ctx context.Context, b *domain.BatchRecord, qty decimal.Decimal, unit string, price *decimal.Decimal) (*domain.BatchRecord, error) {
	add, err := units.Convert(qty, unit, b.Unit)
	if err != nil {
		return nil, err
	}
	newQty := b.Quantity.Add(add).Round(units.Scale)
	patch := domain.BatchPatch{Quantity: &newQty}
	if price != nil {
		value := b.PurchaseValue.Add(price.Mul(qty)).Round(units.Scale)
		patch.PurchaseValue = &value
		b.PurchaseValue = value
	}
	if err := l.batches.PatchBatch(ctx, b.ID, patch); err != nil {
		return nil, fmt.Errorf("patch lot: %w", err)
	}
	b.Quantity = newQty
	return b, nil
}

// applyDelta converts delta into the lot's unit, clamps the result at zero
// and patches it in place.
func (l *Ledger) applyDelta(ctx context.Context, b *domain.BatchRecord, delta decimal.Decimal, unit string) (*domain.BatchRecord, error) {
	conv, err := units.Convert(delta, unit, b.Unit)
	if err != nil {
		return nil, err
	}
	newQty := decimal.Max(decimal.Zero, b.Quantity.Add(conv)).Round(units.Scale)
	if err := l.batches.PatchBatch(ctx, b.ID, domain.BatchPatch{Quantity: &newQty}); err != nil {
		return nil, fmt.Errorf("patch lot: %w", err)
	}
	b.Quantity = newQty
	b.UpdatedAt = l.now()
	return b, nil
}

// UpdateBatchQuantity adds delta to the lot with id, never below zero.
func (l *Ledger) UpdateBatchQuantity(ctx context.Context, id string, delta decimal.Decimal, unit string) (*domain.BatchRecord, error) {
	b, err := l.batches.FindBatchByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("lot %s: %w", id, domain.ErrLotNotFound)
	}

	unlock, err := l.locker.Lock(ctx, lotLockKey(b.CompositeKey))
	if err != nil {
		return nil, fmt.Errorf("lock lot: %w", err)
	}
	defer unlock()

	// Re-read under the lock.
	if b, err = l.batches.FindBatchByID(ctx, id); err != nil {
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("lot %s: %w", id, domain.ErrLotNotFound)
	}
	return l.applyDelta(ctx, b, delta, unit)
}

// UpdateBatchQuantityByCompositeKey adds delta to the lot with key. When the
// lot is missing at read time, or vanishes before the patch lands, it is
// recreated at zero, re-read after the settle delay and then updated; the
// result is max(0, delta).
func (l *Ledger) UpdateBatchQuantityByCompositeKey(ctx context.Context, key string, delta decimal.Decimal, unit string) (*domain.BatchRecord, error) {
	shopID, product, day, err := domain.ParseCompositeKey(key)
	if err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, lotLockKey(key))
	if err != nil {
		return nil, fmt.Errorf("lock lot: %w", err)
	}
	defer unlock()

	b, err := l.batches.FindBatchByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if b == nil {
		if b, err = l.selfHeal(ctx, shopID, product, day, key, unit); err != nil {
			return nil, err
		}
	}
	updated, err := l.applyDelta(ctx, b, delta, unit)
	if !errors.Is(err, domain.ErrLotNotFound) {
		return updated, err
	}

	// The lot was removed between the read and the patch.
	if b, err = l.selfHeal(ctx, shopID, product, day, key, unit); err != nil {
		return nil, err
	}
	return l.applyDelta(ctx, b, delta, unit)
}

func (l *Ledger) selfHeal(ctx context.Context, shopID, product string, day time.Time, key, unit string) (*domain.BatchRecord, error) {
	logger := observe.Logger(ctx)
	logger.Warn("lot missing, recreating", "composite_key", key)
	l.metrics.RecordSelfHeal(ctx)

	now := l.now()
	b := domain.BatchRecord{
		ID:            uuid.NewString(),
		ShopID:        shopID,
		Product:       product,
		Quantity:      decimal.Zero,
		Unit:          units.Canonical(unit),
		PurchaseDate:  day,
		PurchaseValue: decimal.Zero,
		CompositeKey:  key,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.create(ctx, &b); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return nil, fmt.Errorf("recreate lot: %w", err)
	}

	if err := l.sleep(ctx, l.settle); err != nil {
		return nil, err
	}

	healed, err := l.batches.FindBatchByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find recreated lot: %w", err)
	}
	if healed == nil {
		return nil, fmt.Errorf("lot %s: %w", key, domain.ErrLotNotFound)
	}
	return healed, nil
}

// ListBatches returns a product's lots, newest first.
func (l *Ledger) ListBatches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	lots, err := l.batches.ListBatches(ctx, shopID, product)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return lots, nil
}

// OpenLots returns the non-expired lots with stock left, newest first.
func (l *Ledger) OpenLots(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	lots, err := l.ListBatches(ctx, shopID, product)
	if err != nil {
		return nil, err
	}
	today := l.Today()
	open := lots[:0]
	for _, b := range lots {
		if b.Quantity.IsPositive() && !b.Expired(today) {
			open = append(open, b)
		}
	}
	return open, nil
}

// SetExpiry records the expiry date of the lot with id.
func (l *Ledger) SetExpiry(ctx context.Context, id string, expiry time.Time) (*domain.BatchRecord, error) {
	b, err := l.batches.FindBatchByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find lot: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("lot %s: %w", id, domain.ErrLotNotFound)
	}

	unlock, err := l.locker.Lock(ctx, lotLockKey(b.CompositeKey))
	if err != nil {
		return nil, fmt.Errorf("lock lot: %w", err)
	}
	defer unlock()

	expiry = civilDate(expiry)
	if err := l.batches.PatchBatch(ctx, id, domain.BatchPatch{ExpiryDate: &expiry}); err != nil {
		return nil, fmt.Errorf("patch lot: %w", err)
	}
	b.ExpiryDate = &expiry
	return b, nil
}

// ConsumeOldest removes qty from the open lots, oldest first, splitting
// across lots as needed. It returns the lots touched and whatever could not
// be attributed.
func (l *Ledger) ConsumeOldest(ctx context.Context, shopID, product string, qty decimal.Decimal, unit string) ([]domain.BatchRecord, decimal.Decimal, error) {
	open, err := l.OpenLots(ctx, shopID, product)
	if err != nil {
		return nil, qty, err
	}

	remaining := qty
	var touched []domain.BatchRecord
	for i := len(open) - 1; i >= 0 && remaining.IsPositive(); i-- {
		b, take, err := l.consume(ctx, open[i].ID, remaining, unit)
		if err != nil {
			if errors.Is(err, domain.ErrIncompatibleUnits) || errors.Is(err, domain.ErrLotNotFound) {
				continue
			}
			return touched, remaining, err
		}
		if take.IsZero() {
			continue
		}
		remaining = remaining.Sub(take)
		touched = append(touched, *b)
	}
	return touched, remaining, nil
}

// consume takes up to want (in unit) from one lot and reports how much it took.
func (l *Ledger) consume(ctx context.Context, id string, want decimal.Decimal, unit string) (*domain.BatchRecord, decimal.Decimal, error) {
	b, err := l.batches.FindBatchByID(ctx, id)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("find lot: %w", err)
	}
	if b == nil {
		return nil, decimal.Zero, domain.ErrLotNotFound
	}

	unlock, err := l.locker.Lock(ctx, lotLockKey(b.CompositeKey))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("lock lot: %w", err)
	}
	defer unlock()

	if b, err = l.batches.FindBatchByID(ctx, id); err != nil {
		return nil, decimal.Zero, fmt.Errorf("find lot: %w", err)
	}
	if b == nil {
		return nil, decimal.Zero, domain.ErrLotNotFound
	}

	available, err := units.Convert(b.Quantity, b.Unit, unit)
	if err != nil {
		return nil, decimal.Zero, err
	}
	take := decimal.Min(want, available)
	if !take.IsPositive() {
		return b, decimal.Zero, nil
	}
	b, err = l.applyDelta(ctx, b, take.Neg(), unit)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return b, take, nil
}
