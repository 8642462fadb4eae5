package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/units"
	"github.com/rl1809/stock-ledger/internal/observe"
	"github.com/rl1809/stock-ledger/internal/port"
)

// SaleAttribution decides which lots a sale is taken from.
type SaleAttribution string

const (
	// AttributeFIFO consumes the oldest open lots first.
	AttributeFIFO SaleAttribution = "fifo"
	// AttributeAsk asks the operator when more than one lot is open.
	AttributeAsk SaleAttribution = "ask"
	// AttributeNone leaves lots untouched on sale.
	AttributeNone SaleAttribution = "none"
)

// Reconciled is the result of applying one update.
type Reconciled struct {
	Item domain.AppliedItem

	// OpenLots is set when the sale's lot must be chosen by the operator.
	OpenLots []domain.BatchRecord
}

// Reconciler applies updates to the stock rows and, for purchases and
// sales, to the lot ledger. Updates of one (shop, product) serialize.
type Reconciler struct {
	inventory   port.InventoryRepository
	ledger      *Ledger
	locker      port.KeyLocker
	metrics     *observe.Metrics
	attribution SaleAttribution
	now         func() time.Time
}

func NewReconciler(inventory port.InventoryRepository, ledger *Ledger, locker port.KeyLocker, metrics *observe.Metrics, attribution SaleAttribution) *Reconciler {
	if metrics == nil {
		metrics = observe.Discard()
	}
	if attribution == "" {
		attribution = AttributeFIFO
	}
	return &Reconciler{
		inventory:   inventory,
		ledger:      ledger,
		locker:      locker,
		metrics:     metrics,
		attribution: attribution,
		now:         time.Now,
	}
}

func productLockKey(shopID, product string) string {
	return "inv:" + shopID + "|" + product
}

// WithProductLock runs fn while holding the (shopID, product) lock.
func (r *Reconciler) WithProductLock(ctx context.Context, shopID, product string, fn func(context.Context) error) error {
	unlock, err := r.locker.Lock(ctx, productLockKey(shopID, product))
	if err != nil {
		return fmt.Errorf("lock %s/%s: %w", shopID, product, err)
	}
	defer unlock()
	return fn(ctx)
}

// Apply reconciles one parsed update.
func (r *Reconciler) Apply(ctx context.Context, shopID string, u domain.ParsedUpdate) (Reconciled, error) {
	qty := decimal.NewFromInt(int64(u.Quantity))
	return r.reconcile(ctx, shopID, u.Product, u.Action, qty, u.Unit, u.Price, true)
}

// ApplyDelta adds a signed delta to the stock row only; lots are untouched.
func (r *Reconciler) ApplyDelta(ctx context.Context, item domain.BulkItem) (Reconciled, error) {
	action := domain.ActionPurchased
	if item.Delta.IsNegative() {
		action = domain.ActionSold
	}
	return r.reconcile(ctx, item.ShopID, item.Product, action, item.Delta, item.Unit, nil, false)
}

func (r *Reconciler) reconcile(ctx context.Context, shopID, product string, action domain.Action, qty decimal.Decimal, unit string, price *decimal.Decimal, withLots bool) (Reconciled, error) {
	start := time.Now()
	defer r.metrics.ObserveReconcile(ctx, string(action), start)

	var out Reconciled
	err := r.WithProductLock(ctx, shopID, product, func(ctx context.Context) error {
		item, err := r.updateStock(ctx, shopID, product, action, qty, unit)
		if err != nil {
			return err
		}
		out.Item = item
		if withLots {
			out.OpenLots = r.updateLots(ctx, shopID, &out.Item, qty, price)
		}
		return nil
	})
	return out, err
}

func (r *Reconciler) updateStock(ctx context.Context, shopID, product string, action domain.Action, qty decimal.Decimal, unit string) (domain.AppliedItem, error) {
	unit = units.Canonical(unit)

	current, err := r.inventory.FindInventory(ctx, shopID, product)
	if err != nil {
		return domain.AppliedItem{}, fmt.Errorf("find inventory: %w", err)
	}

	delta, newQty := qty, qty
	if current != nil {
		if action == domain.ActionRemaining {
			converted, err := units.Convert(current.Quantity, current.Unit, unit)
			if err != nil {
				return domain.AppliedItem{}, err
			}
			delta = qty.Sub(converted)
		} else if newQty, err = units.Sum(current.Quantity, current.Unit, qty, unit); err != nil {
			return domain.AppliedItem{}, err
		}
	}

	logger := observe.Logger(ctx)
	if newQty.IsNegative() {
		logger.Warn("stock below zero",
			"product", product,
			"quantity", newQty.String(),
			"unit", unit,
		)
	}

	next := domain.InventoryRecord{
		ID:        uuid.NewString(),
		ShopID:    shopID,
		Product:   product,
		Quantity:  newQty,
		Unit:      unit,
		UpdatedAt: r.now(),
	}
	if current != nil {
		next.ID = current.ID
		next.BatchIDs = current.BatchIDs
	}
	if err := r.persist(ctx, current, next); err != nil {
		return domain.AppliedItem{}, err
	}

	return domain.AppliedItem{
		Product:     product,
		Action:      action,
		Delta:       delta,
		NewQuantity: newQty,
		Unit:        unit,
	}, nil
}

// persist replaces prior with next by delete then insert, keeping the row id.
// The pair is not atomic: when the insert fails the prior row is put back on
// a best-effort basis.
func (r *Reconciler) persist(ctx context.Context, prior *domain.InventoryRecord, next domain.InventoryRecord) error {
	if prior != nil {
		if err := r.inventory.DeleteInventory(ctx, prior.ID); err != nil {
			return fmt.Errorf("delete inventory: %w", err)
		}
	}

	err := r.inventory.CreateInventory(ctx, next)
	if err == nil {
		return nil
	}

	logger := observe.Logger(ctx)
	if prior != nil {
		if rerr := r.inventory.CreateInventory(context.WithoutCancel(ctx), *prior); rerr != nil {
			logger.Error("CRITICAL: stock row lost, restore failed",
				"inventory_id", prior.ID,
				"product", prior.Product,
				"quantity", prior.Quantity.String(),
				"insert_error", err,
				"restore_error", rerr,
			)
		} else {
			logger.Error("stock row insert failed, prior row restored",
				"inventory_id", prior.ID,
				"error", err,
			)
		}
	}
	return fmt.Errorf("insert inventory: %w", err)
}

// updateLots mirrors the update on the ledger. Lot failures are logged and do
// not undo the stock change.
func (r *Reconciler) updateLots(ctx context.Context, shopID string, item *domain.AppliedItem, qty decimal.Decimal, price *decimal.Decimal) []domain.BatchRecord {
	logger := observe.Logger(ctx).With("product", item.Product)

	switch item.Action {
	case domain.ActionPurchased:
		b, err := r.ledger.CreateOrIncrementBatch(ctx, shopID, item.Product, qty, item.Unit, r.ledger.Today(), price)
		if err != nil {
			logger.Error("failed to record purchase lot", "error", err)
			return nil
		}
		day := b.PurchaseDate
		item.BatchDate = &day

	case domain.ActionSold:
		sold := qty.Abs()
		switch r.attribution {
		case AttributeFIFO:
			_, leftover, err := r.ledger.ConsumeOldest(ctx, shopID, item.Product, sold, item.Unit)
			if err != nil {
				logger.Error("failed to attribute sale to lots", "error", err)
				return nil
			}
			if leftover.IsPositive() {
				logger.Warn("sale not fully covered by lots",
					"unattributed", leftover.String(),
					"unit", item.Unit,
				)
			}

		case AttributeAsk:
			open, err := r.ledger.OpenLots(ctx, shopID, item.Product)
			if err != nil {
				logger.Error("failed to list lots", "error", err)
				return nil
			}
			switch len(open) {
			case 0:
			case 1:
				if _, err := r.ledger.UpdateBatchQuantity(ctx, open[0].ID, sold.Neg(), item.Unit); err != nil {
					logger.Error("failed to attribute sale to lot", "lot_id", open[0].ID, "error", err)
				}
			default:
				return open
			}
		}
	}
	return nil
}
