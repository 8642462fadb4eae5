package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observe"
	"github.com/rl1809/stock-ledger/internal/port"
)

// Default retry parameters.
const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 50 * time.Millisecond
	defaultMaxBackoff  = time.Second
)

// RetryConfig configures [Retrying].
type RetryConfig struct {
	// MaxAttempts includes the first call. Defaults to 3 if zero.
	MaxAttempts int

	// BaseBackoff doubles after each failed attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// OnRetry is called before each retry. May be nil.
	OnRetry func(op string, attempt int, err error)
}

// Retrying wraps the repositories with bounded exponential backoff. Context
// errors, duplicates and missing lots are returned at once; any other error
// that outlives the budget comes back as a *domain.StoreError.
type Retrying struct {
	inventory   port.InventoryRepository
	batches     port.BatchRepository
	maxAttempts int
	base        time.Duration
	max         time.Duration
	onRetry     func(string, int, error)
	sleep       func(context.Context, time.Duration) error
}

var (
	_ port.InventoryRepository = (*Retrying)(nil)
	_ port.BatchRepository     = (*Retrying)(nil)
)

func NewRetrying(inventory port.InventoryRepository, batches port.BatchRepository, cfg RetryConfig) *Retrying {
	r := &Retrying{
		inventory:   inventory,
		batches:     batches,
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.BaseBackoff,
		max:         cfg.MaxBackoff,
		onRetry:     cfg.OnRetry,
		sleep:       sleepContext,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.base <= 0 {
		r.base = defaultBaseBackoff
	}
	if r.max <= 0 {
		r.max = defaultMaxBackoff
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrDuplicate) ||
		errors.Is(err, domain.ErrLotNotFound)
}

func withRetry[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	backoff := r.base
	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if permanent(err) {
			return zero, err
		}
		if attempt == r.maxAttempts {
			break
		}

		observe.Logger(ctx).Warn("store operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if r.onRetry != nil {
			r.onRetry(op, attempt, err)
		}
		if serr := r.sleep(ctx, backoff); serr != nil {
			return zero, serr
		}
		backoff = min(backoff*2, r.max)
	}
	return zero, &domain.StoreError{Op: op, Attempts: r.maxAttempts, Err: err}
}

func withRetryErr(ctx context.Context, r *Retrying, op string, fn func(context.Context) error) error {
	_, err := withRetry(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Retrying) FindInventory(ctx context.Context, shopID, product string) (*domain.InventoryRecord, error) {
	return withRetry(ctx, r, "find_inventory", func(ctx context.Context) (*domain.InventoryRecord, error) {
		return r.inventory.FindInventory(ctx, shopID, product)
	})
}

func (r *Retrying) ListInventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error) {
	return withRetry(ctx, r, "list_inventory", func(ctx context.Context) ([]domain.InventoryRecord, error) {
		return r.inventory.ListInventory(ctx, shopID)
	})
}

func (r *Retrying) CreateInventory(ctx context.Context, rec domain.InventoryRecord) error {
	return withRetryErr(ctx, r, "create_inventory", func(ctx context.Context) error {
		return r.inventory.CreateInventory(ctx, rec)
	})
}

func (r *Retrying) DeleteInventory(ctx context.Context, id string) error {
	return withRetryErr(ctx, r, "delete_inventory", func(ctx context.Context) error {
		return r.inventory.DeleteInventory(ctx, id)
	})
}

func (r *Retrying) PatchInventoryBatchIDs(ctx context.Context, id string, batchIDs []string) error {
	return withRetryErr(ctx, r, "patch_inventory_batch_ids", func(ctx context.Context) error {
		return r.inventory.PatchInventoryBatchIDs(ctx, id, batchIDs)
	})
}

func (r *Retrying) FindBatchByID(ctx context.Context, id string) (*domain.BatchRecord, error) {
	return withRetry(ctx, r, "find_batch", func(ctx context.Context) (*domain.BatchRecord, error) {
		return r.batches.FindBatchByID(ctx, id)
	})
}

func (r *Retrying) FindBatchByKey(ctx context.Context, compositeKey string) (*domain.BatchRecord, error) {
	return withRetry(ctx, r, "find_batch_by_key", func(ctx context.Context) (*domain.BatchRecord, error) {
		return r.batches.FindBatchByKey(ctx, compositeKey)
	})
}

func (r *Retrying) ListBatches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	return withRetry(ctx, r, "list_batches", func(ctx context.Context) ([]domain.BatchRecord, error) {
		return r.batches.ListBatches(ctx, shopID, product)
	})
}

func (r *Retrying) CreateBatch(ctx context.Context, batch domain.BatchRecord) error {
	return withRetryErr(ctx, r, "create_batch", func(ctx context.Context) error {
		return r.batches.CreateBatch(ctx, batch)
	})
}

func (r *Retrying) PatchBatch(ctx context.Context, id string, patch domain.BatchPatch) error {
	return withRetryErr(ctx, r, "patch_batch", func(ctx context.Context) error {
		return r.batches.PatchBatch(ctx, id, patch)
	})
}

func (r *Retrying) DeleteBatch(ctx context.Context, id string) error {
	return withRetryErr(ctx, r, "delete_batch", func(ctx context.Context) error {
		return r.batches.DeleteBatch(ctx, id)
	})
}
