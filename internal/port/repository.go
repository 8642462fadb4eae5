package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// InventoryRepository is the stock-row table. The store offers no
// transactions and no compare-and-swap; callers serialize with a KeyLocker.
type InventoryRepository interface {
	// FindInventory returns the row for (shopID, product), or nil when absent
	FindInventory(ctx context.Context, shopID, product string) (*domain.InventoryRecord, error)

	// ListInventory returns all rows of a shop ordered by product
	ListInventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error)

	// CreateInventory inserts a row, returning domain.ErrDuplicate on key conflict
	CreateInventory(ctx context.Context, rec domain.InventoryRecord) error

	// DeleteInventory removes a row by id; deleting a missing row is not an error
	DeleteInventory(ctx context.Context, id string) error

	// PatchInventoryBatchIDs replaces the back-link set of a row in place
	PatchInventoryBatchIDs(ctx context.Context, id string, batchIDs []string) error
}

// BatchRepository is the purchase-lot table.
type BatchRepository interface {
	// FindBatchByID returns the lot, or nil when absent
	FindBatchByID(ctx context.Context, id string) (*domain.BatchRecord, error)

	// FindBatchByKey returns the lot with the composite key, or nil when absent
	FindBatchByKey(ctx context.Context, compositeKey string) (*domain.BatchRecord, error)

	// ListBatches returns a product's lots, newest purchase date first
	ListBatches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error)

	// CreateBatch inserts a lot, returning domain.ErrDuplicate on key conflict
	CreateBatch(ctx context.Context, batch domain.BatchRecord) error

	// PatchBatch updates the given fields, returning domain.ErrLotNotFound when no row matches
	PatchBatch(ctx context.Context, id string, patch domain.BatchPatch) error

	// DeleteBatch removes a lot by id
	DeleteBatch(ctx context.Context, id string) error
}
