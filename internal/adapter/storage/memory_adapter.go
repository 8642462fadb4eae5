package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// MemoryAdapter is an in-process implementation of the inventory and batch
// repositories. It enforces the same uniqueness rules as the SQL schema.
type MemoryAdapter struct {
	mu        sync.RWMutex
	inventory map[string]domain.InventoryRecord
	batches   map[string]domain.BatchRecord
	now       func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		inventory: make(map[string]domain.InventoryRecord),
		batches:   make(map[string]domain.BatchRecord),
		now:       time.Now,
	}
}

func (m *MemoryAdapter) FindInventory(ctx context.Context, shopID, product string) (*domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.inventory {
		if rec.ShopID == shopID && rec.Product == product {
			c := cloneInventory(rec)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) ListInventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.InventoryRecord
	for _, rec := range m.inventory {
		if rec.ShopID == shopID {
			out = append(out, cloneInventory(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out, nil
}

func (m *MemoryAdapter) CreateInventory(ctx context.Context, rec domain.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inventory[rec.ID]; ok {
		return fmt.Errorf("insert inventory %s: %w", rec.ID, domain.ErrDuplicate)
	}
	for _, existing := range m.inventory {
		if existing.ShopID == rec.ShopID && existing.Product == rec.Product {
			return fmt.Errorf("insert inventory %s/%s: %w", rec.ShopID, rec.Product, domain.ErrDuplicate)
		}
	}
	m.inventory[rec.ID] = cloneInventory(rec)
	return nil
}

func (m *MemoryAdapter) DeleteInventory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inventory, id)
	return nil
}

func (m *MemoryAdapter) PatchInventoryBatchIDs(ctx context.Context, id string, batchIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.inventory[id]
	if !ok {
		return nil
	}
	rec.BatchIDs = append([]string(nil), batchIDs...)
	rec.UpdatedAt = m.now()
	m.inventory[id] = rec
	return nil
}

func (m *MemoryAdapter) FindBatchByID(ctx context.Context, id string) (*domain.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	c := cloneBatch(b)
	return &c, nil
}

func (m *MemoryAdapter) FindBatchByKey(ctx context.Context, compositeKey string) (*domain.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.batches {
		if b.CompositeKey == compositeKey {
			c := cloneBatch(b)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) ListBatches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.BatchRecord
	for _, b := range m.batches {
		if b.ShopID == shopID && b.Product == product {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.After(out[j].PurchaseDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryAdapter) CreateBatch(ctx context.Context, b domain.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[b.ID]; ok {
		return fmt.Errorf("insert batch %s: %w", b.ID, domain.ErrDuplicate)
	}
	for _, existing := range m.batches {
		if existing.CompositeKey == b.CompositeKey {
			return fmt.Errorf("insert batch %s: %w", b.CompositeKey, domain.ErrDuplicate)
		}
	}
	m.batches[b.ID] = cloneBatch(b)
	return nil
}

func (m *MemoryAdapter) PatchBatch(ctx context.Context, id string, patch domain.BatchPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return fmt.Errorf("patch batch %s: %w", id, domain.ErrLotNotFound)
	}
	if patch.Quantity != nil {
		b.Quantity = *patch.Quantity
	}
	if patch.PurchaseValue != nil {
		b.PurchaseValue = *patch.PurchaseValue
	}
	if patch.ExpiryDate != nil {
		d := *patch.ExpiryDate
		b.ExpiryDate = &d
	}
	b.UpdatedAt = m.now()
	m.batches[id] = b
	return nil
}

func (m *MemoryAdapter) DeleteBatch(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.batches, id)
	return nil
}

func cloneInventory(rec domain.InventoryRecord) domain.InventoryRecord {
	rec.BatchIDs = append([]string(nil), rec.BatchIDs...)
	return rec
}

func cloneBatch(b domain.BatchRecord) domain.BatchRecord {
	if b.ExpiryDate != nil {
		d := *b.ExpiryDate
		b.ExpiryDate = &d
	}
	if b.PurchasePrice != nil {
		p := *b.PurchasePrice
		b.PurchasePrice = &p
	}
	return b
}
