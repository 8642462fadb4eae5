package handler

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type mockService struct {
	mu       sync.Mutex
	messages []domain.NormalizedMessage
	bulk     [][]domain.BulkItem
	outcome  domain.Outcome
	records  []domain.InventoryRecord
	lots     []domain.BatchRecord
	listErr  error
}

func (m *mockService) HandleMessage(ctx context.Context, msg domain.NormalizedMessage) domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.outcome
}

func (m *mockService) BulkUpdate(ctx context.Context, items []domain.BulkItem) []domain.BulkResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulk = append(m.bulk, items)
	results := make([]domain.BulkResult, len(items))
	for i, it := range items {
		results[i] = domain.BulkResult{Item: it}
		if it.Product == "" {
			results[i].Error = "product is required"
			continue
		}
		results[i].Applied = &domain.AppliedItem{Product: it.Product, Delta: it.Delta, NewQuantity: it.Delta, Unit: it.Unit}
	}
	return results
}

func (m *mockService) Inventory(ctx context.Context, shopID string) ([]domain.InventoryRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.records, nil
}

func (m *mockService) Batches(ctx context.Context, shopID, product string) ([]domain.BatchRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.lots, nil
}

func (m *mockService) lastMessage() domain.NormalizedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[len(m.messages)-1]
}

var errStoreDown = errors.New("store down")

func sampleRecords() []domain.InventoryRecord {
	return []domain.InventoryRecord{{ID: "r1", ShopID: "shop-1", Product: "Sugar", Quantity: decimal.RequireFromString("1.5"), Unit: "kg"}}
}
