package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryRecord is the stock row for one product in one shop. Quantity is
// expressed in Unit, which is the unit of the most recent update.
type InventoryRecord struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	Product   string          `json:"product"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	BatchIDs  []string        `json:"batch_ids"` // append-only back-links to lots, deduplicated
	UpdatedAt time.Time       `json:"updated_at"`
}

// LinkBatch appends id to the back-link set unless it is already present.
// It reports whether the set changed.
func (r *InventoryRecord) LinkBatch(id string) bool {
	for _, existing := range r.BatchIDs {
		if existing == id {
			return false
		}
	}
	r.BatchIDs = append(r.BatchIDs, id)
	return true
}
