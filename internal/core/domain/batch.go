package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for purchase and expiry dates.
const DateLayout = "2006-01-02"

const keySeparator = "|"

// BatchRecord is a dated purchase lot.
type BatchRecord struct {
	ID                string           `json:"id"`
	ShopID            string           `json:"shop_id"`
	Product           string           `json:"product"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Unit              string           `json:"unit"`
	PurchaseDate      time.Time        `json:"purchase_date"`
	ExpiryDate        *time.Time       `json:"expiry_date,omitempty"`
	PurchasePrice     *decimal.Decimal `json:"purchase_price,omitempty"`
	PurchaseValue     decimal.Decimal  `json:"purchase_value"`
	CompositeKey      string           `json:"composite_key"`
	LinkedInventoryID string           `json:"linked_inventory_id"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Expired reports whether the lot has an expiry date strictly before day.
func (b BatchRecord) Expired(day time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(truncateDay(day))
}

// BatchPatch lists the fields of a lot that may be changed in place.
type BatchPatch struct {
	Quantity      *decimal.Decimal
	PurchaseValue *decimal.Decimal
	ExpiryDate    *time.Time
}

// CompositeKey returns the shopID|product|purchaseDate identity of a lot.
func CompositeKey(shopID, product string, purchaseDate time.Time) string {
	return shopID + keySeparator + product + keySeparator + purchaseDate.Format(DateLayout)
}

// ParseCompositeKey splits a composite key back into its parts. The shop id is
// everything before the first separator and the date everything after the
// last, so product names may themselves contain the separator.
func ParseCompositeKey(key string) (shopID, product string, purchaseDate time.Time, err error) {
	first := strings.Index(key, keySeparator)
	last := strings.LastIndex(key, keySeparator)
	if first <= 0 || last <= first+1 || last == len(key)-1 {
		return "", "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCompositeKey, key)
	}
	purchaseDate, err = time.Parse(DateLayout, key[last+1:])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidCompositeKey, key, err)
	}
	return key[:first], key[first+1 : last], purchaseDate, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
