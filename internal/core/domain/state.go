package domain

import (
	"encoding/json"
	"time"
)

// PendingConfirmation holds a low-confidence transcript awaiting "yes"/"no".
type PendingConfirmation struct {
	ActorID          string    `json:"actor_id"`
	ShopID           string    `json:"shop_id"`
	Transcript       string    `json:"transcript"`
	DetectedLanguage string    `json:"detected_language"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expired reports whether the entry is older than ttl at now.
func (p PendingConfirmation) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(p.CreatedAt) > ttl
}

type CorrectionType string

const (
	CorrectionBatchSelection CorrectionType = "batch_selection"
	CorrectionExpiryEntry    CorrectionType = "expiry_entry"
)

// CorrectionState is an open follow-up dialog for one actor. ID identifies
// this particular state so a stale reader cannot delete a newer one.
type CorrectionState struct {
	ID               string          `json:"id"`
	ActorID          string          `json:"actor_id"`
	Type             CorrectionType  `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	DetectedLanguage string          `json:"detected_language"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Expired reports whether the state is older than ttl at now.
func (c CorrectionState) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(c.CreatedAt) > ttl
}

// BatchSelectionPayload is the deferred sale awaiting a lot choice.
type BatchSelectionPayload struct {
	ShopID   string `json:"shop_id"`
	Product  string `json:"product"`
	Quantity string `json:"quantity"` // decimal, positive magnitude sold
	Unit     string `json:"unit"`

	// Lots are the offered composite keys, newest first.
	Lots []string `json:"lots"`
}

// ExpiryEntryPayload lists the products just purchased.
type ExpiryEntryPayload struct {
	ShopID   string   `json:"shop_id"`
	Products []string `json:"products"`
}
