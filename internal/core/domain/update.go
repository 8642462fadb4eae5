package domain

import "github.com/shopspring/decimal"

// Unknown is the product sentinel for clauses that match no catalog alias.
const Unknown = "Unknown"

type Action string

const (
	ActionPurchased Action = "purchased"
	ActionSold      Action = "sold"
	ActionRemaining Action = "remaining"
)

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionPurchased, ActionSold, ActionRemaining:
		return true
	}
	return false
}

// ParsedUpdate is the structured form of one clause. Quantity is negative for
// sales and positive otherwise.
type ParsedUpdate struct {
	Product  string
	Quantity int
	Unit     string
	Action   Action
	Price    *decimal.Decimal // per unit, when stated
	Clause   string
	// Truncated holds quantity text dropped from the integer reading, such
	// as ".5" in "1.5 kg" or "five" in "twenty five".
	Truncated string
}

// Valid reports whether the update may be applied.
func (u ParsedUpdate) Valid() bool {
	return u.Product != Unknown && u.Product != "" && u.Quantity != 0 && u.Action.IsValid()
}

type Modality string

const (
	ModalityVoice Modality = "voice"
	ModalityText  Modality = "text"
)

// NormalizedMessage is one inbound message after transport and
// speech-to-text handling.
type NormalizedMessage struct {
	ActorID      string
	ShopID       string
	Text         string
	Modality     Modality
	LanguageHint string
	Confidence   *float64
}

// BulkItem is one independent stock delta for the bulk entry point.
type BulkItem struct {
	ShopID  string          `json:"shop_id"`
	Product string          `json:"product"`
	Delta   decimal.Decimal `json:"delta"`
	Unit    string          `json:"unit"`
}

// BulkResult is the settled result of one BulkItem.
type BulkResult struct {
	Item    BulkItem     `json:"item"`
	Applied *AppliedItem `json:"applied,omitempty"`
	Error   string       `json:"error,omitempty"`
}
