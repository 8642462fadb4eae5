package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OutcomeKind string

const (
	OutcomeConfirmationRequested OutcomeKind = "confirmation_requested"
	OutcomeConfirmationRejected  OutcomeKind = "confirmation_rejected"
	OutcomeUpdatesApplied        OutcomeKind = "updates_applied"
	OutcomeUpdatesPartial        OutcomeKind = "updates_partial"
	OutcomeNoValidUpdates        OutcomeKind = "no_valid_updates"
	OutcomeSelectionRequested    OutcomeKind = "batch_selection_requested"
	OutcomeBatchSelected         OutcomeKind = "batch_selected"
	OutcomeExpiryUpdated         OutcomeKind = "expiry_updated"
	OutcomeNoRecentPurchase      OutcomeKind = "no_recent_purchase"
	OutcomeSystemError           OutcomeKind = "system_error"
)

// AppliedItem is one successfully reconciled update.
type AppliedItem struct {
	Product     string          `json:"product"`
	Action      Action          `json:"action"`
	Delta       decimal.Decimal `json:"delta"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Unit        string          `json:"unit"`
	BatchDate   *time.Time      `json:"batch_date,omitempty"`
}

// FailedItem is a valid update that could not be persisted.
type FailedItem struct {
	Product  string `json:"product"`
	Action   Action `json:"action"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
	Reason   string `json:"reason"`
}

// Prompt asks the operator for a follow-up answer.
type Prompt struct {
	Type     CorrectionType `json:"type"`
	Product  string         `json:"product,omitempty"`
	Products []string       `json:"products,omitempty"`
	Lots     []BatchRecord  `json:"lots,omitempty"`
}

// Outcome is the result of handling one message, ready for presentation.
type Outcome struct {
	Kind          OutcomeKind   `json:"kind"`
	CorrelationID string        `json:"correlation_id"`
	Transcript    string        `json:"transcript,omitempty"`
	Language      string        `json:"language,omitempty"`
	Items         []AppliedItem `json:"items,omitempty"`
	Failed        []FailedItem  `json:"failed,omitempty"`
	Batch         *BatchRecord  `json:"batch,omitempty"`
	Prompt        *Prompt       `json:"prompt,omitempty"`
	TotalClauses  int           `json:"total_clauses,omitempty"`
	ValidClauses  int           `json:"valid_clauses,omitempty"`
	Message       string        `json:"message,omitempty"`
}
