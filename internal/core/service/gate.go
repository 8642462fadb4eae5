package service

import "github.com/rl1809/stock-ledger/internal/core/domain"

// Gate decides whether a message must be confirmed before it is applied.
type Gate struct {
	required  bool
	threshold float64
}

func NewGate(required bool, threshold float64) *Gate {
	return &Gate{required: required, threshold: threshold}
}

// NeedsConfirmation is true for messages carrying a confidence below the
// threshold. Messages without a confidence proceed.
func (g *Gate) NeedsConfirmation(msg domain.NormalizedMessage) bool {
	return g.required && msg.Confidence != nil && *msg.Confidence < g.threshold
}
