package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// ActorStateStore keeps at most one pending confirmation and one correction
// dialog per actor. Entries older than the store's TTL read as absent.
type ActorStateStore interface {
	// PutPending stores a confirmation, overwriting any previous one for the actor
	PutPending(ctx context.Context, pending domain.PendingConfirmation) error

	// TakePending atomically reads and removes the actor's confirmation, nil if absent or expired
	TakePending(ctx context.Context, actorID string) (*domain.PendingConfirmation, error)

	// PutCorrection stores a correction dialog, overwriting any previous one for the actor
	PutCorrection(ctx context.Context, state domain.CorrectionState) error

	// GetCorrection returns the actor's correction dialog, nil if absent or expired
	GetCorrection(ctx context.Context, actorID string) (*domain.CorrectionState, error)

	// DeleteCorrectionIf removes the actor's dialog only if its id still matches
	DeleteCorrectionIf(ctx context.Context, actorID, stateID string) (bool, error)
}

// KeyLocker serializes mutations of one logical key.
type KeyLocker interface {
	// Lock blocks until the key is held or ctx is done; the returned func releases it
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
