package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoValidUpdates      = errors.New("no valid updates in message")
	ErrLotNotFound         = errors.New("lot not found")
	ErrNoRecentPurchase    = errors.New("no recent purchase")
	ErrIncompatibleUnits   = errors.New("incompatible units")
	ErrDuplicate           = errors.New("duplicate record")
	ErrInvalidCompositeKey = errors.New("invalid composite key")
)

// StoreError is a persistence failure that survived the retry budget.
type StoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
