package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
	ErrVersionConflict      = errors.New("version conflict")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidPositionState = errors.New("invalid position state")
	ErrMalformedStoredData  = errors.New("malformed stored data")
)

// Specific position-state failures. Each matches ErrInvalidPositionState
// with errors.Is.
var (
	ErrReadOnlyPosition = fmt.Errorf("%w: read-only example position", ErrInvalidPositionState)
	ErrPositionClosed   = fmt.Errorf("%w: position already closed", ErrInvalidPositionState)
	ErrNotPending       = fmt.Errorf("%w: position is not pending", ErrInvalidPositionState)
	ErrNotActive        = fmt.Errorf("%w: position is not active", ErrInvalidPositionState)
	ErrPositionLimit    = fmt.Errorf("%w: open position limit reached", ErrInvalidPositionState)
	ErrInvalidLeverage  = fmt.Errorf("%w: invalid leverage", ErrInvalidPositionState)
	ErrInvalidMargin    = fmt.Errorf("%w: invalid margin", ErrInvalidPositionState)
	ErrInvalidOrder     = fmt.Errorf("%w: invalid order parameters", ErrInvalidPositionState)
)
