package domain

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrInvalidRange = errors.New("invalid price range")
	ErrCapExceeded  = errors.New("cap exceeds protocol maximum")
)

// State errors.
var (
	ErrPositionNotActive = errors.New("position is not active")
	ErrInvalidState      = errors.New("invalid execution state")
	ErrRateLimited       = errors.New("rebalance too frequent")
	ErrAlreadyApproved   = errors.New("decision already approved")
	ErrNoFeesToCollect   = errors.New("no fees to collect")
)

// Authorization errors.
var (
	ErrApprovalRequired     = errors.New("human approval required")
	ErrApprovalNotRequired  = errors.New("approval not required")
	ErrUnauthorizedApprover = errors.New("executor does not match recorded approver")
	ErrPaymentTooSmall      = errors.New("payment amount below minimum")
	ErrInvalidFacilitator   = errors.New("invalid payment facilitator")
)

// Financial safety errors.
var (
	ErrSlippageBoundInvalid = errors.New("slippage tolerance above allowed bound")
	ErrSlippageExceeded     = errors.New("actual slippage exceeded tolerance")
	ErrCounterOverflow      = errors.New("rebalance counter overflow")
)

// Infrastructure errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrLockHeld         = errors.New("lock already held")
	ErrVenueUnavailable = errors.New("venue adapter unavailable")
)

// VenueError wraps an opaque failure from the external venue. It is never a
// license to commit partial state: the decision that triggered the call stays
// Pending for operator reconciliation.
type VenueError struct {
	Op  string
	Err error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue: %s: %v", e.Op, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}
