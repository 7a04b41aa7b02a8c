package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// SwapRequest asks the venue to swap between the position's tokens. The
// DecisionID doubles as an idempotency key: a crash-and-retry of the same
// decision must not double-submit to the venue.
type SwapRequest struct {
	DecisionID     string
	FromToken      string
	ToToken        string
	Amount         uint64
	MaxSlippageBps uint16
}

// SwapResult reports the outcome of a venue swap. ActualSlippageBps and
// ActualAmountOut are set only when the swap actually executed.
type SwapResult struct {
	Executed          bool
	ActualSlippageBps *uint16
	ActualAmountOut   *uint64
}

// DecreaseRequest removes liquidity from the position's current range.
type DecreaseRequest struct {
	DecisionID  string
	PositionRef string
	Liquidity   decimal.Decimal
	TickLower   int32
	TickUpper   int32
	MinOutA     uint64
	MinOutB     uint64
}

// IncreaseRequest adds liquidity into a (possibly new) range.
type IncreaseRequest struct {
	DecisionID  string
	PositionRef string
	Liquidity   decimal.Decimal
	TickLower   int32
	TickUpper   int32
	MaxInA      uint64
	MaxInB      uint64
}

// FeeCollectRequest claims accrued fees for both sides of the pair.
type FeeCollectRequest struct {
	PositionRef string
	RequestedA  uint64
	RequestedB  uint64
}

// VenueAdapter is the boundary to the external liquidity/swap venue. Any call
// may fail with a *VenueError; implementations should be idempotent on the
// request's DecisionID so a retried execution does not double-apply.
type VenueAdapter interface {
	Swap(ctx context.Context, req SwapRequest) (SwapResult, error)
	DecreaseLiquidity(ctx context.Context, req DecreaseRequest) error
	IncreaseLiquidity(ctx context.Context, req IncreaseRequest) error
	CollectFees(ctx context.Context, req FeeCollectRequest) (collectedA, collectedB uint64, err error)
}

// SwapPlanner decides whether moving a position to the decision's range needs
// a token swap, and for how much. The default policy lives in the liquidity
// package; alternative arithmetic can be plugged in here.
type SwapPlanner interface {
	RequiresSwap(pos Position, d Decision) (bool, uint64)
}

// FacilitatorVerifier checks an access payment's facilitator signature. The
// wire format and cryptography are external to the core.
type FacilitatorVerifier interface {
	VerifySignature(ctx context.Context, paymentID, facilitator string, sig string) error
}
