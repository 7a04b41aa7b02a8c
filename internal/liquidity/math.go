// Package liquidity holds the default swap-planning policy. The exact
// liquidity-to-token conversion arithmetic for concentrated ranges is outside
// the core; the coordinator only consumes the (needed, amount) signal.
package liquidity

import (
	"github.com/shopspring/decimal"

	"github.com/fabrknt/flowguard/internal/domain"
)

var ten = decimal.NewFromInt(10)

// Planner implements the default swap requirement policy: a swap is needed
// when the lower price bound shifts by more than a tenth of its current value.
type Planner struct{}

// RequiresSwap reports whether moving pos to d's range needs a token swap and
// the amount of token A to move. The amount is a tenth of the position's
// locked value, capped at the per-trade limit.
func (Planner) RequiresSwap(pos domain.Position, d domain.Decision) (bool, uint64) {
	if pos.PriceLower.IsZero() {
		return false, 0
	}

	shift := d.NewPriceLower.Sub(pos.PriceLower).Abs()
	if !shift.GreaterThan(pos.PriceLower.Div(ten)) {
		return false, 0
	}

	amount := pos.TotalValueLocked / 10
	if pos.MaxSingleTrade > 0 && amount > pos.MaxSingleTrade {
		amount = pos.MaxSingleTrade
	}
	return true, amount
}

var _ domain.SwapPlanner = Planner{}
