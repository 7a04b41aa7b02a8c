package liquidity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fabrknt/flowguard/internal/domain"
)

func position(priceLower int64, tvl, maxTrade uint64) domain.Position {
	return domain.Position{
		PriceLower:       decimal.NewFromInt(priceLower),
		PriceUpper:       decimal.NewFromInt(priceLower * 2),
		TotalValueLocked: tvl,
		MaxSingleTrade:   maxTrade,
	}
}

func decisionWithLower(priceLower int64) domain.Decision {
	return domain.Decision{NewPriceLower: decimal.NewFromInt(priceLower)}
}

func TestRequiresSwap(t *testing.T) {
	var p Planner

	tests := []struct {
		name     string
		current  int64
		proposed int64
		want     bool
	}{
		{"no movement", 1000, 1000, false},
		{"shift exactly a tenth is not enough", 1000, 1100, false},
		{"shift just over a tenth upward", 1000, 1101, true},
		{"shift just over a tenth downward", 1000, 899, true},
		{"large upward shift", 1000, 2000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			needed, _ := p.RequiresSwap(position(tt.current, 100_000, 0), decisionWithLower(tt.proposed))
			assert.Equal(t, tt.want, needed)
		})
	}
}

func TestSwapAmountCappedAtSingleTradeLimit(t *testing.T) {
	var p Planner

	needed, amount := p.RequiresSwap(position(1000, 1_000_000, 0), decisionWithLower(2000))
	assert.True(t, needed)
	assert.Equal(t, uint64(100_000), amount)

	needed, amount = p.RequiresSwap(position(1000, 1_000_000, 25_000), decisionWithLower(2000))
	assert.True(t, needed)
	assert.Equal(t, uint64(25_000), amount)
}

func TestZeroPriceLowerNeverSwaps(t *testing.T) {
	var p Planner

	needed, amount := p.RequiresSwap(position(0, 1_000_000, 0), decisionWithLower(500))
	assert.False(t, needed)
	assert.Zero(t, amount)
}
