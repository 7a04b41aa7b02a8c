package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks the lifecycle state of a managed position.
type PositionStatus string

const (
	PositionStatusActive     PositionStatus = "active"
	PositionStatusPaused     PositionStatus = "paused"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// Terminal reports whether the status admits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

// VenueKind identifies the external liquidity venue a position lives on.
type VenueKind string

const (
	VenueRaydium VenueKind = "raydium"
	VenueOrca    VenueKind = "orca"
	VenueMeteora VenueKind = "meteora"
)

// Position represents a managed concentrated-liquidity range owned by a user.
// A position is created once by its owner and thereafter mutated only by the
// execution coordinator (range, rebalance counters, timestamps).
type Position struct {
	ID            string
	Owner         string
	PositionIndex uint8

	TokenA      string
	TokenB      string
	VenueKind   VenueKind
	PoolAddress string

	// Active concentrated-liquidity range. Ticks and prices are kept in
	// parallel; both must satisfy lower < upper.
	TickLower  int32
	TickUpper  int32
	PriceLower decimal.Decimal
	PriceUpper decimal.Decimal

	LiquidityAmount  decimal.Decimal
	FeesEarnedA      uint64
	FeesEarnedB      uint64
	TotalValueLocked uint64

	// Rebalancing history. LastRebalanceTimestamp is zero until the first
	// successful execution; RebalanceCount only ever increases, via checked
	// arithmetic.
	LastRebalanceSlot      uint64
	LastRebalanceTimestamp time.Time
	RebalanceCount         uint32

	Status               PositionStatus
	AutoRebalance        bool
	MinRebalanceInterval time.Duration

	// Policy caps, validated against the protocol-wide maxima at creation.
	MaxPositionSize uint64
	MaxSingleTrade  uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockKey returns the exclusive-scope key for this position. All mutations of
// a position happen under this key.
func (p Position) LockKey() string {
	return fmt.Sprintf("position:%s:%d", p.Owner, p.PositionIndex)
}
