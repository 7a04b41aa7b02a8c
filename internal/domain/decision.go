package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus tracks the lifecycle of a rebalance decision. Pending is the
// only non-terminal state; there are no outgoing transitions from the others.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusExecuted  ExecutionStatus = "executed"
	ExecutionStatusRejected  ExecutionStatus = "rejected"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusPending
}

// AIMetrics carries the model provenance and prediction inputs that produced a
// decision. All of it is retained for the audit trail.
type AIMetrics struct {
	ModelVersion string
	ModelHash    string // hex-encoded 32-byte model hash

	// Prediction scores. Confidence and Volatility are scaled 0..10000,
	// Sentiment -10000..10000.
	Confidence    uint16
	Sentiment     int16
	Volatility    uint16
	WhaleActivity uint16

	OnChainIndicators []uint64
}

// Decision is a proposed range change for a position, carrying AI provenance,
// risk metadata, and the human-approval record. RequiresHumanApproval is fixed
// at creation and never changed afterward; the approver fields are set at most
// once; the execution fields are set only by the execution coordinator.
type Decision struct {
	ID            string
	PositionID    string
	DecisionIndex uint32

	NewTickLower  int32
	NewTickUpper  int32
	NewPriceLower decimal.Decimal
	NewPriceUpper decimal.Decimal

	AI     AIMetrics
	Reason string

	RiskTier        RiskTier
	ExecutionStatus ExecutionStatus

	ExecutionSignature   *string
	ExecutionSlippageBps *uint16

	// ExternalSwapRef references a pre-built swap transaction prepared
	// off-process (e.g. an aggregator route). When set, the coordinator
	// records the provided execution signature instead of driving the venue
	// swap itself.
	ExternalSwapRef *string
	ExpectedOut     *uint64

	RequiresHumanApproval bool
	Approver              *string
	ApprovedAt            *time.Time

	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// LockKey returns the exclusive-scope key for this decision.
func (d Decision) LockKey() string {
	return fmt.Sprintf("decision:%s:%d", d.PositionID, d.DecisionIndex)
}

// Approved reports whether a human approver has been recorded.
func (d Decision) Approved() bool {
	return d.Approver != nil
}
