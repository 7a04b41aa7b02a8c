package domain

// RiskTier classifies a rebalance decision by the risk implied by its
// prediction metrics.
type RiskTier string

const (
	RiskTierLow      RiskTier = "low"
	RiskTierMedium   RiskTier = "medium"
	RiskTierHigh     RiskTier = "high"
	RiskTierCritical RiskTier = "critical"
)

// NeedsOversight reports whether the tier alone mandates human approval.
func (t RiskTier) NeedsOversight() bool {
	return t == RiskTierHigh || t == RiskTierCritical
}
