// Package risk classifies rebalance decisions from their prediction metrics.
package risk

import "github.com/fabrknt/flowguard/internal/domain"

// Classify maps prediction metrics to a risk tier. It is a pure, total
// function with fixed thresholds: confidence and volatility are scaled
// 0..10000, sentiment -10000..10000.
func Classify(confidence uint16, sentiment int16, volatility uint16) domain.RiskTier {
	switch {
	case confidence < 5000 || volatility > 8000:
		return domain.RiskTierCritical
	case confidence < 7000 || volatility > 6000 || sentiment < -5000:
		return domain.RiskTierHigh
	case confidence < 8500 || volatility > 4000:
		return domain.RiskTierMedium
	default:
		return domain.RiskTierLow
	}
}
