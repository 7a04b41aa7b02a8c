// Package service implements the decision and execution workflow: position
// lifecycle, rebalance proposals, the human approval gate, guarded execution,
// fee collection, and the pay-per-access gate. Every state change is committed
// in one transaction with the ledger events documenting it.
package service

import (
	"context"
	"time"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/metrics"
)

// lockTTL bounds how long an exclusive scope may be held before it expires on
// its own. Generous relative to a single venue round-trip.
const lockTTL = 30 * time.Second

// actorSystem is recorded on ledger events produced by the coordinator itself
// rather than an identified caller.
const actorSystem = "system"

// appendAudit writes one ledger event through the given (possibly
// transaction-scoped) stores and counts it.
func appendAudit(ctx context.Context, s domain.Stores, e domain.AuditEvent) error {
	if _, err := s.Audit.Append(ctx, e); err != nil {
		return err
	}
	metrics.AuditEventsAppended.WithLabelValues(string(e.EventType)).Inc()
	return nil
}
