package domain

import "time"

// AuditEventType enumerates the state transitions recorded in the audit ledger.
type AuditEventType string

const (
	AuditPositionCreated       AuditEventType = "position_created"
	AuditPositionClosed        AuditEventType = "position_closed"
	AuditDecisionProposed      AuditEventType = "decision_proposed"
	AuditDecisionCancelled     AuditEventType = "decision_cancelled"
	AuditExecutionFailed       AuditEventType = "execution_failed"
	AuditRebalanced            AuditEventType = "rebalanced"
	AuditFeesCollected         AuditEventType = "fees_collected"
	AuditPaymentReceived       AuditEventType = "payment_received"
	AuditPolicyViolation       AuditEventType = "policy_violation"
	AuditHumanApprovalRequired AuditEventType = "human_approval_required"
	AuditHumanApprovalGranted  AuditEventType = "human_approval_granted"
)

// AuditEvent is one immutable row of the compliance ledger. Seq is a
// monotonically increasing sequence key assigned by the store on append;
// events are never mutated or deleted.
type AuditEvent struct {
	Seq        int64
	EventType  AuditEventType
	PositionID *string
	Actor      string
	Payload    map[string]any
	CreatedAt  time.Time
}
