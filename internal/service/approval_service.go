package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fabrknt/flowguard/internal/crypto"
	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/metrics"
	"github.com/fabrknt/flowguard/internal/notify"
)

// ApprovalService is the human gate in front of flagged decisions. Approvals
// are granted with a signed capability credential; the recovered signer
// becomes the recorded approver and is later re-checked at execution.
type ApprovalService struct {
	tx       domain.TxManager
	stores   domain.Stores
	locks    domain.LockManager
	notifier *notify.Notifier
	logger   *slog.Logger

	now func() time.Time
}

// NewApprovalService creates an ApprovalService. The notifier may be nil.
func NewApprovalService(
	tx domain.TxManager,
	stores domain.Stores,
	locks domain.LockManager,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *ApprovalService {
	return &ApprovalService{
		tx:       tx,
		stores:   stores,
		locks:    locks,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Approve grants human approval for a flagged pending decision. The credential
// is a signature over the decision's approval digest; the recovered signer
// address is recorded as the approver. Each decision can be approved at most
// once.
func (s *ApprovalService) Approve(ctx context.Context, positionID string, index uint32, credential string) (domain.Decision, error) {
	d, unlock, err := s.lockAndLoad(ctx, positionID, index)
	if err != nil {
		return domain.Decision{}, err
	}
	defer unlock()

	if !d.RequiresHumanApproval {
		return domain.Decision{}, domain.ErrApprovalNotRequired
	}
	if d.ExecutionStatus != domain.ExecutionStatusPending {
		return domain.Decision{}, domain.ErrInvalidState
	}
	if d.Approved() {
		return domain.Decision{}, domain.ErrAlreadyApproved
	}

	approver, err := crypto.RecoverApprover(d.ID, credential)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("approval_service: %w", err)
	}

	now := s.now().UTC()
	d.Approver = &approver
	d.ApprovedAt = &now

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Decisions.Update(ctx, d); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditHumanApprovalGranted,
			PositionID: &d.PositionID,
			Actor:      approver,
			Payload: map[string]any{
				"decision_index": d.DecisionIndex,
				"risk_tier":      string(d.RiskTier),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("approval_service: approve: %w", err)
	}

	metrics.Approvals.WithLabelValues("approved").Inc()

	s.logger.InfoContext(ctx, "decision approved",
		slog.String("decision_id", d.ID),
		slog.String("approver", approver),
	)

	if s.notifier != nil {
		_ = s.notifier.Event(ctx, domain.AuditEvent{
			EventType:  domain.AuditHumanApprovalGranted,
			PositionID: &d.PositionID,
			Actor:      approver,
			Payload:    map[string]any{"decision_index": d.DecisionIndex},
		})
	}

	return d, nil
}

// Reject terminates a flagged pending decision with a rejection verdict. The
// credential identifies the rejecting reviewer the same way Approve does.
func (s *ApprovalService) Reject(ctx context.Context, positionID string, index uint32, credential, reason string) error {
	d, unlock, err := s.lockAndLoad(ctx, positionID, index)
	if err != nil {
		return err
	}
	defer unlock()

	if !d.RequiresHumanApproval {
		return domain.ErrApprovalNotRequired
	}
	if d.ExecutionStatus != domain.ExecutionStatusPending {
		return domain.ErrInvalidState
	}

	reviewer, err := crypto.RecoverApprover(d.ID, credential)
	if err != nil {
		return fmt.Errorf("approval_service: %w", err)
	}

	now := s.now().UTC()
	d.ExecutionStatus = domain.ExecutionStatusRejected

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Decisions.Update(ctx, d); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditPolicyViolation,
			PositionID: &d.PositionID,
			Actor:      reviewer,
			Payload: map[string]any{
				"rule":           "human_rejected",
				"decision_index": d.DecisionIndex,
				"reason":         reason,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("approval_service: reject: %w", err)
	}

	metrics.Approvals.WithLabelValues("rejected").Inc()

	s.logger.InfoContext(ctx, "decision rejected",
		slog.String("decision_id", d.ID),
		slog.String("reviewer", reviewer),
		slog.String("reason", reason),
	)
	return nil
}

// Cancel withdraws a pending decision. Unlike Reject it carries no reviewer
// identity; the position owner uses it to retract proposals that are no longer
// wanted.
func (s *ApprovalService) Cancel(ctx context.Context, positionID string, index uint32, actor string) error {
	d, unlock, err := s.lockAndLoad(ctx, positionID, index)
	if err != nil {
		return err
	}
	defer unlock()

	if d.ExecutionStatus != domain.ExecutionStatusPending {
		return domain.ErrInvalidState
	}

	now := s.now().UTC()
	d.ExecutionStatus = domain.ExecutionStatusCancelled

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Decisions.Update(ctx, d); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditDecisionCancelled,
			PositionID: &d.PositionID,
			Actor:      actor,
			Payload: map[string]any{
				"decision_index": d.DecisionIndex,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("approval_service: cancel: %w", err)
	}

	s.logger.InfoContext(ctx, "decision cancelled",
		slog.String("decision_id", d.ID),
		slog.String("actor", actor),
	)
	return nil
}

func (s *ApprovalService) lockAndLoad(ctx context.Context, positionID string, index uint32) (domain.Decision, func(), error) {
	key := domain.Decision{PositionID: positionID, DecisionIndex: index}.LockKey()
	unlock, err := s.locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		return domain.Decision{}, nil, err
	}

	d, err := s.stores.Decisions.Get(ctx, positionID, index)
	if err != nil {
		unlock()
		return domain.Decision{}, nil, err
	}
	return d, unlock, nil
}
