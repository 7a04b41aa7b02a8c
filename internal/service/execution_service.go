package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/crypto"
	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/metrics"
)

// ExecutionService is the coordinator that carries an approved pending
// decision through venue side effects and commits the resulting state change
// atomically with its ledger event. A decision that fails any precondition or
// venue call stays Pending (or is explicitly terminal) — there is no partial
// commit.
type ExecutionService struct {
	tx      domain.TxManager
	stores  domain.Stores
	locks   domain.LockManager
	venue   domain.VenueAdapter
	planner domain.SwapPlanner
	cfg     config.ProtocolConfig
	logger  *slog.Logger

	// localOnly skips venue mirroring entirely; state changes commit from
	// ledger bookkeeping alone.
	localOnly bool

	now func() time.Time
}

// NewExecutionService creates an ExecutionService. venue may be nil only when
// localOnly is set.
func NewExecutionService(
	tx domain.TxManager,
	stores domain.Stores,
	locks domain.LockManager,
	venue domain.VenueAdapter,
	planner domain.SwapPlanner,
	cfg config.ProtocolConfig,
	localOnly bool,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		tx:        tx,
		stores:    stores,
		locks:     locks,
		venue:     venue,
		planner:   planner,
		cfg:       cfg,
		localOnly: localOnly,
		logger:    logger,
		now:       time.Now,
	}
}

// ExecuteParams identifies the decision to execute and carries the executor's
// inputs.
type ExecuteParams struct {
	Owner         string
	PositionIndex uint8
	DecisionIndex uint32

	// Credential is the approver's capability signature. Required when the
	// decision was flagged for human approval; the recovered signer must match
	// the recorded approver.
	Credential string

	// MaxSlippageBps overrides the default tolerance. Zero means default. The
	// override may not exceed twice the default.
	MaxSlippageBps uint16

	// ExecutionSignature is the settlement reference for decisions carrying an
	// external swap route.
	ExecutionSignature *string
}

// Execute runs a pending decision to completion. Position range, rebalance
// counters, the decision's terminal state, and the rebalanced ledger event all
// commit in one transaction after the venue effects succeed.
func (s *ExecutionService) Execute(ctx context.Context, p ExecuteParams) (domain.Decision, error) {
	posUnlock, err := s.locks.Acquire(ctx, domain.Position{Owner: p.Owner, PositionIndex: p.PositionIndex}.LockKey(), lockTTL)
	if err != nil {
		return domain.Decision{}, err
	}
	defer posUnlock()

	pos, err := s.stores.Positions.Get(ctx, p.Owner, p.PositionIndex)
	if err != nil {
		return domain.Decision{}, err
	}

	decUnlock, err := s.locks.Acquire(ctx, domain.Decision{PositionID: pos.ID, DecisionIndex: p.DecisionIndex}.LockKey(), lockTTL)
	if err != nil {
		return domain.Decision{}, err
	}
	defer decUnlock()

	d, err := s.stores.Decisions.Get(ctx, pos.ID, p.DecisionIndex)
	if err != nil {
		return domain.Decision{}, err
	}

	if err := s.checkPreconditions(ctx, pos, d, p); err != nil {
		return domain.Decision{}, err
	}

	tolerance := p.MaxSlippageBps
	if tolerance == 0 {
		tolerance = s.cfg.DefaultSlippageToleranceBps
	}
	if tolerance > 2*s.cfg.DefaultSlippageToleranceBps {
		s.recordViolation(ctx, pos.ID, "slippage_bound", map[string]any{
			"requested_bps": tolerance,
			"max_bps":       2 * s.cfg.DefaultSlippageToleranceBps,
		})
		return domain.Decision{}, domain.ErrSlippageBoundInvalid
	}

	sig, slippage, err := s.runSwap(ctx, pos, d, p, tolerance)
	if err != nil {
		return domain.Decision{}, err
	}

	if err := s.moveLiquidity(ctx, pos, d); err != nil {
		return domain.Decision{}, err
	}

	now := s.now().UTC()

	oldTickLower, oldTickUpper := pos.TickLower, pos.TickUpper
	pos.TickLower = d.NewTickLower
	pos.TickUpper = d.NewTickUpper
	pos.PriceLower = d.NewPriceLower
	pos.PriceUpper = d.NewPriceUpper
	pos.LastRebalanceSlot = uint64(now.Unix())
	pos.LastRebalanceTimestamp = now
	pos.RebalanceCount++
	pos.UpdatedAt = now

	d.ExecutionStatus = domain.ExecutionStatusExecuted
	d.ExecutedAt = &now
	d.ExecutionSignature = sig
	d.ExecutionSlippageBps = slippage

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Positions.Update(ctx, pos); err != nil {
			return err
		}
		if err := st.Decisions.Update(ctx, d); err != nil {
			return err
		}
		payload := map[string]any{
			"decision_index":  d.DecisionIndex,
			"old_tick_lower":  oldTickLower,
			"old_tick_upper":  oldTickUpper,
			"new_tick_lower":  d.NewTickLower,
			"new_tick_upper":  d.NewTickUpper,
			"rebalance_count": pos.RebalanceCount,
		}
		if slippage != nil {
			payload["slippage_bps"] = *slippage
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditRebalanced,
			PositionID: &pos.ID,
			Actor:      actorSystem,
			Payload:    payload,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("execution_service: commit: %w", err)
	}

	metrics.Executions.WithLabelValues(string(domain.ExecutionStatusExecuted)).Inc()
	if slippage != nil {
		metrics.ExecutionSlippageBps.Observe(float64(*slippage))
	}

	s.logger.InfoContext(ctx, "decision executed",
		slog.String("position_id", pos.ID),
		slog.String("decision_id", d.ID),
		slog.Uint64("rebalance_count", uint64(pos.RebalanceCount)),
	)
	return d, nil
}

// checkPreconditions validates state, approval, and counter safety before any
// venue side effect is attempted.
func (s *ExecutionService) checkPreconditions(ctx context.Context, pos domain.Position, d domain.Decision, p ExecuteParams) error {
	if d.ExecutionStatus != domain.ExecutionStatusPending {
		return domain.ErrInvalidState
	}
	if pos.Status != domain.PositionStatusActive {
		return domain.ErrPositionNotActive
	}

	if d.RequiresHumanApproval {
		if !d.Approved() {
			s.recordViolation(ctx, pos.ID, "approval_missing", map[string]any{
				"decision_index": d.DecisionIndex,
			})
			return domain.ErrApprovalRequired
		}
		executor, err := crypto.RecoverApprover(d.ID, p.Credential)
		if err != nil {
			return fmt.Errorf("execution_service: %w: %w", domain.ErrUnauthorizedApprover, err)
		}
		if executor != *d.Approver {
			s.recordViolation(ctx, pos.ID, "approver_mismatch", map[string]any{
				"decision_index": d.DecisionIndex,
			})
			return domain.ErrUnauthorizedApprover
		}
	}

	// Counter overflow would silently wrap the rebalance history.
	if pos.RebalanceCount == math.MaxUint32 {
		return domain.ErrCounterOverflow
	}
	return nil
}

// runSwap performs the token swap leg if the planner requires one. It returns
// the execution signature and realized slippage to persist on the decision.
func (s *ExecutionService) runSwap(ctx context.Context, pos domain.Position, d domain.Decision, p ExecuteParams, tolerance uint16) (*string, *uint16, error) {
	needed, amount := s.planner.RequiresSwap(pos, d)
	if !needed {
		return nil, nil, nil
	}

	// An external route was prepared off-process; record its settlement
	// reference instead of driving the venue.
	if d.ExternalSwapRef != nil {
		if p.ExecutionSignature != nil {
			return p.ExecutionSignature, nil, nil
		}
		return d.ExternalSwapRef, nil, nil
	}

	if s.localOnly {
		return nil, nil, nil
	}
	if s.venue == nil {
		return nil, nil, domain.ErrVenueUnavailable
	}

	res, err := s.venue.Swap(ctx, domain.SwapRequest{
		DecisionID:     d.ID,
		FromToken:      pos.TokenA,
		ToToken:        pos.TokenB,
		Amount:         amount,
		MaxSlippageBps: tolerance,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("execution_service: swap: %w", err)
	}
	if !res.Executed {
		return nil, nil, fmt.Errorf("execution_service: swap: %w", domain.ErrVenueUnavailable)
	}

	if res.ActualSlippageBps != nil && *res.ActualSlippageBps > tolerance {
		// Persist the observed slippage for forensics; the decision stays
		// Pending so the operator can retry with a fresh route.
		s.persistSlippage(ctx, pos.ID, d, *res.ActualSlippageBps, tolerance)
		return nil, nil, domain.ErrSlippageExceeded
	}

	return nil, res.ActualSlippageBps, nil
}

// moveLiquidity executes the decrease-then-increase saga. A failed increase
// triggers one best-effort compensating re-increase of the old range.
func (s *ExecutionService) moveLiquidity(ctx context.Context, pos domain.Position, d domain.Decision) error {
	if s.localOnly || s.venue == nil {
		if s.localOnly {
			return nil
		}
		return domain.ErrVenueUnavailable
	}

	if err := s.venue.DecreaseLiquidity(ctx, domain.DecreaseRequest{
		DecisionID:  d.ID,
		PositionRef: pos.PoolAddress,
		Liquidity:   pos.LiquidityAmount,
		TickLower:   pos.TickLower,
		TickUpper:   pos.TickUpper,
	}); err != nil {
		return fmt.Errorf("execution_service: decrease liquidity: %w", err)
	}

	if err := s.venue.IncreaseLiquidity(ctx, domain.IncreaseRequest{
		DecisionID:  d.ID,
		PositionRef: pos.PoolAddress,
		Liquidity:   pos.LiquidityAmount,
		TickLower:   d.NewTickLower,
		TickUpper:   d.NewTickUpper,
	}); err != nil {
		// Compensate: put the liquidity back into the old range so the venue
		// position is not left empty. Best effort; a failure here leaves the
		// decision Pending for operator reconciliation either way.
		compErr := s.venue.IncreaseLiquidity(ctx, domain.IncreaseRequest{
			DecisionID:  d.ID + ":compensate",
			PositionRef: pos.PoolAddress,
			Liquidity:   pos.LiquidityAmount,
			TickLower:   pos.TickLower,
			TickUpper:   pos.TickUpper,
		})
		if compErr != nil {
			s.logger.ErrorContext(ctx, "execution_service: compensation failed",
				slog.String("decision_id", d.ID),
				slog.String("error", compErr.Error()),
			)
		}
		return fmt.Errorf("execution_service: increase liquidity: %w", err)
	}
	return nil
}

// MarkFailed moves a pending decision to the Failed terminal state. Operators
// use it to retire decisions whose venue effects cannot be completed.
func (s *ExecutionService) MarkFailed(ctx context.Context, positionID string, index uint32, reason string) error {
	key := domain.Decision{PositionID: positionID, DecisionIndex: index}.LockKey()
	unlock, err := s.locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	d, err := s.stores.Decisions.Get(ctx, positionID, index)
	if err != nil {
		return err
	}
	if d.ExecutionStatus != domain.ExecutionStatusPending {
		return domain.ErrInvalidState
	}

	now := s.now().UTC()
	d.ExecutionStatus = domain.ExecutionStatusFailed

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Decisions.Update(ctx, d); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditExecutionFailed,
			PositionID: &d.PositionID,
			Actor:      actorSystem,
			Payload: map[string]any{
				"decision_index": d.DecisionIndex,
				"reason":         reason,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("execution_service: mark failed: %w", err)
	}

	metrics.Executions.WithLabelValues(string(domain.ExecutionStatusFailed)).Inc()

	s.logger.WarnContext(ctx, "decision marked failed",
		slog.String("decision_id", d.ID),
		slog.String("reason", reason),
	)
	return nil
}

// persistSlippage stores the observed out-of-bounds slippage on the decision
// and documents the violation in the ledger.
func (s *ExecutionService) persistSlippage(ctx context.Context, positionID string, d domain.Decision, actual, tolerance uint16) {
	d.ExecutionSlippageBps = &actual

	err := s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Decisions.Update(ctx, d); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditPolicyViolation,
			PositionID: &positionID,
			Actor:      actorSystem,
			Payload: map[string]any{
				"rule":           "slippage_exceeded",
				"decision_index": d.DecisionIndex,
				"actual_bps":     actual,
				"tolerance_bps":  tolerance,
			},
			CreatedAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "execution_service: persist slippage",
			slog.String("decision_id", d.ID),
			slog.String("error", err.Error()),
		)
	}
	metrics.PolicyViolations.WithLabelValues("slippage_exceeded").Inc()
}

func (s *ExecutionService) recordViolation(ctx context.Context, positionID, rule string, extra map[string]any) {
	metrics.PolicyViolations.WithLabelValues(rule).Inc()

	payload := map[string]any{"rule": rule}
	for k, v := range extra {
		payload[k] = v
	}
	if err := appendAudit(ctx, s.stores, domain.AuditEvent{
		EventType:  domain.AuditPolicyViolation,
		PositionID: &positionID,
		Actor:      actorSystem,
		Payload:    payload,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "execution_service: record violation",
			slog.String("rule", rule),
			slog.String("error", err.Error()),
		)
	}
}
