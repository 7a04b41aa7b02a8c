package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/metrics"
	"github.com/fabrknt/flowguard/internal/notify"
	"github.com/fabrknt/flowguard/internal/risk"
)

// rebalanceFrequencyWindow is the sliding window for the per-position
// proposal frequency cap.
const rebalanceFrequencyWindow = 24 * time.Hour

// DecisionService accepts rebalance proposals, classifies their risk, and
// fixes the human-approval requirement at proposal time.
type DecisionService struct {
	tx       domain.TxManager
	stores   domain.Stores
	locks    domain.LockManager
	limiter  domain.RateLimiter
	notifier *notify.Notifier
	cfg      config.ProtocolConfig
	logger   *slog.Logger

	now func() time.Time
}

// NewDecisionService creates a DecisionService with all required dependencies.
// The notifier may be nil.
func NewDecisionService(
	tx domain.TxManager,
	stores domain.Stores,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	notifier *notify.Notifier,
	cfg config.ProtocolConfig,
	logger *slog.Logger,
) *DecisionService {
	return &DecisionService{
		tx:       tx,
		stores:   stores,
		locks:    locks,
		limiter:  limiter,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ProposeParams carries a proposed range change with its model provenance.
type ProposeParams struct {
	Owner         string
	PositionIndex uint8

	NewTickLower  int32
	NewTickUpper  int32
	NewPriceLower decimal.Decimal
	NewPriceUpper decimal.Decimal

	AI     domain.AIMetrics
	Reason string
}

// Propose validates a rebalance proposal against the position's state and rate
// policy, classifies its risk, and records it as a pending decision. High and
// critical tiers, and positions whose locked value exceeds the approval
// threshold, are flagged for human approval; the flag never changes afterward.
func (s *DecisionService) Propose(ctx context.Context, p ProposeParams) (domain.Decision, error) {
	unlock, err := s.locks.Acquire(ctx, domain.Position{Owner: p.Owner, PositionIndex: p.PositionIndex}.LockKey(), lockTTL)
	if err != nil {
		return domain.Decision{}, err
	}
	defer unlock()

	pos, err := s.stores.Positions.Get(ctx, p.Owner, p.PositionIndex)
	if err != nil {
		return domain.Decision{}, err
	}

	now := s.now().UTC()

	if pos.Status != domain.PositionStatusActive {
		s.recordViolation(ctx, pos.ID, p.Owner, "position_not_active", nil)
		return domain.Decision{}, domain.ErrPositionNotActive
	}

	// Interval check counts only from the last executed rebalance.
	if !pos.LastRebalanceTimestamp.IsZero() && now.Sub(pos.LastRebalanceTimestamp) < pos.MinRebalanceInterval {
		s.recordViolation(ctx, pos.ID, p.Owner, "rebalance_interval", map[string]any{
			"last_rebalance": pos.LastRebalanceTimestamp,
			"min_interval":   pos.MinRebalanceInterval.String(),
		})
		return domain.Decision{}, domain.ErrRateLimited
	}

	if p.NewTickLower >= p.NewTickUpper || !p.NewPriceLower.LessThan(p.NewPriceUpper) {
		return domain.Decision{}, domain.ErrInvalidRange
	}

	// Proposal frequency cap over a sliding day.
	allowed, err := s.limiter.Allow(ctx, "rebalance:"+pos.ID, s.cfg.MaxRebalanceFrequency, rebalanceFrequencyWindow)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision_service: frequency check: %w", err)
	}
	if !allowed {
		s.recordViolation(ctx, pos.ID, p.Owner, "rebalance_frequency", map[string]any{
			"max_per_day": s.cfg.MaxRebalanceFrequency,
		})
		return domain.Decision{}, domain.ErrRateLimited
	}

	tier := risk.Classify(p.AI.Confidence, p.AI.Sentiment, p.AI.Volatility)
	requiresApproval := tier.NeedsOversight() || pos.TotalValueLocked >= s.cfg.HumanApprovalThreshold

	index, err := s.stores.Decisions.NextIndex(ctx, pos.ID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision_service: next index: %w", err)
	}

	ai := p.AI
	if ai.ModelVersion == "" {
		ai.ModelVersion = s.cfg.DefaultAIModelVersion
	}

	d := domain.Decision{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		DecisionIndex: index,

		NewTickLower:  p.NewTickLower,
		NewTickUpper:  p.NewTickUpper,
		NewPriceLower: p.NewPriceLower,
		NewPriceUpper: p.NewPriceUpper,

		AI:     ai,
		Reason: p.Reason,

		RiskTier:        tier,
		ExecutionStatus: domain.ExecutionStatusPending,

		RequiresHumanApproval: requiresApproval,
		CreatedAt:             now,
	}

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Decisions.Create(ctx, d); err != nil {
			return err
		}
		if err := appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditDecisionProposed,
			PositionID: &pos.ID,
			Actor:      p.Owner,
			Payload: map[string]any{
				"decision_index": d.DecisionIndex,
				"risk_tier":      string(tier),
				"confidence":     ai.Confidence,
				"volatility":     ai.Volatility,
				"sentiment":      ai.Sentiment,
				"model_version":  ai.ModelVersion,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if !requiresApproval {
			return nil
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditHumanApprovalRequired,
			PositionID: &pos.ID,
			Actor:      actorSystem,
			Payload: map[string]any{
				"decision_index": d.DecisionIndex,
				"risk_tier":      string(tier),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision_service: propose: %w", err)
	}

	metrics.DecisionsProposed.WithLabelValues(string(tier)).Inc()

	s.logger.InfoContext(ctx, "decision proposed",
		slog.String("position_id", pos.ID),
		slog.String("decision_id", d.ID),
		slog.String("risk_tier", string(tier)),
		slog.Bool("requires_approval", requiresApproval),
	)

	if requiresApproval && s.notifier != nil {
		_ = s.notifier.Event(ctx, domain.AuditEvent{
			EventType:  domain.AuditHumanApprovalRequired,
			PositionID: &pos.ID,
			Actor:      actorSystem,
			Payload: map[string]any{
				"decision_index": d.DecisionIndex,
				"risk_tier":      string(tier),
			},
		})
	}

	return d, nil
}

// Get returns a decision by its (position, index) key.
func (s *DecisionService) Get(ctx context.Context, positionID string, index uint32) (domain.Decision, error) {
	return s.stores.Decisions.Get(ctx, positionID, index)
}

// List returns a position's decisions, newest first.
func (s *DecisionService) List(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Decision, error) {
	return s.stores.Decisions.ListByPosition(ctx, positionID, opts)
}

// recordViolation appends a policy_violation ledger event outside the
// proposal transaction. Violations are observations, not state changes; a
// failed append must not mask the violation itself.
func (s *DecisionService) recordViolation(ctx context.Context, positionID, actor, rule string, extra map[string]any) {
	metrics.PolicyViolations.WithLabelValues(rule).Inc()

	payload := map[string]any{"rule": rule}
	for k, v := range extra {
		payload[k] = v
	}
	if err := appendAudit(ctx, s.stores, domain.AuditEvent{
		EventType:  domain.AuditPolicyViolation,
		PositionID: &positionID,
		Actor:      actor,
		Payload:    payload,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "decision_service: record violation",
			slog.String("rule", rule),
			slog.String("error", err.Error()),
		)
	}
}
