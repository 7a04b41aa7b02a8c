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
)

// PositionService manages the position registry: creation, lifecycle
// transitions, and reads.
type PositionService struct {
	tx     domain.TxManager
	stores domain.Stores
	locks  domain.LockManager
	cfg    config.ProtocolConfig
	logger *slog.Logger

	now func() time.Time
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	tx domain.TxManager,
	stores domain.Stores,
	locks domain.LockManager,
	cfg config.ProtocolConfig,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		tx:     tx,
		stores: stores,
		locks:  locks,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CreatePositionParams carries the caller-supplied fields for a new position.
// Zero caps and a zero interval inherit the protocol-wide defaults.
type CreatePositionParams struct {
	Owner         string
	PositionIndex uint8

	TokenA      string
	TokenB      string
	VenueKind   domain.VenueKind
	PoolAddress string

	TickLower  int32
	TickUpper  int32
	PriceLower decimal.Decimal
	PriceUpper decimal.Decimal

	LiquidityAmount  decimal.Decimal
	TotalValueLocked uint64

	AutoRebalance        bool
	MinRebalanceInterval time.Duration
	MaxPositionSize      uint64
	MaxSingleTrade       uint64
}

// Create registers a new managed position. The range must be ordered, the
// per-position caps must not exceed the protocol maxima, and the (owner,
// index) slot must be free.
func (s *PositionService) Create(ctx context.Context, p CreatePositionParams) (domain.Position, error) {
	if p.TickLower >= p.TickUpper || !p.PriceLower.LessThan(p.PriceUpper) {
		return domain.Position{}, domain.ErrInvalidRange
	}
	if p.PriceLower.IsNegative() {
		return domain.Position{}, domain.ErrInvalidRange
	}
	if p.MaxPositionSize > s.cfg.MaxPositionSize || p.MaxSingleTrade > s.cfg.MaxSingleTradeSize {
		return domain.Position{}, domain.ErrCapExceeded
	}

	now := s.now().UTC()
	pos := domain.Position{
		ID:            uuid.NewString(),
		Owner:         p.Owner,
		PositionIndex: p.PositionIndex,

		TokenA:      p.TokenA,
		TokenB:      p.TokenB,
		VenueKind:   p.VenueKind,
		PoolAddress: p.PoolAddress,

		TickLower:  p.TickLower,
		TickUpper:  p.TickUpper,
		PriceLower: p.PriceLower,
		PriceUpper: p.PriceUpper,

		LiquidityAmount:  p.LiquidityAmount,
		TotalValueLocked: p.TotalValueLocked,

		Status:               domain.PositionStatusActive,
		AutoRebalance:        p.AutoRebalance,
		MinRebalanceInterval: p.MinRebalanceInterval,
		MaxPositionSize:      p.MaxPositionSize,
		MaxSingleTrade:       p.MaxSingleTrade,

		CreatedAt: now,
		UpdatedAt: now,
	}
	if pos.MinRebalanceInterval == 0 {
		pos.MinRebalanceInterval = s.cfg.MinRebalanceInterval()
	}
	if pos.MaxPositionSize == 0 {
		pos.MaxPositionSize = s.cfg.MaxPositionSize
	}
	if pos.MaxSingleTrade == 0 {
		pos.MaxSingleTrade = s.cfg.MaxSingleTradeSize
	}

	unlock, err := s.locks.Acquire(ctx, pos.LockKey(), lockTTL)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Positions.Create(ctx, pos); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditPositionCreated,
			PositionID: &pos.ID,
			Actor:      p.Owner,
			Payload: map[string]any{
				"position_index": pos.PositionIndex,
				"venue":          string(pos.VenueKind),
				"pool":           pos.PoolAddress,
				"tick_lower":     pos.TickLower,
				"tick_upper":     pos.TickUpper,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "position created",
		slog.String("position_id", pos.ID),
		slog.String("owner", pos.Owner),
		slog.Int("index", int(pos.PositionIndex)),
	)
	return pos, nil
}

// Get returns a position by its (owner, index) key.
func (s *PositionService) Get(ctx context.Context, owner string, index uint8) (domain.Position, error) {
	return s.stores.Positions.Get(ctx, owner, index)
}

// GetByID returns a position by its ID.
func (s *PositionService) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return s.stores.Positions.GetByID(ctx, id)
}

// List returns the owner's positions.
func (s *PositionService) List(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	return s.stores.Positions.ListByOwner(ctx, owner, opts)
}

// Pause suspends automated rebalancing for an active position.
func (s *PositionService) Pause(ctx context.Context, owner string, index uint8) error {
	return s.transition(ctx, owner, index, domain.PositionStatusActive, domain.PositionStatusPaused, nil)
}

// Resume reactivates a paused position.
func (s *PositionService) Resume(ctx context.Context, owner string, index uint8) error {
	return s.transition(ctx, owner, index, domain.PositionStatusPaused, domain.PositionStatusActive, nil)
}

// Close terminates a position. Closing is allowed from any non-terminal state
// and is recorded in the ledger.
func (s *PositionService) Close(ctx context.Context, owner string, index uint8) error {
	unlock, err := s.locks.Acquire(ctx, domain.Position{Owner: owner, PositionIndex: index}.LockKey(), lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	pos, err := s.stores.Positions.Get(ctx, owner, index)
	if err != nil {
		return err
	}
	if pos.Status.Terminal() {
		return domain.ErrInvalidState
	}

	now := s.now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.UpdatedAt = now

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Positions.Update(ctx, pos); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditPositionClosed,
			PositionID: &pos.ID,
			Actor:      owner,
			Payload: map[string]any{
				"rebalance_count": pos.RebalanceCount,
				"fees_earned_a":   pos.FeesEarnedA,
				"fees_earned_b":   pos.FeesEarnedB,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("position_service: close: %w", err)
	}

	s.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("owner", owner),
	)
	return nil
}

// transition moves a position between two non-terminal states under its lock.
func (s *PositionService) transition(ctx context.Context, owner string, index uint8, from, to domain.PositionStatus, payload map[string]any) error {
	unlock, err := s.locks.Acquire(ctx, domain.Position{Owner: owner, PositionIndex: index}.LockKey(), lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	pos, err := s.stores.Positions.Get(ctx, owner, index)
	if err != nil {
		return err
	}
	if pos.Status != from {
		return domain.ErrInvalidState
	}

	pos.Status = to
	pos.UpdatedAt = s.now().UTC()

	if err := s.stores.Positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("position_service: transition %s -> %s: %w", from, to, err)
	}

	s.logger.InfoContext(ctx, "position state changed",
		slog.String("position_id", pos.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return nil
}
