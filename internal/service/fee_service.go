package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/domain"
)

// FeeService claims accrued trading fees for a position, taking the protocol
// cut off the top.
type FeeService struct {
	tx     domain.TxManager
	stores domain.Stores
	locks  domain.LockManager
	venue  domain.VenueAdapter
	cfg    config.ProtocolConfig
	logger *slog.Logger

	localOnly bool

	now func() time.Time
}

// NewFeeService creates a FeeService. venue may be nil only when localOnly is
// set.
func NewFeeService(
	tx domain.TxManager,
	stores domain.Stores,
	locks domain.LockManager,
	venue domain.VenueAdapter,
	cfg config.ProtocolConfig,
	localOnly bool,
	logger *slog.Logger,
) *FeeService {
	return &FeeService{
		tx:        tx,
		stores:    stores,
		locks:     locks,
		venue:     venue,
		cfg:       cfg,
		localOnly: localOnly,
		logger:    logger,
		now:       time.Now,
	}
}

// FeeCollection reports the amounts paid out by Collect.
type FeeCollection struct {
	OwnerA uint64
	OwnerB uint64
	FeeA   uint64
	FeeB   uint64
}

// Collect claims the position's accrued fees from the venue, deducts the
// protocol fee, zeroes the accrual counters, and records the payout in the
// ledger.
func (s *FeeService) Collect(ctx context.Context, owner string, index uint8) (FeeCollection, error) {
	unlock, err := s.locks.Acquire(ctx, domain.Position{Owner: owner, PositionIndex: index}.LockKey(), lockTTL)
	if err != nil {
		return FeeCollection{}, err
	}
	defer unlock()

	pos, err := s.stores.Positions.Get(ctx, owner, index)
	if err != nil {
		return FeeCollection{}, err
	}
	if pos.Status != domain.PositionStatusActive {
		return FeeCollection{}, domain.ErrPositionNotActive
	}
	if pos.FeesEarnedA == 0 && pos.FeesEarnedB == 0 {
		return FeeCollection{}, domain.ErrNoFeesToCollect
	}

	collectedA, collectedB := pos.FeesEarnedA, pos.FeesEarnedB
	if !s.localOnly {
		if s.venue == nil {
			return FeeCollection{}, domain.ErrVenueUnavailable
		}
		collectedA, collectedB, err = s.venue.CollectFees(ctx, domain.FeeCollectRequest{
			PositionRef: pos.PoolAddress,
			RequestedA:  pos.FeesEarnedA,
			RequestedB:  pos.FeesEarnedB,
		})
		if err != nil {
			return FeeCollection{}, fmt.Errorf("fee_service: collect: %w", err)
		}
	}

	feeBps := uint64(s.cfg.ProtocolFeeBps)
	out := FeeCollection{
		FeeA: bpsShare(collectedA, feeBps),
		FeeB: bpsShare(collectedB, feeBps),
	}
	out.OwnerA = collectedA - out.FeeA
	out.OwnerB = collectedB - out.FeeB

	now := s.now().UTC()
	pos.FeesEarnedA = 0
	pos.FeesEarnedB = 0
	pos.UpdatedAt = now

	err = s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Positions.Update(ctx, pos); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType:  domain.AuditFeesCollected,
			PositionID: &pos.ID,
			Actor:      owner,
			Payload: map[string]any{
				"owner_a":       out.OwnerA,
				"owner_b":       out.OwnerB,
				"protocol_a":    out.FeeA,
				"protocol_b":    out.FeeB,
				"fee_bps":       s.cfg.ProtocolFeeBps,
				"fee_recipient": s.cfg.FeeRecipient,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return FeeCollection{}, fmt.Errorf("fee_service: commit: %w", err)
	}

	s.logger.InfoContext(ctx, "fees collected",
		slog.String("position_id", pos.ID),
		slog.Uint64("owner_a", out.OwnerA),
		slog.Uint64("owner_b", out.OwnerB),
	)
	return out, nil
}

// bpsShare returns amount*bps/10_000 through a 128-bit intermediate so large
// accruals cannot wrap. bps is capped at 10_000 by config validation, which
// keeps the high word below the divisor.
func bpsShare(amount, bps uint64) uint64 {
	hi, lo := bits.Mul64(amount, bps)
	q, _ := bits.Div64(hi, lo, 10_000)
	return q
}
