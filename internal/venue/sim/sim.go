// Package sim provides an in-process paper venue. It applies a fixed,
// configurable slippage to swaps and remembers every decision ID it has seen,
// so retried executions are no-ops at the venue boundary.
package sim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fabrknt/flowguard/internal/domain"
)

// Config controls the sim venue's behaviour.
type Config struct {
	// SlippageBps is the deterministic slippage applied to every swap.
	SlippageBps uint16
	// FailSwaps makes every new swap fail with ErrVenueUnavailable. Used by
	// tests to exercise the rejection and compensation paths.
	FailSwaps bool
	// FailIncreases makes every new liquidity increase fail.
	FailIncreases bool
}

// Venue is a deterministic in-memory implementation of domain.VenueAdapter.
// It is safe for concurrent use.
type Venue struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	swaps     map[string]domain.SwapResult // decision ID -> prior result
	decreases map[string]bool
	increases map[string]bool
}

// New creates a sim venue.
func New(cfg Config, log *slog.Logger) *Venue {
	return &Venue{
		cfg:       cfg,
		log:       log.With(slog.String("component", "venue.sim")),
		swaps:     make(map[string]domain.SwapResult),
		decreases: make(map[string]bool),
		increases: make(map[string]bool),
	}
}

// Swap applies the configured slippage to the requested amount. A repeated
// decision ID returns the original result without re-executing.
func (v *Venue) Swap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if prior, ok := v.swaps[req.DecisionID]; ok {
		v.log.Debug("swap replay ignored", slog.String("decision_id", req.DecisionID))
		return prior, nil
	}

	if v.cfg.FailSwaps {
		return domain.SwapResult{}, &domain.VenueError{Op: "swap", Err: domain.ErrVenueUnavailable}
	}

	slippage := v.cfg.SlippageBps
	// amount * (10000 - slippage) / 10000
	out := req.Amount / 10_000 * uint64(10_000-slippage)
	rem := req.Amount % 10_000 * uint64(10_000-slippage) / 10_000
	actualOut := out + rem

	res := domain.SwapResult{
		Executed:          true,
		ActualSlippageBps: &slippage,
		ActualAmountOut:   &actualOut,
	}
	v.swaps[req.DecisionID] = res

	v.log.Info("swap executed",
		slog.String("decision_id", req.DecisionID),
		slog.Uint64("amount_in", req.Amount),
		slog.Uint64("amount_out", actualOut),
		slog.Int("slippage_bps", int(slippage)),
	)
	return res, nil
}

// DecreaseLiquidity removes liquidity from the current range. Idempotent on
// decision ID.
func (v *Venue) DecreaseLiquidity(ctx context.Context, req domain.DecreaseRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.decreases[req.DecisionID] {
		return nil
	}
	v.decreases[req.DecisionID] = true

	v.log.Info("liquidity decreased",
		slog.String("decision_id", req.DecisionID),
		slog.String("position", req.PositionRef),
		slog.Int("tick_lower", int(req.TickLower)),
		slog.Int("tick_upper", int(req.TickUpper)),
	)
	return nil
}

// IncreaseLiquidity adds liquidity into the target range. Idempotent on
// decision ID.
func (v *Venue) IncreaseLiquidity(ctx context.Context, req domain.IncreaseRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.increases[req.DecisionID] {
		return nil
	}

	if v.cfg.FailIncreases {
		return &domain.VenueError{Op: "increase_liquidity", Err: domain.ErrVenueUnavailable}
	}
	v.increases[req.DecisionID] = true

	v.log.Info("liquidity increased",
		slog.String("decision_id", req.DecisionID),
		slog.String("position", req.PositionRef),
		slog.Int("tick_lower", int(req.TickLower)),
		slog.Int("tick_upper", int(req.TickUpper)),
	)
	return nil
}

// CollectFees pays out exactly what was requested.
func (v *Venue) CollectFees(ctx context.Context, req domain.FeeCollectRequest) (uint64, uint64, error) {
	v.log.Info("fees collected",
		slog.String("position", req.PositionRef),
		slog.Uint64("amount_a", req.RequestedA),
		slog.Uint64("amount_b", req.RequestedB),
	)
	return req.RequestedA, req.RequestedB, nil
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Venue)(nil)
