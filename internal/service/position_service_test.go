package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testProtocolConfig() config.ProtocolConfig {
	return config.Defaults().Protocol
}

func validCreateParams() CreatePositionParams {
	return CreatePositionParams{
		Owner:            "owner-1",
		PositionIndex:    0,
		TokenA:           "SOL",
		TokenB:           "USDC",
		VenueKind:        domain.VenueOrca,
		PoolAddress:      "pool-1",
		TickLower:        -100,
		TickUpper:        100,
		PriceLower:       decimal.NewFromInt(90),
		PriceUpper:       decimal.NewFromInt(110),
		LiquidityAmount:  decimal.NewFromInt(1_000_000),
		TotalValueLocked: 10_000_000_000,
	}
}

func newPositionService(env *testEnv) *PositionService {
	return NewPositionService(env.tx, env.stores, env.locks, testProtocolConfig(), testLogger())
}

func TestCreatePosition(t *testing.T) {
	env := newTestEnv()
	svc := newPositionService(env)

	pos, err := svc.Create(context.Background(), validCreateParams())
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	// Zero caps inherit the protocol-wide defaults.
	assert.Equal(t, uint64(1_000_000_000_000), pos.MaxPositionSize)
	assert.Equal(t, uint64(100_000_000_000), pos.MaxSingleTrade)
	assert.Equal(t, time.Hour, pos.MinRebalanceInterval)

	assert.Equal(t, []domain.AuditEventType{domain.AuditPositionCreated}, env.audit.eventTypes())
}

func TestCreatePositionRejectsBadRange(t *testing.T) {
	env := newTestEnv()
	svc := newPositionService(env)

	p := validCreateParams()
	p.TickLower, p.TickUpper = 100, -100
	_, err := svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	p = validCreateParams()
	p.PriceLower, p.PriceUpper = decimal.NewFromInt(110), decimal.NewFromInt(90)
	_, err = svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	// Equal bounds are not a valid range either.
	p = validCreateParams()
	p.PriceLower = p.PriceUpper
	_, err = svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestCreatePositionRejectsOversizedCaps(t *testing.T) {
	env := newTestEnv()
	svc := newPositionService(env)

	p := validCreateParams()
	p.MaxPositionSize = 1_000_000_000_001
	_, err := svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrCapExceeded)

	p = validCreateParams()
	p.MaxSingleTrade = 100_000_000_001
	_, err = svc.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrCapExceeded)
}

func TestCreatePositionDuplicateSlot(t *testing.T) {
	env := newTestEnv()
	svc := newPositionService(env)

	_, err := svc.Create(context.Background(), validCreateParams())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validCreateParams())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestPositionLifecycle(t *testing.T) {
	env := newTestEnv()
	svc := newPositionService(env)
	ctx := context.Background()

	_, err := svc.Create(ctx, validCreateParams())
	require.NoError(t, err)

	// Pause is only valid from active.
	require.NoError(t, svc.Pause(ctx, "owner-1", 0))
	assert.ErrorIs(t, svc.Pause(ctx, "owner-1", 0), domain.ErrInvalidState)

	// Resume returns to active.
	require.NoError(t, svc.Resume(ctx, "owner-1", 0))
	pos, err := svc.Get(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)

	// Close is terminal; nothing transitions out of it.
	require.NoError(t, svc.Close(ctx, "owner-1", 0))
	assert.ErrorIs(t, svc.Close(ctx, "owner-1", 0), domain.ErrInvalidState)
	assert.ErrorIs(t, svc.Resume(ctx, "owner-1", 0), domain.ErrInvalidState)

	assert.Equal(t,
		[]domain.AuditEventType{domain.AuditPositionCreated, domain.AuditPositionClosed},
		env.audit.eventTypes())
}

func TestPositionOperationsRequireLock(t *testing.T) {
	env := newTestEnv()
	svc := newPositionService(env)
	ctx := context.Background()

	pos, err := svc.Create(ctx, validCreateParams())
	require.NoError(t, err)

	// Simulate another holder of the position scope.
	unlock, err := env.locks.Acquire(ctx, pos.LockKey(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	assert.ErrorIs(t, svc.Pause(ctx, "owner-1", 0), domain.ErrLockHeld)
	assert.ErrorIs(t, svc.Close(ctx, "owner-1", 0), domain.ErrLockHeld)
}
