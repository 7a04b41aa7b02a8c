package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/venue/sim"
)

func newFeeService(env *testEnv, venue domain.VenueAdapter) *FeeService {
	return NewFeeService(env.tx, env.stores, env.locks, venue, testProtocolConfig(), false, testLogger())
}

func setupPositionWithFees(t *testing.T, env *testEnv, feesA, feesB uint64) domain.Position {
	t.Helper()
	pos := setupPosition(t, env)
	pos.FeesEarnedA = feesA
	pos.FeesEarnedB = feesB
	require.NoError(t, env.positions.Update(context.Background(), pos))
	pos, err := env.positions.Get(context.Background(), pos.Owner, pos.PositionIndex)
	require.NoError(t, err)
	return pos
}

func TestCollectFees(t *testing.T) {
	env := newTestEnv()
	setupPositionWithFees(t, env, 1_000_000, 500_000)

	svc := newFeeService(env, simVenue(sim.Config{}))

	out, err := svc.Collect(context.Background(), "owner-1", 0)
	require.NoError(t, err)

	// Protocol fee is 50 bps.
	assert.Equal(t, uint64(5_000), out.FeeA)
	assert.Equal(t, uint64(2_500), out.FeeB)
	assert.Equal(t, uint64(995_000), out.OwnerA)
	assert.Equal(t, uint64(497_500), out.OwnerB)

	// Accrual counters are zeroed.
	pos, err := env.positions.Get(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	assert.Zero(t, pos.FeesEarnedA)
	assert.Zero(t, pos.FeesEarnedB)

	assert.Contains(t, env.audit.eventTypes(), domain.AuditFeesCollected)
}

func TestCollectNothingAccrued(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)

	svc := newFeeService(env, simVenue(sim.Config{}))

	_, err := svc.Collect(context.Background(), "owner-1", 0)
	assert.ErrorIs(t, err, domain.ErrNoFeesToCollect)
}

func TestCollectLargeAccrualKeepsPrecision(t *testing.T) {
	env := newTestEnv()
	// Large enough that amount*bps overflows 64 bits; the fee share must be
	// taken through a widened intermediate.
	setupPositionWithFees(t, env, 1<<61, 0)

	svc := newFeeService(env, simVenue(sim.Config{}))

	out, err := svc.Collect(context.Background(), "owner-1", 0)
	require.NoError(t, err)

	// (1<<61) * 50 / 10_000, computed without wrapping.
	assert.Equal(t, uint64(11_529_215_046_068_469), out.FeeA)
	assert.Equal(t, uint64(2_294_313_794_167_625_483), out.OwnerA)
	assert.Equal(t, uint64(1)<<61, out.FeeA+out.OwnerA)
}

func TestCollectClosedPosition(t *testing.T) {
	env := newTestEnv()
	setupPositionWithFees(t, env, 100, 0)
	require.NoError(t, newPositionService(env).Close(context.Background(), "owner-1", 0))

	svc := newFeeService(env, simVenue(sim.Config{}))

	_, err := svc.Collect(context.Background(), "owner-1", 0)
	assert.ErrorIs(t, err, domain.ErrPositionNotActive)
}

func TestCollectPausedPosition(t *testing.T) {
	env := newTestEnv()
	setupPositionWithFees(t, env, 100, 0)
	require.NoError(t, newPositionService(env).Pause(context.Background(), "owner-1", 0))

	svc := newFeeService(env, simVenue(sim.Config{}))

	_, err := svc.Collect(context.Background(), "owner-1", 0)
	assert.ErrorIs(t, err, domain.ErrPositionNotActive)
}

func TestCollectLocalOnlySkipsVenue(t *testing.T) {
	env := newTestEnv()
	setupPositionWithFees(t, env, 10_000, 0)

	svc := NewFeeService(env.tx, env.stores, env.locks, nil, testProtocolConfig(), true, testLogger())

	out, err := svc.Collect(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_950), out.OwnerA)
}
