package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrknt/flowguard/internal/crypto"
	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/liquidity"
	"github.com/fabrknt/flowguard/internal/venue/sim"
)

func newExecutionService(env *testEnv, venue domain.VenueAdapter) *ExecutionService {
	return NewExecutionService(env.tx, env.stores, env.locks, venue, liquidity.Planner{}, testProtocolConfig(), false, testLogger())
}

func simVenue(cfg sim.Config) *sim.Venue {
	return sim.New(cfg, testLogger())
}

// proposeShifted proposes a decision whose lower bound moves far enough to
// require a swap (shift 20 against a 90/10 = 9 threshold).
func proposeShifted(t *testing.T, env *testEnv) domain.Decision {
	t.Helper()
	p := validProposeParams()
	p.NewPriceLower = decimal.NewFromInt(110)
	p.NewPriceUpper = decimal.NewFromInt(140)
	d, err := newDecisionService(env).Propose(context.Background(), p)
	require.NoError(t, err)
	return d
}

func execParams(d domain.Decision) ExecuteParams {
	return ExecuteParams{
		Owner:         "owner-1",
		PositionIndex: 0,
		DecisionIndex: d.DecisionIndex,
	}
}

func TestExecuteWithoutSwap(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	executed, err := svc.Execute(context.Background(), execParams(d))
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusExecuted, executed.ExecutionStatus)
	assert.NotNil(t, executed.ExecutedAt)
	// The lower bound shifted by less than a tenth, so no swap ran.
	assert.Nil(t, executed.ExecutionSlippageBps)

	pos, err := env.positions.Get(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, d.NewTickLower, pos.TickLower)
	assert.Equal(t, d.NewTickUpper, pos.TickUpper)
	assert.True(t, pos.PriceLower.Equal(d.NewPriceLower))
	assert.Equal(t, uint32(1), pos.RebalanceCount)
	assert.False(t, pos.LastRebalanceTimestamp.IsZero())

	assert.Contains(t, env.audit.eventTypes(), domain.AuditRebalanced)
}

func TestExecuteWithSwapRecordsSlippage(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d := proposeShifted(t, env)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	executed, err := svc.Execute(context.Background(), execParams(d))
	require.NoError(t, err)

	require.NotNil(t, executed.ExecutionSlippageBps)
	assert.Equal(t, uint16(10), *executed.ExecutionSlippageBps)
}

func TestExecuteSlippageExceededKeepsPending(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d := proposeShifted(t, env)

	// Venue reports 60 bps against the 50 bps default tolerance.
	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 60}))

	_, err := svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	got, err := env.decisions.Get(context.Background(), d.PositionID, d.DecisionIndex)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusPending, got.ExecutionStatus)
	require.NotNil(t, got.ExecutionSlippageBps)
	assert.Equal(t, uint16(60), *got.ExecutionSlippageBps)

	// No partial commit: the position range is untouched.
	pos, err := env.positions.Get(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(-100), pos.TickLower)
	assert.Equal(t, uint32(0), pos.RebalanceCount)

	assert.Contains(t, env.audit.eventTypes(), domain.AuditPolicyViolation)
}

func TestExecuteSlippageBoundCappedAtTwiceDefault(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	p := execParams(d)
	p.MaxSlippageBps = 101 // default is 50; 100 is the ceiling
	_, err = svc.Execute(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrSlippageBoundInvalid)

	p.MaxSlippageBps = 100
	_, err = svc.Execute(context.Background(), p)
	assert.NoError(t, err)
}

func TestExecuteApprovalGate(t *testing.T) {
	env := newTestEnv()
	d := proposeFlagged(t, env)
	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))
	ctx := context.Background()

	// Unapproved: blocked.
	_, err := svc.Execute(ctx, execParams(d))
	assert.ErrorIs(t, err, domain.ErrApprovalRequired)

	approverKey, _ := newApproverKey(t)
	cred, err := crypto.SignApproval(approverKey, d.ID)
	require.NoError(t, err)
	_, err = newApprovalService(env).Approve(ctx, d.PositionID, d.DecisionIndex, cred)
	require.NoError(t, err)

	// A different signer than the recorded approver: blocked.
	strangerKey, _ := newApproverKey(t)
	strangerCred, err := crypto.SignApproval(strangerKey, d.ID)
	require.NoError(t, err)

	p := execParams(d)
	p.Credential = strangerCred
	_, err = svc.Execute(ctx, p)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedApprover)

	// The recorded approver's credential goes through.
	p.Credential = cred
	executed, err := svc.Execute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusExecuted, executed.ExecutionStatus)
}

func TestExecuteTerminalDecision(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	_, err = svc.Execute(context.Background(), execParams(d))
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExecuteInactivePosition(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	require.NoError(t, newPositionService(env).Pause(context.Background(), "owner-1", 0))

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))
	_, err = svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrPositionNotActive)
}

func TestExecuteCounterOverflow(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	pos, err := env.positions.Get(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	pos.RebalanceCount = math.MaxUint32
	require.NoError(t, env.positions.Update(context.Background(), pos))

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))
	_, err = svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrCounterOverflow)
}

func TestExecuteConcurrentHoldersExcluded(t *testing.T) {
	env := newTestEnv()
	pos := setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	// Another coordinator holds the position scope.
	unlock, err := env.locks.Acquire(context.Background(), pos.LockKey(), time.Minute)
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	_, err = svc.Execute(context.Background(), execParams(d))
	assert.NoError(t, err)
}

func TestExecuteIncreaseFailureCompensates(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10, FailIncreases: true}))

	_, err = svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)

	// Nothing committed: decision pending, position untouched.
	got, err := env.decisions.Get(context.Background(), d.PositionID, d.DecisionIndex)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusPending, got.ExecutionStatus)

	pos, err := env.positions.Get(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pos.RebalanceCount)
}

func TestExecuteLocalOnly(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d := proposeShifted(t, env)

	svc := NewExecutionService(env.tx, env.stores, env.locks, nil, liquidity.Planner{}, testProtocolConfig(), true, testLogger())

	executed, err := svc.Execute(context.Background(), execParams(d))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusExecuted, executed.ExecutionStatus)
}

func TestExecuteNoVenueFails(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, nil)
	_, err = svc.Execute(context.Background(), execParams(d))
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}

func TestExecuteExternalSwapRef(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d := proposeShifted(t, env)

	// Attach an external route prepared off-process.
	got, err := env.decisions.Get(context.Background(), d.PositionID, d.DecisionIndex)
	require.NoError(t, err)
	ref := "route-abc"
	got.ExternalSwapRef = &ref
	require.NoError(t, env.decisions.Update(context.Background(), got))

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	sig := "settlement-sig-1"
	p := execParams(d)
	p.ExecutionSignature = &sig
	executed, err := svc.Execute(context.Background(), p)
	require.NoError(t, err)

	require.NotNil(t, executed.ExecutionSignature)
	assert.Equal(t, sig, *executed.ExecutionSignature)
	// The venue swap never ran, so no slippage was observed.
	assert.Nil(t, executed.ExecutionSlippageBps)
}

func TestMarkFailed(t *testing.T) {
	env := newTestEnv()
	setupPosition(t, env)
	d, err := newDecisionService(env).Propose(context.Background(), validProposeParams())
	require.NoError(t, err)

	svc := newExecutionService(env, simVenue(sim.Config{SlippageBps: 10}))

	require.NoError(t, svc.MarkFailed(context.Background(), d.PositionID, d.DecisionIndex, "venue timeout"))

	got, err := env.decisions.Get(context.Background(), d.PositionID, d.DecisionIndex)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, got.ExecutionStatus)

	// The failure lands in the ledger with the reason that was given.
	assert.Contains(t, env.audit.eventTypes(), domain.AuditExecutionFailed)
	last := env.audit.events[len(env.audit.events)-1]
	assert.Equal(t, "venue timeout", last.Payload["reason"])

	// Failed is terminal.
	assert.ErrorIs(t, svc.MarkFailed(context.Background(), d.PositionID, d.DecisionIndex, "again"), domain.ErrInvalidState)
}
