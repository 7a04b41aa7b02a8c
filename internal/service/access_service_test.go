package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/domain"
)

type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) VerifySignature(_ context.Context, _, _, _ string) error {
	return f.err
}

func accessConfig() config.ProtocolConfig {
	cfg := testProtocolConfig()
	cfg.PaymentFacilitator = "facilitator-1"
	return cfg
}

func validPaymentParams() VerifyPaymentParams {
	sig := "fac-sig"
	return VerifyPaymentParams{
		PaymentID:      "pay-1",
		Payer:          "payer-1",
		PayerWallet:    "wallet-1",
		Amount:         2_000_000,
		Currency:       domain.CurrencyUSDC,
		Facilitator:    "facilitator-1",
		FacilitatorSig: &sig,
		Endpoint:       "/api/v1/decisions",
		APIVersion:     "v1",
	}
}

func TestVerifyPayment(t *testing.T) {
	env := newTestEnv()
	svc := NewAccessService(env.tx, env.stores, &fakeVerifier{}, accessConfig(), testLogger())

	payment, err := svc.VerifyPayment(context.Background(), validPaymentParams())
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusVerified, payment.Status)
	assert.True(t, payment.AccessGranted)
	require.NotNil(t, payment.AccessExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *payment.AccessExpiresAt, time.Minute)

	assert.Contains(t, env.audit.eventTypes(), domain.AuditPaymentReceived)

	ok, err := svc.HasAccess(context.Background(), "payer-1", "/api/v1/decisions")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPaymentTooSmall(t *testing.T) {
	env := newTestEnv()
	svc := NewAccessService(env.tx, env.stores, &fakeVerifier{}, accessConfig(), testLogger())

	p := validPaymentParams()
	p.Amount = 999_999 // minimum is 1_000_000
	_, err := svc.VerifyPayment(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrPaymentTooSmall)
}

func TestVerifyPaymentWrongFacilitator(t *testing.T) {
	env := newTestEnv()
	svc := NewAccessService(env.tx, env.stores, &fakeVerifier{}, accessConfig(), testLogger())

	p := validPaymentParams()
	p.Facilitator = "someone-else"
	_, err := svc.VerifyPayment(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrInvalidFacilitator)
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	env := newTestEnv()
	svc := NewAccessService(env.tx, env.stores, &fakeVerifier{err: errors.New("bad signature")}, accessConfig(), testLogger())

	_, err := svc.VerifyPayment(context.Background(), validPaymentParams())
	assert.ErrorIs(t, err, domain.ErrInvalidFacilitator)
}

func TestHasAccessExpired(t *testing.T) {
	env := newTestEnv()
	svc := NewAccessService(env.tx, env.stores, &fakeVerifier{}, accessConfig(), testLogger())

	_, err := svc.VerifyPayment(context.Background(), validPaymentParams())
	require.NoError(t, err)

	// Move the service clock past the access window.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	ok, err := svc.HasAccess(context.Background(), "payer-1", "/api/v1/decisions")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasAccessNoPayment(t *testing.T) {
	env := newTestEnv()
	svc := NewAccessService(env.tx, env.stores, &fakeVerifier{}, accessConfig(), testLogger())

	ok, err := svc.HasAccess(context.Background(), "unknown", "/api/v1/decisions")
	require.NoError(t, err)
	assert.False(t, ok)
}
