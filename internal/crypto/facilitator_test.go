package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyFacilitatorSignature(t *testing.T) {
	priv, addr := newKey(t)

	sig, err := SignPayment(priv, "pay-123")
	require.NoError(t, err)

	v := FacilitatorVerifier{}
	assert.NoError(t, v.VerifySignature(context.Background(), "pay-123", addr, sig))
}

func TestVerifyRejectsWrongFacilitator(t *testing.T) {
	priv, _ := newKey(t)
	_, other := newKey(t)

	sig, err := SignPayment(priv, "pay-123")
	require.NoError(t, err)

	v := FacilitatorVerifier{}
	assert.Error(t, v.VerifySignature(context.Background(), "pay-123", other, sig))
}

func TestVerifyRejectsSignatureOverOtherPayment(t *testing.T) {
	priv, addr := newKey(t)

	sig, err := SignPayment(priv, "pay-123")
	require.NoError(t, err)

	v := FacilitatorVerifier{}
	assert.Error(t, v.VerifySignature(context.Background(), "pay-456", addr, sig))
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	v := FacilitatorVerifier{}
	assert.Error(t, v.VerifySignature(context.Background(), "pay-123", "0xabc", "0xdeadbeef"))
	assert.Error(t, v.VerifySignature(context.Background(), "pay-123", "0xabc", "not-hex"))
}
