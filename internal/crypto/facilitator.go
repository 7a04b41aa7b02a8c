package crypto

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/fabrknt/flowguard/internal/domain"
)

// paymentPrefix domain-separates payment digests from approval digests.
const paymentPrefix = "flowguard-payment:"

// PaymentDigest returns the 32-byte digest a facilitator signs for a payment.
func PaymentDigest(paymentID string) []byte {
	return ethcrypto.Keccak256([]byte(paymentPrefix + paymentID))
}

// SignPayment produces a hex-encoded facilitator signature for the payment.
// Used by operator tooling and tests.
func SignPayment(privateKeyHex, paymentID string) (string, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return "", fmt.Errorf("crypto/facilitator: invalid private key: %w", err)
	}

	sig, err := ethcrypto.Sign(PaymentDigest(paymentID), pk)
	if err != nil {
		return "", fmt.Errorf("crypto/facilitator: sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// FacilitatorVerifier verifies facilitator signatures by signer recovery: the
// address recovered from the signature over the payment digest must match the
// facilitator address on the claim.
type FacilitatorVerifier struct{}

var _ domain.FacilitatorVerifier = FacilitatorVerifier{}

// VerifySignature checks that sig was produced by facilitator over the
// payment's digest.
func (FacilitatorVerifier) VerifySignature(_ context.Context, paymentID, facilitator, sig string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return fmt.Errorf("crypto/facilitator: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return fmt.Errorf("crypto/facilitator: signature must be 65 bytes, got %d", len(raw))
	}

	pub, err := ethcrypto.SigToPub(PaymentDigest(paymentID), raw)
	if err != nil {
		return fmt.Errorf("crypto/facilitator: recover public key: %w", err)
	}

	signer := ethcrypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(signer, facilitator) {
		return fmt.Errorf("crypto/facilitator: signer %s does not match facilitator %s", signer, facilitator)
	}
	return nil
}
