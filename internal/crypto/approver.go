// Package crypto implements the approver capability credential: a secp256k1
// signature over a decision identifier that an executor presents to prove it
// acts as the recorded human approver. Authorization is an explicit credential
// check, not an ambient signer list.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// approvalPrefix domain-separates approval digests from any other message an
// approver key might sign.
const approvalPrefix = "flowguard-approval:"

// ApprovalDigest returns the 32-byte digest an approver signs for a decision.
func ApprovalDigest(decisionID string) []byte {
	return ethcrypto.Keccak256([]byte(approvalPrefix + decisionID))
}

// SignApproval produces a hex-encoded 65-byte approval credential for the
// decision using the approver's private key.
func SignApproval(privateKeyHex, decisionID string) (string, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return "", fmt.Errorf("crypto/approver: invalid private key: %w", err)
	}

	sig, err := ethcrypto.Sign(ApprovalDigest(decisionID), pk)
	if err != nil {
		return "", fmt.Errorf("crypto/approver: sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverApprover recovers the signer address from an approval credential.
// The execution coordinator compares this against the approver recorded on
// the decision.
func RecoverApprover(decisionID, credentialHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(credentialHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto/approver: decode credential: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto/approver: credential must be 65 bytes, got %d", len(sig))
	}

	pub, err := ethcrypto.SigToPub(ApprovalDigest(decisionID), sig)
	if err != nil {
		return "", fmt.Errorf("crypto/approver: recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// AddressFromKey derives the approver address for a hex private key. Used by
// operator tooling and tests.
func AddressFromKey(privateKeyHex string) (string, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return "", fmt.Errorf("crypto/approver: invalid private key: %w", err)
	}
	return addressOf(&pk.PublicKey), nil
}

func addressOf(pub *ecdsa.PublicKey) string {
	return ethcrypto.PubkeyToAddress(*pub).Hex()
}
