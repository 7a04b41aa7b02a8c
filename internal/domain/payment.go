package domain

import "time"

// PaymentStatus tracks an access payment through verification and settlement.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusVerified PaymentStatus = "verified"
	PaymentStatusSettled  PaymentStatus = "settled"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentCurrency is the settlement currency of an access payment.
type PaymentCurrency string

const (
	CurrencySOL  PaymentCurrency = "SOL"
	CurrencyUSDC PaymentCurrency = "USDC"
	CurrencyUSDT PaymentCurrency = "USDT"
)

// AccessPayment records a pay-per-access payment that grants time-limited API
// access. Wire-level verification of the facilitator signature happens outside
// the core; this record is the durable result.
type AccessPayment struct {
	PaymentID   string // hex-encoded 32-byte payment identifier
	Payer       string
	PayerWallet string

	Amount   uint64
	Currency PaymentCurrency
	Status   PaymentStatus

	Facilitator    string
	FacilitatorSig *string
	SettlementRef  *string

	Endpoint   string
	APIVersion string

	AccessGranted   bool
	AccessExpiresAt *time.Time

	RequestedAt time.Time
	VerifiedAt  *time.Time
	SettledAt   *time.Time
}
