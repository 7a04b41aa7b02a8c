package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/domain"
)

// AccessService is the pay-per-access gate: verified payments grant
// time-limited access to premium endpoints.
type AccessService struct {
	tx       domain.TxManager
	stores   domain.Stores
	verifier domain.FacilitatorVerifier
	cfg      config.ProtocolConfig
	logger   *slog.Logger

	now func() time.Time
}

// NewAccessService creates an AccessService. verifier may be nil, in which
// case facilitator signatures are accepted unchecked (paper mode).
func NewAccessService(
	tx domain.TxManager,
	stores domain.Stores,
	verifier domain.FacilitatorVerifier,
	cfg config.ProtocolConfig,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		tx:       tx,
		stores:   stores,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// VerifyPaymentParams carries a payment claim submitted for verification.
type VerifyPaymentParams struct {
	PaymentID   string
	Payer       string
	PayerWallet string

	Amount   uint64
	Currency domain.PaymentCurrency

	Facilitator    string
	FacilitatorSig *string

	Endpoint   string
	APIVersion string
}

// VerifyPayment validates a payment claim against the minimum amount and the
// configured facilitator, verifies the facilitator signature, and records the
// verified payment with its access window.
func (s *AccessService) VerifyPayment(ctx context.Context, p VerifyPaymentParams) (domain.AccessPayment, error) {
	if p.Amount < s.cfg.MinAccessPayment {
		return domain.AccessPayment{}, domain.ErrPaymentTooSmall
	}
	if s.cfg.PaymentFacilitator != "" && p.Facilitator != s.cfg.PaymentFacilitator {
		return domain.AccessPayment{}, domain.ErrInvalidFacilitator
	}

	if s.verifier != nil {
		sig := ""
		if p.FacilitatorSig != nil {
			sig = *p.FacilitatorSig
		}
		if err := s.verifier.VerifySignature(ctx, p.PaymentID, p.Facilitator, sig); err != nil {
			return domain.AccessPayment{}, fmt.Errorf("access_service: %w: %w", domain.ErrInvalidFacilitator, err)
		}
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.AccessWindow())

	payment := domain.AccessPayment{
		PaymentID:   p.PaymentID,
		Payer:       p.Payer,
		PayerWallet: p.PayerWallet,

		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   domain.PaymentStatusVerified,

		Facilitator:    p.Facilitator,
		FacilitatorSig: p.FacilitatorSig,

		Endpoint:   p.Endpoint,
		APIVersion: p.APIVersion,

		AccessGranted:   true,
		AccessExpiresAt: &expires,

		RequestedAt: now,
		VerifiedAt:  &now,
	}

	err := s.tx.InTx(ctx, func(st domain.Stores) error {
		if err := st.Payments.Create(ctx, payment); err != nil {
			return err
		}
		return appendAudit(ctx, st, domain.AuditEvent{
			EventType: domain.AuditPaymentReceived,
			Actor:     p.Payer,
			Payload: map[string]any{
				"payment_id": p.PaymentID,
				"amount":     p.Amount,
				"currency":   string(p.Currency),
				"endpoint":   p.Endpoint,
				"expires_at": expires,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.AccessPayment{}, fmt.Errorf("access_service: verify payment: %w", err)
	}

	s.logger.InfoContext(ctx, "payment verified",
		slog.String("payment_id", p.PaymentID),
		slog.String("payer", p.Payer),
		slog.String("endpoint", p.Endpoint),
	)
	return payment, nil
}

// HasAccess reports whether the payer holds an unexpired access grant for the
// endpoint.
func (s *AccessService) HasAccess(ctx context.Context, payer, endpoint string) (bool, error) {
	_, err := s.stores.Payments.LatestVerified(ctx, payer, endpoint, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("access_service: has access: %w", err)
	}
	return true, nil
}
