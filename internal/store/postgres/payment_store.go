package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fabrknt/flowguard/internal/domain"
)

// PaymentStore implements domain.PaymentStore using PostgreSQL.
type PaymentStore struct {
	db DBTX
}

// NewPaymentStore creates a new PaymentStore over the given executor.
func NewPaymentStore(db DBTX) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentSelectCols = `payment_id, payer, payer_wallet, amount, currency,
	status, facilitator, facilitator_sig, settlement_ref, endpoint, api_version,
	access_granted, access_expires_at, requested_at, verified_at, settled_at`

func scanPaymentRow(row pgx.Row) (domain.AccessPayment, error) {
	var p domain.AccessPayment
	var currency, status string

	err := row.Scan(
		&p.PaymentID, &p.Payer, &p.PayerWallet, &p.Amount, &currency,
		&status, &p.Facilitator, &p.FacilitatorSig, &p.SettlementRef,
		&p.Endpoint, &p.APIVersion,
		&p.AccessGranted, &p.AccessExpiresAt,
		&p.RequestedAt, &p.VerifiedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.AccessPayment{}, err
	}
	p.Currency = domain.PaymentCurrency(currency)
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

// Create inserts a new access payment.
func (s *PaymentStore) Create(ctx context.Context, p domain.AccessPayment) error {
	const query = `
		INSERT INTO access_payments (
			payment_id, payer, payer_wallet, amount, currency,
			status, facilitator, facilitator_sig, settlement_ref, endpoint, api_version,
			access_granted, access_expires_at, requested_at, verified_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`

	_, err := s.db.Exec(ctx, query,
		p.PaymentID, p.Payer, p.PayerWallet, p.Amount, string(p.Currency),
		string(p.Status), p.Facilitator, p.FacilitatorSig, p.SettlementRef,
		p.Endpoint, p.APIVersion,
		p.AccessGranted, p.AccessExpiresAt,
		p.RequestedAt, p.VerifiedAt, p.SettledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create payment %s: %w", p.PaymentID, err)
	}
	return nil
}

// Get retrieves a payment by its identifier.
func (s *PaymentStore) Get(ctx context.Context, paymentID string) (domain.AccessPayment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+paymentSelectCols+` FROM access_payments WHERE payment_id = $1`, paymentID)

	p, err := scanPaymentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccessPayment{}, domain.ErrNotFound
		}
		return domain.AccessPayment{}, fmt.Errorf("postgres: get payment %s: %w", paymentID, err)
	}
	return p, nil
}

// LatestVerified returns the most recent verified payment for the payer and
// endpoint whose access window still covers now, or domain.ErrNotFound.
func (s *PaymentStore) LatestVerified(ctx context.Context, payer, endpoint string, now time.Time) (domain.AccessPayment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+paymentSelectCols+` FROM access_payments
		 WHERE payer = $1 AND endpoint = $2
		   AND access_granted = TRUE
		   AND status IN ('verified', 'settled')
		   AND (access_expires_at IS NULL OR access_expires_at > $3)
		 ORDER BY verified_at DESC
		 LIMIT 1`,
		payer, endpoint, now)

	p, err := scanPaymentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccessPayment{}, domain.ErrNotFound
		}
		return domain.AccessPayment{}, fmt.Errorf("postgres: latest payment for %s: %w", payer, err)
	}
	return p, nil
}
