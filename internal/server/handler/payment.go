package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/service"
)

// AccessService defines the payment-gating methods the handler requires.
type AccessService interface {
	VerifyPayment(ctx context.Context, p service.VerifyPaymentParams) (domain.AccessPayment, error)
	HasAccess(ctx context.Context, payer, endpoint string) (bool, error)
}

// PaymentHandler serves payment verification and access-check endpoints.
type PaymentHandler struct {
	access AccessService
	logger *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler with the given service and logger.
func NewPaymentHandler(access AccessService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		access: access,
		logger: logger,
	}
}

// verifyPaymentRequest is the JSON body for submitting a payment claim.
type verifyPaymentRequest struct {
	PaymentID   string `json:"payment_id"`
	Payer       string `json:"payer"`
	PayerWallet string `json:"payer_wallet"`

	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`

	Facilitator    string  `json:"facilitator"`
	FacilitatorSig *string `json:"facilitator_sig,omitempty"`

	Endpoint   string `json:"endpoint"`
	APIVersion string `json:"api_version"`
}

// VerifyPayment validates a payment claim and opens the payer's access window.
// POST /api/payments
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Payer == "" {
		writeError(w, http.StatusBadRequest, "payer is required")
		return
	}

	payment, err := h.access.VerifyPayment(r.Context(), service.VerifyPaymentParams{
		PaymentID:      req.PaymentID,
		Payer:          req.Payer,
		PayerWallet:    req.PayerWallet,
		Amount:         req.Amount,
		Currency:       domain.PaymentCurrency(req.Currency),
		Facilitator:    req.Facilitator,
		FacilitatorSig: req.FacilitatorSig,
		Endpoint:       req.Endpoint,
		APIVersion:     req.APIVersion,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: verify payment failed",
			slog.String("payer", req.Payer),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, payment)
}

// accessResponse reports whether the payer currently has access.
type accessResponse struct {
	Payer    string `json:"payer"`
	Endpoint string `json:"endpoint"`
	Granted  bool   `json:"granted"`
}

// CheckAccess reports whether the payer's access window is open.
// GET /api/payments/access?payer=...&endpoint=...
func (h *PaymentHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	payer := r.URL.Query().Get("payer")
	if payer == "" {
		writeError(w, http.StatusBadRequest, "payer query parameter required")
		return
	}
	endpoint := r.URL.Query().Get("endpoint")

	granted, err := h.access.HasAccess(r.Context(), payer, endpoint)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accessResponse{
		Payer:    payer,
		Endpoint: endpoint,
		Granted:  granted,
	})
}
