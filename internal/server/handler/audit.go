package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fabrknt/flowguard/internal/domain"
)

// AuditLog defines the ledger read methods the handler requires.
type AuditLog interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEvent, error)
	ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.AuditEvent, error)
}

// AuditHandler serves read-only views over the append-only audit ledger.
type AuditHandler struct {
	ledger AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler with the given ledger and logger.
func NewAuditHandler(ledger AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		ledger: ledger,
		logger: logger,
	}
}

// listAuditResponse wraps the audit listing response.
type listAuditResponse struct {
	Events []domain.AuditEvent `json:"events"`
}

// ListEvents returns a page of the ledger in append order.
// GET /api/audit
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.ledger.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit events failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if events == nil {
		events = []domain.AuditEvent{}
	}

	writeJSON(w, http.StatusOK, listAuditResponse{Events: events})
}

// ListPositionEvents returns the ledger entries for one position.
// GET /api/positions/{id}/audit
func (h *AuditHandler) ListPositionEvents(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	events, err := h.ledger.ListByPosition(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if events == nil {
		events = []domain.AuditEvent{}
	}

	writeJSON(w, http.StatusOK, listAuditResponse{Events: events})
}
