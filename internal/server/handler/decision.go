package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/service"
)

// DecisionService defines the proposal methods the handler requires.
type DecisionService interface {
	Propose(ctx context.Context, p service.ProposeParams) (domain.Decision, error)
	Get(ctx context.Context, positionID string, index uint32) (domain.Decision, error)
	List(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Decision, error)
}

// ApprovalService defines the human oversight methods the handler requires.
type ApprovalService interface {
	Approve(ctx context.Context, positionID string, index uint32, credential string) (domain.Decision, error)
	Reject(ctx context.Context, positionID string, index uint32, credential, reason string) error
	Cancel(ctx context.Context, positionID string, index uint32, actor string) error
}

// DecisionHandler serves rebalance-decision HTTP endpoints.
type DecisionHandler struct {
	decisions DecisionService
	approvals ApprovalService
	logger    *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler with the given services and logger.
func NewDecisionHandler(decisions DecisionService, approvals ApprovalService, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{
		decisions: decisions,
		approvals: approvals,
		logger:    logger,
	}
}

// proposeRequest is the JSON body for submitting a rebalance proposal.
type proposeRequest struct {
	Owner         string `json:"owner"`
	PositionIndex uint8  `json:"position_index"`

	NewTickLower  int32           `json:"new_tick_lower"`
	NewTickUpper  int32           `json:"new_tick_upper"`
	NewPriceLower decimal.Decimal `json:"new_price_lower"`
	NewPriceUpper decimal.Decimal `json:"new_price_upper"`

	ModelVersion string `json:"model_version"`
	ModelHash    string `json:"model_hash"`

	Confidence    uint16   `json:"confidence"`
	Sentiment     int16    `json:"sentiment"`
	Volatility    uint16   `json:"volatility"`
	WhaleActivity uint16   `json:"whale_activity"`
	OnChain       []uint64 `json:"on_chain_indicators"`

	Reason string `json:"reason"`
}

// ProposeDecision records a model-originated rebalance proposal.
// POST /api/decisions
func (h *DecisionHandler) ProposeDecision(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	d, err := h.decisions.Propose(r.Context(), service.ProposeParams{
		Owner:         req.Owner,
		PositionIndex: req.PositionIndex,
		NewTickLower:  req.NewTickLower,
		NewTickUpper:  req.NewTickUpper,
		NewPriceLower: req.NewPriceLower,
		NewPriceUpper: req.NewPriceUpper,
		AI: domain.AIMetrics{
			ModelVersion:      req.ModelVersion,
			ModelHash:         req.ModelHash,
			Confidence:        req.Confidence,
			Sentiment:         req.Sentiment,
			Volatility:        req.Volatility,
			WhaleActivity:     req.WhaleActivity,
			OnChainIndicators: req.OnChain,
		},
		Reason: req.Reason,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: propose decision failed",
			slog.String("owner", req.Owner),
			slog.Int("index", int(req.PositionIndex)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// listDecisionsResponse wraps the list decisions response.
type listDecisionsResponse struct {
	Decisions []domain.Decision `json:"decisions"`
}

// ListDecisions returns a position's decisions, newest first.
// GET /api/positions/{id}/decisions
func (h *DecisionHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	decisions, err := h.decisions.List(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if decisions == nil {
		decisions = []domain.Decision{}
	}

	writeJSON(w, http.StatusOK, listDecisionsResponse{Decisions: decisions})
}

// GetDecision returns a single decision by position and sequence index.
// GET /api/positions/{id}/decisions/{index}
func (h *DecisionHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	index, err := decisionIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.decisions.Get(r.Context(), id, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// approveRequest carries the reviewer's capability signature.
type approveRequest struct {
	Credential string `json:"credential"`
}

// ApproveDecision records human sign-off on a flagged decision.
// POST /api/positions/{id}/decisions/{index}/approve
func (h *DecisionHandler) ApproveDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	index, err := decisionIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}

	d, err := h.approvals.Approve(r.Context(), id, index, req.Credential)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: approve decision failed",
			slog.String("position_id", id),
			slog.Int("index", int(index)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// rejectRequest carries the reviewer's credential and rejection reason.
type rejectRequest struct {
	Credential string `json:"credential"`
	Reason     string `json:"reason"`
}

// RejectDecision terminally rejects a flagged decision.
// POST /api/positions/{id}/decisions/{index}/reject
func (h *DecisionHandler) RejectDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	index, err := decisionIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}

	if err := h.approvals.Reject(r.Context(), id, index, req.Credential, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// cancelRequest names the actor withdrawing the proposal.
type cancelRequest struct {
	Actor string `json:"actor"`
}

// CancelDecision withdraws a pending decision without executing it.
// POST /api/positions/{id}/decisions/{index}/cancel
func (h *DecisionHandler) CancelDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	index, err := decisionIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.approvals.Cancel(r.Context(), id, index, req.Actor); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
