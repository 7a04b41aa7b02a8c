package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/service"
)

// ExecutionService defines the execution methods the handler requires.
type ExecutionService interface {
	Execute(ctx context.Context, p service.ExecuteParams) (domain.Decision, error)
	MarkFailed(ctx context.Context, positionID string, index uint32, reason string) error
}

// ExecutionHandler serves decision-execution HTTP endpoints.
type ExecutionHandler struct {
	executions ExecutionService
	logger     *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler with the given service and logger.
func NewExecutionHandler(executions ExecutionService, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
		logger:     logger,
	}
}

// executeRequest is the JSON body for running a pending decision.
type executeRequest struct {
	Owner         string `json:"owner"`
	PositionIndex uint8  `json:"position_index"`
	DecisionIndex uint32 `json:"decision_index"`

	Credential         string  `json:"credential,omitempty"`
	MaxSlippageBps     uint16  `json:"max_slippage_bps,omitempty"`
	ExecutionSignature *string `json:"execution_signature,omitempty"`
}

// ExecuteDecision runs a pending decision against the venue and commits the
// resulting position state.
// POST /api/executions
func (h *ExecutionHandler) ExecuteDecision(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	d, err := h.executions.Execute(r.Context(), service.ExecuteParams{
		Owner:              req.Owner,
		PositionIndex:      req.PositionIndex,
		DecisionIndex:      req.DecisionIndex,
		Credential:         req.Credential,
		MaxSlippageBps:     req.MaxSlippageBps,
		ExecutionSignature: req.ExecutionSignature,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: execute decision failed",
			slog.String("owner", req.Owner),
			slog.Int("position_index", int(req.PositionIndex)),
			slog.Int("decision_index", int(req.DecisionIndex)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// failRequest carries the operator's reason for abandoning a decision.
type failRequest struct {
	Reason string `json:"reason"`
}

// FailDecision marks a pending decision failed without touching the position.
// POST /api/positions/{id}/decisions/{index}/fail
func (h *ExecutionHandler) FailDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	index, err := decisionIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.executions.MarkFailed(r.Context(), id, index, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}
