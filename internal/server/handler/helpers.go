package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fabrknt/flowguard/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a service-layer error onto an HTTP status and writes
// it. Unknown errors become an opaque 500 so internals never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), domainMessage(err))
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrCapExceeded),
		errors.Is(err, domain.ErrSlippageBoundInvalid),
		errors.Is(err, domain.ErrPaymentTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrPositionNotActive),
		errors.Is(err, domain.ErrAlreadyApproved),
		errors.Is(err, domain.ErrApprovalNotRequired),
		errors.Is(err, domain.ErrNoFeesToCollect),
		errors.Is(err, domain.ErrCounterOverflow):
		return http.StatusConflict
	case errors.Is(err, domain.ErrApprovalRequired),
		errors.Is(err, domain.ErrUnauthorizedApprover),
		errors.Is(err, domain.ErrInvalidFacilitator):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusLocked
	case errors.Is(err, domain.ErrSlippageExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrVenueUnavailable):
		return http.StatusBadGateway
	default:
		var verr *domain.VenueError
		if errors.As(err, &verr) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func domainMessage(err error) string {
	if domainStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// positionSlot parses the {owner}/{index} pair that addresses a position.
func positionSlot(r *http.Request) (string, uint8, error) {
	owner := pathParam(r, "owner")
	if owner == "" {
		return "", 0, errors.New("owner path parameter required")
	}
	idx, err := strconv.ParseUint(pathParam(r, "index"), 10, 8)
	if err != nil {
		return "", 0, errors.New("index must be an integer in [0,255]")
	}
	return owner, uint8(idx), nil
}

// decisionIndex parses the {index} parameter addressing a decision within a
// position's sequence.
func decisionIndex(r *http.Request) (uint32, error) {
	idx, err := strconv.ParseUint(pathParam(r, "index"), 10, 32)
	if err != nil {
		return 0, errors.New("index must be an unsigned integer")
	}
	return uint32(idx), nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
