package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/service"
)

// PositionService defines the position lifecycle methods the handler requires.
type PositionService interface {
	Create(ctx context.Context, p service.CreatePositionParams) (domain.Position, error)
	Get(ctx context.Context, owner string, index uint8) (domain.Position, error)
	GetByID(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
	Pause(ctx context.Context, owner string, index uint8) error
	Resume(ctx context.Context, owner string, index uint8) error
	Close(ctx context.Context, owner string, index uint8) error
}

// FeeService defines the fee collection method the handler requires.
type FeeService interface {
	Collect(ctx context.Context, owner string, index uint8) (service.FeeCollection, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	fees      FeeService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given services and logger.
func NewPositionHandler(positions PositionService, fees FeeService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		fees:      fees,
		logger:    logger,
	}
}

// createPositionRequest is the JSON body for registering a new position.
type createPositionRequest struct {
	Owner         string `json:"owner"`
	PositionIndex uint8  `json:"position_index"`

	TokenA      string `json:"token_a"`
	TokenB      string `json:"token_b"`
	Venue       string `json:"venue"`
	PoolAddress string `json:"pool_address"`

	TickLower  int32           `json:"tick_lower"`
	TickUpper  int32           `json:"tick_upper"`
	PriceLower decimal.Decimal `json:"price_lower"`
	PriceUpper decimal.Decimal `json:"price_upper"`

	LiquidityAmount  decimal.Decimal `json:"liquidity_amount"`
	TotalValueLocked uint64          `json:"total_value_locked"`

	AutoRebalance           bool   `json:"auto_rebalance"`
	MinRebalanceIntervalSec int64  `json:"min_rebalance_interval_sec"`
	MaxPositionSize         uint64 `json:"max_position_size"`
	MaxSingleTrade          uint64 `json:"max_single_trade"`
}

// CreatePosition registers a new managed position.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" || req.TokenA == "" || req.TokenB == "" {
		writeError(w, http.StatusBadRequest, "owner, token_a and token_b are required")
		return
	}

	pos, err := h.positions.Create(r.Context(), service.CreatePositionParams{
		Owner:                req.Owner,
		PositionIndex:        req.PositionIndex,
		TokenA:               req.TokenA,
		TokenB:               req.TokenB,
		VenueKind:            domain.VenueKind(req.Venue),
		PoolAddress:          req.PoolAddress,
		TickLower:            req.TickLower,
		TickUpper:            req.TickUpper,
		PriceLower:           req.PriceLower,
		PriceUpper:           req.PriceUpper,
		LiquidityAmount:      req.LiquidityAmount,
		TotalValueLocked:     req.TotalValueLocked,
		AutoRebalance:        req.AutoRebalance,
		MinRebalanceInterval: time.Duration(req.MinRebalanceIntervalSec) * time.Second,
		MaxPositionSize:      req.MaxPositionSize,
		MaxSingleTrade:       req.MaxSingleTrade,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create position failed",
			slog.String("owner", req.Owner),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a page of an owner's positions.
// GET /api/positions?owner=...&limit=&offset=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.positions.List(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single position addressed by its (owner, index) slot.
// GET /api/positions/{owner}/{index}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner, index, err := positionSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.positions.Get(r.Context(), owner, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// GetPositionByID returns a single position addressed by its identifier.
// GET /api/positions/id/{id}
func (h *PositionHandler) GetPositionByID(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id path parameter required")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// PausePosition suspends rebalancing for an active position.
// POST /api/positions/{owner}/{index}/pause
func (h *PositionHandler) PausePosition(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", h.positions.Pause)
}

// ResumePosition reactivates a paused position.
// POST /api/positions/{owner}/{index}/resume
func (h *PositionHandler) ResumePosition(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", h.positions.Resume)
}

// ClosePosition retires a position permanently.
// POST /api/positions/{owner}/{index}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "close", h.positions.Close)
}

func (h *PositionHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string, uint8) error) {
	owner, index, err := positionSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := fn(r.Context(), owner, index); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position transition failed",
			slog.String("op", op),
			slog.String("owner", owner),
			slog.Int("index", int(index)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": op + "d"})
}

// collectFeesResponse reports the amounts paid out by a fee collection.
type collectFeesResponse struct {
	OwnerA uint64 `json:"owner_a"`
	OwnerB uint64 `json:"owner_b"`
	FeeA   uint64 `json:"fee_a"`
	FeeB   uint64 `json:"fee_b"`
}

// CollectFees claims the position's accrued fees.
// POST /api/positions/{owner}/{index}/fees/collect
func (h *PositionHandler) CollectFees(w http.ResponseWriter, r *http.Request) {
	owner, index, err := positionSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.fees.Collect(r.Context(), owner, index)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: collect fees failed",
			slog.String("owner", owner),
			slog.Int("index", int(index)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, collectFeesResponse{
		OwnerA: out.OwnerA,
		OwnerB: out.OwnerB,
		FeeA:   out.FeeA,
		FeeB:   out.FeeB,
	})
}
