package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veritaslabs/veritas/internal/api/middleware"
	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/service"
)

type TradeHandler struct {
	svc *service.TradeService
}

func NewTradeHandler(svc *service.TradeService) *TradeHandler {
	return &TradeHandler{svc: svc}
}

type tradeRequest struct {
	Side         string `json:"side"`
	Kind         string `json:"kind"`
	TokenAmount  int64  `json:"token_amount"`
	Notional     int64  `json:"notional"`
	SuppliedSkim int64  `json:"supplied_skim"`
}

// Record applies a confirmed buy or sell against the pool identified in the
// path and returns the updated position receipt.
func (h *TradeHandler) Record(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	poolID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := h.svc.RecordTrade(r.Context(), service.TradeRequest{
		AgentID:      agent.ID,
		PoolID:       poolID,
		Side:         domain.Side(req.Side),
		Kind:         domain.TradeKind(req.Kind),
		TokenAmount:  req.TokenAmount,
		Notional:     req.Notional,
		SuppliedSkim: req.SuppliedSkim,
	})
	if err != nil {
		var insufficient *service.InsufficientCollateralError
		switch {
		case errors.Is(err, service.ErrInvalidSide),
			errors.Is(err, service.ErrInvalidTradeKind),
			errors.Is(err, service.ErrNonPositiveAmount),
			errors.Is(err, service.ErrNegativeSkim):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrPoolNotFound):
			writeError(w, http.StatusNotFound, "pool not found")
		case errors.Is(err, service.ErrMarketClosed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrNoPosition),
			errors.Is(err, service.ErrInsufficientBalance):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":     insufficient.Error(),
				"shortfall": insufficient.Shortfall,
			})
		case errors.Is(err, service.ErrLockCapExceeded):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to record trade")
		}
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}
