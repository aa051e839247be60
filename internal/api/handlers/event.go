package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/service"
)

type EventHandler struct {
	svc *service.MirrorService
}

func NewEventHandler(svc *service.MirrorService) *EventHandler {
	return &EventHandler{svc: svc}
}

type ledgerEventRequest struct {
	TxSignature  string     `json:"tx_signature"`
	Type         string     `json:"type"`
	AgentID      *uuid.UUID `json:"agent_id,omitempty"`
	PoolID       *uuid.UUID `json:"pool_id,omitempty"`
	Amount       *int64     `json:"amount,omitempty"`
	RelevancePPM *int64     `json:"relevance_ppm,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Apply ingests one confirmed ledger event. Replays of an already-applied
// signature return 200 without mutating anything.
func (h *EventHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ledgerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev := &domain.LedgerEvent{
		TxSignature:  req.TxSignature,
		Type:         domain.LedgerEventType(req.Type),
		AgentID:      req.AgentID,
		PoolID:       req.PoolID,
		Amount:       req.Amount,
		RelevancePPM: req.RelevancePPM,
		OccurredAt:   req.OccurredAt,
	}

	err := h.svc.Apply(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "applied"})
	case errors.Is(err, service.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_applied"})
	case errors.Is(err, domain.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, service.ErrWithdrawBlocked):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to apply ledger event")
	}
}
