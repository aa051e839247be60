package handlers

import (
	"errors"
	"net/http"

	"github.com/veritaslabs/veritas/internal/service"
)

type EpochHandler struct {
	svc *service.EpochService
}

func NewEpochHandler(svc *service.EpochService) *EpochHandler {
	return &EpochHandler{svc: svc}
}

// RebaseStatus reports the settlement gates for a belief without mutating
// anything.
func (h *EpochHandler) RebaseStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	status, err := h.svc.RebaseStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrBeliefNotFound) {
			writeError(w, http.StatusNotFound, "belief not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to evaluate settlement status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Settle triggers an epoch settlement manually. The background worker calls
// the same path; a concurrent run returns 409.
func (h *EpochHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.svc.Settle(r.Context(), id)
	if err != nil {
		var notEligible *service.NotEligibleError
		switch {
		case errors.Is(err, service.ErrBeliefNotFound):
			writeError(w, http.StatusNotFound, "belief not found")
		case errors.Is(err, service.ErrSettlementInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &notEligible):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  notEligible.Error(),
				"status": notEligible.Status,
			})
		default:
			writeError(w, http.StatusInternalServerError, "settlement failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}
