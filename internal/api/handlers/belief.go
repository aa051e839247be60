package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veritaslabs/veritas/internal/amm"
	"github.com/veritaslabs/veritas/internal/api/middleware"
	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/service"
)

type BeliefHandler struct {
	beliefs     *service.BeliefService
	submissions *service.SubmissionService
}

func NewBeliefHandler(beliefs *service.BeliefService, submissions *service.SubmissionService) *BeliefHandler {
	return &BeliefHandler{beliefs: beliefs, submissions: submissions}
}

type createBeliefRequest struct {
	Title           string `json:"title"`
	ExpirationEpoch int64  `json:"expiration_epoch"`
	SeedReserve     int64  `json:"seed_reserve"`
	SeedSupply      int64  `json:"seed_supply"`
}

func (h *BeliefHandler) Create(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createBeliefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	belief, err := h.beliefs.Create(r.Context(), service.CreateBeliefRequest{
		CreatorID:       agent.ID,
		Title:           req.Title,
		ExpirationEpoch: req.ExpirationEpoch,
		SeedReserve:     req.SeedReserve,
		SeedSupply:      req.SeedSupply,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTitleRequired),
			errors.Is(err, service.ErrBadExpiration),
			errors.Is(err, service.ErrBadSeedLiquidity):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to create belief")
		}
		return
	}

	writeJSON(w, http.StatusCreated, belief)
}

func (h *BeliefHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	belief, err := h.beliefs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "belief not found")
		return
	}
	writeJSON(w, http.StatusOK, belief)
}

func (h *BeliefHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	belief, err := h.beliefs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "belief not found")
		return
	}

	pool, err := h.beliefs.GetPool(r.Context(), belief.PoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load pool")
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{
		Pool:                pool,
		ImpliedRelevancePPM: amm.ImpliedRelevancePPM(pool.SqrtPriceLongX96, pool.SqrtPriceShortX96),
	})
}

type poolResponse struct {
	*domain.Pool
	ImpliedRelevancePPM int64 `json:"implied_relevance_ppm"`
}

type submitRequest struct {
	Belief         float64 `json:"belief"`
	MetaPrediction float64 `json:"meta_prediction"`
	Epoch          int64   `json:"epoch"`
}

// Submit records the authenticated agent's probability report for the
// belief's current epoch. Resubmission in the same epoch overwrites.
func (h *BeliefHandler) Submit(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	beliefID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.submissions.Submit(r.Context(), agent.ID, beliefID, req.Belief, req.MetaPrediction, req.Epoch)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidProbability):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrBeliefNotFound):
			writeError(w, http.StatusNotFound, "belief not found")
		case errors.Is(err, service.ErrWrongEpoch), errors.Is(err, service.ErrBeliefNotAccepting):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to record submission")
		}
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}
