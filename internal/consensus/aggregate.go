// Package consensus holds the pure math of the truth-discovery pipeline:
// leave-one-out aggregation, disagreement measurement and informativeness
// scoring. Everything here operates on snapshots and mutates nothing.
package consensus

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/domain"
)

const (
	// Epsilon bounds probabilities away from 0 and 1 before any log or
	// entropy computation.
	Epsilon = 1e-6

	// WeightSumTolerance is the allowed deviation of a weight map's sum
	// from 1.0.
	WeightSumTolerance = 1e-10
)

var ErrWeightSum = errors.New("leave-one-out weights must sum to 1.0")

// MissingWeightError reports a contributing agent absent from the weight
// map. This is a hard error, never a silent default.
type MissingWeightError struct {
	AgentID uuid.UUID
}

func (e *MissingWeightError) Error() string {
	return fmt.Sprintf("no weight supplied for contributing agent %s", e.AgentID)
}

// ExcludedWeightError reports the excluded agent appearing in the weight
// map, which the aggregation contract forbids.
type ExcludedWeightError struct {
	AgentID uuid.UUID
}

func (e *ExcludedWeightError) Error() string {
	return fmt.Sprintf("excluded agent %s must not appear in the weight map", e.AgentID)
}

// Clamp bounds p to [Epsilon, 1-Epsilon].
func Clamp(p float64) float64 {
	if p < Epsilon {
		return Epsilon
	}
	if p > 1-Epsilon {
		return 1 - Epsilon
	}
	return p
}

// LeaveOneOutAggregate computes the weighted (belief, meta-prediction)
// aggregate over each agent's latest active submission, excluding the given
// agent. Pass uuid.Nil to aggregate over everyone. With zero contributing
// submissions it returns the uninformative prior (0.5, 0.5).
func LeaveOneOutAggregate(subs []domain.BeliefSubmission, excluded uuid.UUID, weights map[uuid.UUID]float64) (belief, meta float64, err error) {
	if excluded != uuid.Nil {
		if _, ok := weights[excluded]; ok {
			return 0, 0, &ExcludedWeightError{AgentID: excluded}
		}
	}

	var contributors []domain.BeliefSubmission
	for _, s := range subs {
		if !s.IsActive || s.AgentID == excluded {
			continue
		}
		contributors = append(contributors, s)
	}
	if len(contributors) == 0 {
		return 0.5, 0.5, nil
	}

	sum := 0.0
	for _, s := range contributors {
		w, ok := weights[s.AgentID]
		if !ok {
			return 0, 0, &MissingWeightError{AgentID: s.AgentID}
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return 0, 0, fmt.Errorf("%w: got %.12f", ErrWeightSum, sum)
	}

	for _, s := range contributors {
		w := weights[s.AgentID]
		belief += w * Clamp(s.Belief)
		meta += w * Clamp(s.MetaPrediction)
	}
	return Clamp(belief), Clamp(meta), nil
}

// StakeWeights builds a stake-proportional weight map over the contributors,
// excluding the given agent. Agents with zero stake fall back to equal
// weighting when nobody holds stake.
func StakeWeights(subs []domain.BeliefSubmission, stakes map[uuid.UUID]int64, excluded uuid.UUID) map[uuid.UUID]float64 {
	var total int64
	var ids []uuid.UUID
	for _, s := range subs {
		if !s.IsActive || s.AgentID == excluded {
			continue
		}
		ids = append(ids, s.AgentID)
		total += stakes[s.AgentID]
	}
	weights := make(map[uuid.UUID]float64, len(ids))
	if len(ids) == 0 {
		return weights
	}
	if total <= 0 {
		eq := 1.0 / float64(len(ids))
		for _, id := range ids {
			weights[id] = eq
		}
		return weights
	}
	for _, id := range ids {
		weights[id] = float64(stakes[id]) / float64(total)
	}
	return weights
}
