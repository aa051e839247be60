package consensus

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/domain"
)

func submission(agentID uuid.UUID, belief, meta float64) domain.BeliefSubmission {
	return domain.BeliefSubmission{
		AgentID:        agentID,
		Belief:         belief,
		MetaPrediction: meta,
		IsActive:       true,
	}
}

func TestLeaveOneOutAggregate_WeightedMean(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{
		submission(a, 0.8, 0.7),
		submission(b, 0.2, 0.3),
	}
	weights := map[uuid.UUID]float64{a: 0.75, b: 0.25}

	belief, meta, err := LeaveOneOutAggregate(subs, uuid.Nil, weights)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if math.Abs(belief-0.65) > 1e-9 {
		t.Fatalf("expected belief aggregate 0.65, got %f", belief)
	}
	if math.Abs(meta-0.6) > 1e-9 {
		t.Fatalf("expected meta aggregate 0.6, got %f", meta)
	}
}

func TestLeaveOneOutAggregate_ExcludesAgent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{
		submission(a, 0.9, 0.9),
		submission(b, 0.1, 0.1),
	}

	belief, _, err := LeaveOneOutAggregate(subs, a, map[uuid.UUID]float64{b: 1.0})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if math.Abs(belief-0.1) > 1e-9 {
		t.Fatalf("expected aggregate to carry only the remaining agent, got %f", belief)
	}
}

func TestLeaveOneOutAggregate_ExcludedAgentInWeights(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.5, 0.5), submission(b, 0.5, 0.5)}

	_, _, err := LeaveOneOutAggregate(subs, a, map[uuid.UUID]float64{a: 0.5, b: 0.5})
	var excluded *ExcludedWeightError
	if !errors.As(err, &excluded) {
		t.Fatalf("expected ExcludedWeightError, got %v", err)
	}
	if excluded.AgentID != a {
		t.Fatalf("expected error to name the excluded agent, got %s", excluded.AgentID)
	}
}

func TestLeaveOneOutAggregate_MissingWeight(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.5, 0.5), submission(b, 0.5, 0.5)}

	_, _, err := LeaveOneOutAggregate(subs, uuid.Nil, map[uuid.UUID]float64{a: 1.0})
	var missing *MissingWeightError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingWeightError, got %v", err)
	}
	if missing.AgentID != b {
		t.Fatalf("expected error to name the weightless agent, got %s", missing.AgentID)
	}
}

func TestLeaveOneOutAggregate_WeightSumOff(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.5, 0.5), submission(b, 0.5, 0.5)}

	_, _, err := LeaveOneOutAggregate(subs, uuid.Nil, map[uuid.UUID]float64{a: 0.6, b: 0.5})
	if !errors.Is(err, ErrWeightSum) {
		t.Fatalf("expected ErrWeightSum, got %v", err)
	}
}

func TestLeaveOneOutAggregate_EmptyPrior(t *testing.T) {
	belief, meta, err := LeaveOneOutAggregate(nil, uuid.Nil, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if belief != 0.5 || meta != 0.5 {
		t.Fatalf("expected uninformative prior (0.5, 0.5), got (%f, %f)", belief, meta)
	}
}

func TestLeaveOneOutAggregate_InactiveIgnored(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	inactive := submission(b, 0.9, 0.9)
	inactive.IsActive = false
	subs := []domain.BeliefSubmission{submission(a, 0.3, 0.3), inactive}

	belief, _, err := LeaveOneOutAggregate(subs, uuid.Nil, map[uuid.UUID]float64{a: 1.0})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if math.Abs(belief-0.3) > 1e-9 {
		t.Fatalf("expected inactive submission ignored, got %f", belief)
	}
}

func TestLeaveOneOutAggregate_ClampsExtremes(t *testing.T) {
	a := uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.0, 1.0)}

	belief, meta, err := LeaveOneOutAggregate(subs, uuid.Nil, map[uuid.UUID]float64{a: 1.0})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if belief != Epsilon {
		t.Fatalf("expected belief clamped to epsilon, got %g", belief)
	}
	if meta != 1-Epsilon {
		t.Fatalf("expected meta clamped to 1-epsilon, got %g", meta)
	}
}

func TestStakeWeights_Proportional(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.5, 0.5), submission(b, 0.5, 0.5)}
	stakes := map[uuid.UUID]int64{a: 300, b: 100}

	weights := StakeWeights(subs, stakes, uuid.Nil)
	if math.Abs(weights[a]-0.75) > 1e-9 || math.Abs(weights[b]-0.25) > 1e-9 {
		t.Fatalf("expected 0.75/0.25, got %f/%f", weights[a], weights[b])
	}
}

func TestStakeWeights_EqualFallback(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.5, 0.5), submission(b, 0.5, 0.5)}

	weights := StakeWeights(subs, map[uuid.UUID]int64{}, uuid.Nil)
	if math.Abs(weights[a]-0.5) > 1e-9 || math.Abs(weights[b]-0.5) > 1e-9 {
		t.Fatalf("expected equal weights when nobody holds stake, got %f/%f", weights[a], weights[b])
	}
}

func TestStakeWeights_ExcludedOmitted(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	subs := []domain.BeliefSubmission{submission(a, 0.5, 0.5), submission(b, 0.5, 0.5)}
	stakes := map[uuid.UUID]int64{a: 300, b: 100}

	weights := StakeWeights(subs, stakes, a)
	if _, ok := weights[a]; ok {
		t.Fatal("expected excluded agent absent from the weight map")
	}
	if math.Abs(weights[b]-1.0) > 1e-9 {
		t.Fatalf("expected remaining agent to carry full weight, got %f", weights[b])
	}
}
