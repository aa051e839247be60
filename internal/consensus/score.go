package consensus

import (
	"math"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/domain"
)

// binaryKL is the Kullback-Leibler divergence between two Bernoulli
// distributions with success probabilities p and q.
func binaryKL(p, q float64) float64 {
	p, q = Clamp(p), Clamp(q)
	return p*math.Log(p/q) + (1-p)*math.Log((1-p)/(1-q))
}

// BinaryJSD is the Jensen-Shannon divergence between two Bernoulli
// distributions. Symmetric, bounded by ln 2.
func BinaryJSD(p, q float64) float64 {
	m := (Clamp(p) + Clamp(q)) / 2
	return (binaryKL(p, m) + binaryKL(q, m)) / 2
}

// Disagreement measures how far the submitted beliefs sit from a reference
// aggregate: the mean Jensen-Shannon divergence of each active belief
// against ref. Zero means full convergence.
func Disagreement(subs []domain.BeliefSubmission, ref float64) float64 {
	var sum float64
	var n int
	for _, s := range subs {
		if !s.IsActive {
			continue
		}
		sum += BinaryJSD(s.Belief, ref)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Certainty maps disagreement entropy into [0,1]: 1 at full convergence,
// 0 at maximal disagreement (JSD = ln 2).
func Certainty(disagreement float64) float64 {
	c := 1 - disagreement/math.Ln2
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// AgentScore is one agent's signed informativeness score for an epoch.
type AgentScore struct {
	AgentID uuid.UUID
	Score   float64
}

// LOOFn returns the leave-one-out (belief, meta) aggregate excluding the
// given agent.
type LOOFn func(excluded uuid.UUID) (belief, meta float64, err error)

// ScoreAgents assigns each active submitter a peer-relative signed score.
// The raw score rewards beliefs close to the settled aggregate and
// meta-predictions close to the leave-one-out belief aggregate (a BTS-style
// pairing: accuracy plus prediction of peers). Subtracting the peer mean
// makes the scores signed and relative, so redistribution has both payers
// and payees whenever anyone was more informative than anyone else.
func ScoreAgents(subs []domain.BeliefSubmission, aggregate float64, loo LOOFn) ([]AgentScore, error) {
	var active []domain.BeliefSubmission
	for _, s := range subs {
		if s.IsActive {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	raw := make([]float64, len(active))
	var mean float64
	for i, s := range active {
		looBelief, _, err := loo(s.AgentID)
		if err != nil {
			return nil, err
		}
		accuracy := -binaryKL(aggregate, s.Belief)
		prediction := -binaryKL(looBelief, s.MetaPrediction)
		raw[i] = accuracy + prediction
		mean += raw[i]
	}
	mean /= float64(len(active))

	scores := make([]AgentScore, len(active))
	for i, s := range active {
		scores[i] = AgentScore{AgentID: s.AgentID, Score: raw[i] - mean}
	}
	return scores, nil
}
