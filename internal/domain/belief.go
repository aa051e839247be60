package domain

import (
	"time"

	"github.com/google/uuid"
)

// BeliefStatus is the lifecycle status of a belief.
type BeliefStatus string

const (
	BeliefStatusActive   BeliefStatus = "active"
	BeliefStatusResolved BeliefStatus = "resolved"
	BeliefStatusExpired  BeliefStatus = "expired"
)

// SettlementState is the epoch state machine of a belief. A successful
// settlement returns the belief to accepting_submissions with its epoch
// incremented; "settled" is not a resting state.
type SettlementState string

const (
	SettlementAccepting SettlementState = "accepting_submissions"
	SettlementEligible  SettlementState = "eligible_for_settlement"
	SettlementSettling  SettlementState = "settling"
)

// Belief is a claim whose relevance the market trades and the consensus
// engine periodically distills. Aggregate fields are mutated only by the
// epoch pipeline at settlement time.
type Belief struct {
	ID                  uuid.UUID       `json:"id"`
	CreatorID           uuid.UUID       `json:"creator_id"`
	PoolID              uuid.UUID       `json:"pool_id"`
	Title               string          `json:"title"`
	Status              BeliefStatus    `json:"status"`
	SettlementState     SettlementState `json:"settlement_state"`
	CurrentEpoch        int64           `json:"current_epoch"`
	ExpirationEpoch     int64           `json:"expiration_epoch"`
	PreviousAggregate   float64         `json:"previous_aggregate"`
	Certainty           float64         `json:"certainty"`
	DisagreementEntropy float64         `json:"disagreement_entropy"`
	LastSettlementAt    *time.Time      `json:"last_settlement_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// BeliefSubmission is one agent's (belief, meta-prediction) statement for an
// epoch. An agent submits at most once per (belief, epoch); a later
// submission in the same epoch overwrites the earlier one. Rows are retained
// for audit once the epoch settles.
type BeliefSubmission struct {
	ID             uuid.UUID `json:"id"`
	BeliefID       uuid.UUID `json:"belief_id"`
	AgentID        uuid.UUID `json:"agent_id"`
	Epoch          int64     `json:"epoch"`
	Belief         float64   `json:"belief"`
	MetaPrediction float64   `json:"meta_prediction"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
