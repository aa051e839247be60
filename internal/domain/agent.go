package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered market participant. TotalStake is denominated in the
// smallest currency unit and is mutated only by confirmed deposits and
// withdrawals from the external ledger and by epoch redistribution.
type Agent struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	TotalStake int64     `json:"total_stake"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AgentPortfolio is an agent together with its derived position figures.
type AgentPortfolio struct {
	Agent
	ActivePositionCount int   `json:"active_position_count"`
	TotalLocked         int64 `json:"total_locked"`
}
