package domain

import (
	"context"

	"github.com/google/uuid"
)

// TxManager runs fn inside a single database transaction. The transaction is
// carried on the context; store methods that take row locks require it.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AgentStore interface {
	Create(ctx context.Context, a *Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Agent, error)
	// GetForUpdate takes a row lock on the agent; it must run inside a
	// transaction started by TxManager.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Agent, error)
	AddStake(ctx context.Context, id uuid.UUID, delta int64) error
	CountActivePositions(ctx context.Context, id uuid.UUID) (int, error)
}

type BeliefStore interface {
	Create(ctx context.Context, b *Belief) error
	GetByID(ctx context.Context, id uuid.UUID) (*Belief, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Belief, error)
	ListActive(ctx context.Context) ([]Belief, error)
	// ClaimSettling atomically moves the belief into the settling state if it
	// is not already settling, or if a previous settling claim is older than
	// staleAfter seconds (deadline-based idempotency for duplicate triggers).
	ClaimSettling(ctx context.Context, id uuid.UUID, staleAfterSeconds int64) (bool, error)
	SetSettlementState(ctx context.Context, id uuid.UUID, state SettlementState) error
	// FinalizeSettlement persists the post-pipeline belief: new aggregate,
	// certainty, entropy, incremented epoch, status and settlement timestamp.
	FinalizeSettlement(ctx context.Context, b *Belief) error
}

type SubmissionStore interface {
	// Upsert inserts the submission or overwrites an existing row with the
	// same (belief_id, agent_id, epoch) key.
	Upsert(ctx context.Context, s *BeliefSubmission) error
	// LatestPerAgent returns each agent's most recent active submission for
	// the belief across all historical epochs.
	LatestPerAgent(ctx context.Context, beliefID uuid.UUID) ([]BeliefSubmission, error)
	// CountUniqueInEpoch counts distinct agents with a submission at the
	// given epoch.
	CountUniqueInEpoch(ctx context.Context, beliefID uuid.UUID, epoch int64) (int, error)
}

type PositionStore interface {
	Create(ctx context.Context, p *Position) error
	// GetForUpdate locks the (agent, pool, side) row; ErrNotFound when the
	// position does not exist yet.
	GetForUpdate(ctx context.Context, agentID, poolID uuid.UUID, side Side) (*Position, error)
	Update(ctx context.Context, p *Position) error
	ListByAgent(ctx context.Context, agentID uuid.UUID) ([]Position, error)
	ListByPool(ctx context.Context, poolID uuid.UUID) ([]Position, error)
	SumLocksByAgent(ctx context.Context, agentID uuid.UUID) (int64, error)
}

type PoolStore interface {
	Create(ctx context.Context, p *Pool) error
	GetByID(ctx context.Context, id uuid.UUID) (*Pool, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Pool, error)
	Update(ctx context.Context, p *Pool) error
	SetSettlementTx(ctx context.Context, id uuid.UUID, txSignature string) error
}

type ConfigStore interface {
	// Params returns a read-only snapshot of the live tunables.
	Params(ctx context.Context) (*ProtocolParams, error)
	// RolloverPot reads the durable rollover scalar, locking it when called
	// inside a transaction.
	RolloverPot(ctx context.Context) (int64, error)
	// SetRolloverPot persists the rollover. During redistribution it must be
	// written before any stake mutation so a crash between the two is
	// retry-idempotent rather than double-counted.
	SetRolloverPot(ctx context.Context, pot int64) error
}

type LedgerEventStore interface {
	// Insert records a processed event; ErrConflict when the tx signature
	// was already seen.
	Insert(ctx context.Context, e *LedgerEvent) error
}
