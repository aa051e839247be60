package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/domain"
)

var (
	// ErrInvariantViolation is fatal for the transaction that raised it: the
	// mutation is aborted in full, never clamped or rounded away.
	ErrInvariantViolation = errors.New("INVARIANT_VIOLATION: total stake would fall below aggregate belief locks")

	// ErrLockCapExceeded means the projected lock rate passed the hard cap.
	// The caller must deposit more stake or close offsetting positions.
	ErrLockCapExceeded = errors.New("required lock rate exceeds cap: deposit stake or close offsetting positions")
)

// InsufficientCollateralError carries the exact deficit so a caller can
// prompt a top-up instead of retrying blindly.
type InsufficientCollateralError struct {
	Shortfall int64
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral: supplied skim is short by %d", e.Shortfall)
}

const bpsDenominator = 10_000

// CollateralService is the ledger beneath the market: it sizes belief locks
// and enforces, at commit time, that no agent is ever under-collateralized.
type CollateralService struct {
	agents    domain.AgentStore
	positions domain.PositionStore
	logger    *zap.Logger
}

func NewCollateralService(as domain.AgentStore, ps domain.PositionStore, logger *zap.Logger) *CollateralService {
	return &CollateralService{agents: as, positions: ps, logger: logger}
}

// ProjectRequiredLock returns the minimum belief lock the ledger will accept
// for a position with the given total notional. The rate starts at the base
// and rises once the agent's stake is already below its aggregate locks; a
// rate past the hard cap refuses the trade outright with ErrLockCapExceeded.
func (s *CollateralService) ProjectRequiredLock(ctx context.Context, agent *domain.Agent, positionNotional int64, params *domain.ProtocolParams) (int64, error) {
	if positionNotional < 0 {
		return 0, fmt.Errorf("negative position notional %d", positionNotional)
	}
	locks, err := s.positions.SumLocksByAgent(ctx, agent.ID)
	if err != nil {
		return 0, err
	}

	rateBps := params.BaseSkimRateBps
	if deficit := locks - agent.TotalStake; deficit > 0 {
		if agent.TotalStake <= 0 {
			return 0, ErrLockCapExceeded
		}
		rateBps += params.BaseSkimRateBps * deficit / agent.TotalStake
		if rateBps > params.MaxSkimRateBps {
			return 0, ErrLockCapExceeded
		}
	}
	return mulDiv(positionNotional, rateBps, bpsDenominator), nil
}

// Commit applies the lock and stake deltas atomically: the stake change is
// written only after verifying the post-commit invariant
// total_stake >= sum(belief_lock). Callers hold the agent's row lock, invoke
// Commit before persisting the position's lock change, and share its
// transaction, so a later failure rolls everything back together.
func (s *CollateralService) Commit(ctx context.Context, agentID uuid.UUID, locksDelta, stakeDelta int64) error {
	agent, err := s.agents.GetForUpdate(ctx, agentID)
	if err != nil {
		return err
	}
	locks, err := s.positions.SumLocksByAgent(ctx, agentID)
	if err != nil {
		return err
	}

	newStake := agent.TotalStake + stakeDelta
	newLocks := locks + locksDelta
	if newStake < 0 || newLocks < 0 || newStake < newLocks {
		s.logger.Warn("collateral commit rejected",
			zap.String("agent_id", agentID.String()),
			zap.Int64("stake", newStake),
			zap.Int64("locks", newLocks))
		return ErrInvariantViolation
	}
	if stakeDelta != 0 {
		return s.agents.AddStake(ctx, agentID, stakeDelta)
	}
	return nil
}
