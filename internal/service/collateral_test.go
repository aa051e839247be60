package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/domain"
)

func setupCollateralTest() (*CollateralService, *mockAgentStore, *mockPositionStore) {
	agents := newMockAgentStore()
	positions := newMockPositionStore()
	svc := NewCollateralService(agents, positions, zap.NewNop())
	return svc, agents, positions
}

func TestCollateral_ProjectRequiredLock_BaseRate(t *testing.T) {
	svc, agents, _ := setupCollateralTest()
	ctx := context.Background()
	params := domain.DefaultProtocolParams()

	agent := &domain.Agent{ExternalID: "bot-1", TotalStake: 1000}
	_ = agents.Create(ctx, agent)

	// Fully collateralized agent pays the base 2%: 100 notional locks 2.
	lock, err := svc.ProjectRequiredLock(ctx, agent, 100, &params)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if lock != 2 {
		t.Fatalf("expected lock 2 at the base rate, got %d", lock)
	}
}

func TestCollateral_ProjectRequiredLock_UnderwaterRateRises(t *testing.T) {
	svc, agents, positions := setupCollateralTest()
	ctx := context.Background()
	params := domain.DefaultProtocolParams()

	agent := &domain.Agent{ExternalID: "bot-1", TotalStake: 100}
	_ = agents.Create(ctx, agent)
	_ = positions.Create(ctx, &domain.Position{
		AgentID: agent.ID, PoolID: uuid.New(), Side: domain.SideLong,
		TokenBalance: 10, BeliefLock: 200,
	})

	// deficit = 200 - 100 = 100, rate = 200 * (1 + 100/100) = 400 bps.
	lock, err := svc.ProjectRequiredLock(ctx, agent, 1000, &params)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if lock != 40 {
		t.Fatalf("expected lock 40 at the doubled rate, got %d", lock)
	}
}

func TestCollateral_ProjectRequiredLock_CapRefusal(t *testing.T) {
	svc, agents, positions := setupCollateralTest()
	ctx := context.Background()
	params := domain.DefaultProtocolParams()

	// deficit/stake = 15x pushes the rate to 3200 bps, past the 3000 cap.
	agent := &domain.Agent{ExternalID: "bot-1", TotalStake: 100}
	_ = agents.Create(ctx, agent)
	_ = positions.Create(ctx, &domain.Position{
		AgentID: agent.ID, PoolID: uuid.New(), Side: domain.SideLong,
		TokenBalance: 10, BeliefLock: 1600,
	})

	if _, err := svc.ProjectRequiredLock(ctx, agent, 1000, &params); err != ErrLockCapExceeded {
		t.Fatalf("expected ErrLockCapExceeded, got %v", err)
	}
}

func TestCollateral_ProjectRequiredLock_ZeroStakeUnderwater(t *testing.T) {
	svc, agents, positions := setupCollateralTest()
	ctx := context.Background()
	params := domain.DefaultProtocolParams()

	agent := &domain.Agent{ExternalID: "bot-1", TotalStake: 0}
	_ = agents.Create(ctx, agent)
	_ = positions.Create(ctx, &domain.Position{
		AgentID: agent.ID, PoolID: uuid.New(), Side: domain.SideLong,
		TokenBalance: 10, BeliefLock: 50,
	})

	if _, err := svc.ProjectRequiredLock(ctx, agent, 1000, &params); err != ErrLockCapExceeded {
		t.Fatalf("expected ErrLockCapExceeded for underwater zero-stake agent, got %v", err)
	}
}

func TestCollateral_Commit_EnforcesInvariant(t *testing.T) {
	svc, agents, positions := setupCollateralTest()
	ctx := context.Background()

	agent := &domain.Agent{ExternalID: "bot-1", TotalStake: 100}
	_ = agents.Create(ctx, agent)
	_ = positions.Create(ctx, &domain.Position{
		AgentID: agent.ID, PoolID: uuid.New(), Side: domain.SideLong,
		TokenBalance: 10, BeliefLock: 80,
	})

	// Locking 30 more with no stake change would leave 110 locked on 100.
	if err := svc.Commit(ctx, agent.ID, 30, 0); err != ErrInvariantViolation {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	// Locking 20 is exactly at the boundary and passes.
	if err := svc.Commit(ctx, agent.ID, 20, 0); err != nil {
		t.Fatalf("expected boundary commit to pass, got %v", err)
	}
}

func TestCollateral_Commit_StakeDelta(t *testing.T) {
	svc, agents, _ := setupCollateralTest()
	ctx := context.Background()

	agent := &domain.Agent{ExternalID: "bot-1", TotalStake: 0}
	_ = agents.Create(ctx, agent)

	// Consumed skim arrives as a deposit and is locked in the same commit.
	if err := svc.Commit(ctx, agent.ID, 5, 5); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, _ := agents.GetByID(ctx, agent.ID)
	if got.TotalStake != 5 {
		t.Fatalf("expected stake 5 after commit, got %d", got.TotalStake)
	}
}
