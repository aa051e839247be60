package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/amm"
	"github.com/veritaslabs/veritas/internal/domain"
)

type tradeFixture struct {
	svc       *TradeService
	agents    *mockAgentStore
	beliefs   *mockBeliefStore
	pools     *mockPoolStore
	positions *mockPositionStore
	subs      *mockSubmissionStore
	agent     *domain.Agent
	belief    *domain.Belief
	pool      *domain.Pool
}

func setupTradeTest(t *testing.T) *tradeFixture {
	t.Helper()
	agents := newMockAgentStore()
	beliefs := newMockBeliefStore()
	pools := newMockPoolStore()
	positions := newMockPositionStore()
	subs := newMockSubmissionStore()
	cfg := newMockConfigStore()
	logger := zap.NewNop()

	collateral := NewCollateralService(agents, positions, logger)
	svc := NewTradeService(&mockTxManager{}, agents, beliefs, pools, positions, subs, cfg, collateral, logger)

	ctx := context.Background()
	agent := &domain.Agent{ExternalID: "bot-1"}
	_ = agents.Create(ctx, agent)

	sqrt := amm.SqrtPriceX96(1_000_000, 1_000_000)
	pool := &domain.Pool{
		ReserveLong: 1_000_000, SupplyLong: 1_000_000,
		ReserveShort: 1_000_000, SupplyShort: 1_000_000,
		SqrtPriceLongX96: sqrt, SqrtPriceShortX96: sqrt.Clone(),
	}
	belief := &domain.Belief{
		ID:              uuid.New(),
		Status:          domain.BeliefStatusActive,
		SettlementState: domain.SettlementAccepting,
		ExpirationEpoch: 100,
	}
	pool.BeliefID = belief.ID
	_ = pools.Create(ctx, pool)
	belief.PoolID = pool.ID
	_ = beliefs.Create(ctx, belief)

	return &tradeFixture{
		svc: svc, agents: agents, beliefs: beliefs, pools: pools,
		positions: positions, subs: subs,
		agent: agent, belief: belief, pool: pool,
	}
}

func (f *tradeFixture) buy(notional, skim int64) (*domain.TradeReceipt, error) {
	return f.svc.RecordTrade(context.Background(), TradeRequest{
		AgentID:      f.agent.ID,
		PoolID:       f.pool.ID,
		Side:         domain.SideLong,
		Kind:         domain.TradeBuy,
		TokenAmount:  notional, // unit price pool: tokens at par
		Notional:     notional,
		SuppliedSkim: skim,
	})
}

func TestTrade_BuyWithExactSkim(t *testing.T) {
	f := setupTradeTest(t)

	// 100 notional at the 2% base rate needs a skim of exactly 2.
	receipt, err := f.buy(100, 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if receipt.NewBalance != 100 {
		t.Fatalf("expected balance 100, got %d", receipt.NewBalance)
	}
	if receipt.NewLock != 2 || receipt.LockDelta != 2 {
		t.Fatalf("expected lock 2 (delta 2), got %d (delta %d)", receipt.NewLock, receipt.LockDelta)
	}

	// Consumed skim is credited to stake and locked.
	agent, _ := f.agents.GetByID(context.Background(), f.agent.ID)
	if agent.TotalStake != 2 {
		t.Fatalf("expected stake 2 after skim deposit, got %d", agent.TotalStake)
	}
}

func TestTrade_BuyRejectsShortSkim(t *testing.T) {
	f := setupTradeTest(t)

	for _, skim := range []int64{0, 1} {
		_, err := f.buy(100, skim)
		var insufficient *InsufficientCollateralError
		if !errors.As(err, &insufficient) {
			t.Fatalf("skim %d: expected InsufficientCollateralError, got %v", skim, err)
		}
		if insufficient.Shortfall != 2-skim {
			t.Fatalf("skim %d: expected shortfall %d, got %d", skim, 2-skim, insufficient.Shortfall)
		}
	}

	// Rejection mutates nothing.
	agent, _ := f.agents.GetByID(context.Background(), f.agent.ID)
	if agent.TotalStake != 0 {
		t.Fatalf("expected stake untouched after rejections, got %d", agent.TotalStake)
	}
	pool, _ := f.pools.GetByID(context.Background(), f.pool.ID)
	if pool.ReserveLong != 1_000_000 {
		t.Fatalf("expected pool untouched, got reserve %d", pool.ReserveLong)
	}
}

func TestTrade_SameSideBuyReplacesLock(t *testing.T) {
	f := setupTradeTest(t)
	ctx := context.Background()

	if _, err := f.buy(100, 2); err != nil {
		t.Fatalf("first buy: %v", err)
	}

	// Second buy of 200 raises the cost basis to 300 and the required lock
	// to 6; only the 4 delta must be supplied.
	receipt, err := f.buy(200, 4)
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if receipt.NewLock != 6 || receipt.LockDelta != 4 {
		t.Fatalf("expected lock replaced at 6 (delta 4), got %d (delta %d)", receipt.NewLock, receipt.LockDelta)
	}

	agent, _ := f.agents.GetByID(ctx, f.agent.ID)
	if agent.TotalStake != 6 {
		t.Fatalf("expected stake 6 after both skims, got %d", agent.TotalStake)
	}
}

func TestTrade_SellReleasesLockProportionally(t *testing.T) {
	f := setupTradeTest(t)
	ctx := context.Background()

	if _, err := f.buy(100, 2); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Selling 50 of 100 halves the lock to exactly 1.
	receipt, err := f.svc.RecordTrade(ctx, TradeRequest{
		AgentID: f.agent.ID, PoolID: f.pool.ID,
		Side: domain.SideLong, Kind: domain.TradeSell, TokenAmount: 50,
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if receipt.NewBalance != 50 {
		t.Fatalf("expected balance 50, got %d", receipt.NewBalance)
	}
	if receipt.NewLock != 1 {
		t.Fatalf("expected lock exactly 1 after selling half, got %d", receipt.NewLock)
	}
	if receipt.Notional <= 0 {
		t.Fatalf("expected positive sell proceeds, got %d", receipt.Notional)
	}

	// The released lock stays in stake as free collateral.
	agent, _ := f.agents.GetByID(ctx, f.agent.ID)
	if agent.TotalStake != 2 {
		t.Fatalf("expected stake unchanged at 2, got %d", agent.TotalStake)
	}
}

func TestTrade_FullExitZerosLock(t *testing.T) {
	f := setupTradeTest(t)
	ctx := context.Background()

	if _, err := f.buy(100, 2); err != nil {
		t.Fatalf("buy: %v", err)
	}

	receipt, err := f.svc.RecordTrade(ctx, TradeRequest{
		AgentID: f.agent.ID, PoolID: f.pool.ID,
		Side: domain.SideLong, Kind: domain.TradeSell, TokenAmount: 100,
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if receipt.NewBalance != 0 || receipt.NewLock != 0 {
		t.Fatalf("expected balance and lock to reach zero together, got %d/%d", receipt.NewBalance, receipt.NewLock)
	}
}

func TestTrade_SellWithoutPosition(t *testing.T) {
	f := setupTradeTest(t)

	_, err := f.svc.RecordTrade(context.Background(), TradeRequest{
		AgentID: f.agent.ID, PoolID: f.pool.ID,
		Side: domain.SideShort, Kind: domain.TradeSell, TokenAmount: 10,
	})
	if err != ErrNoPosition {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestTrade_SellExceedsBalance(t *testing.T) {
	f := setupTradeTest(t)

	if _, err := f.buy(100, 2); err != nil {
		t.Fatalf("buy: %v", err)
	}

	_, err := f.svc.RecordTrade(context.Background(), TradeRequest{
		AgentID: f.agent.ID, PoolID: f.pool.ID,
		Side: domain.SideLong, Kind: domain.TradeSell, TokenAmount: 101,
	})
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTrade_Validation(t *testing.T) {
	f := setupTradeTest(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  TradeRequest
		want error
	}{
		{"bad side", TradeRequest{AgentID: f.agent.ID, PoolID: f.pool.ID, Side: "sideways", Kind: domain.TradeBuy, TokenAmount: 1, Notional: 1}, ErrInvalidSide},
		{"bad kind", TradeRequest{AgentID: f.agent.ID, PoolID: f.pool.ID, Side: domain.SideLong, Kind: "hold", TokenAmount: 1, Notional: 1}, ErrInvalidTradeKind},
		{"zero amount", TradeRequest{AgentID: f.agent.ID, PoolID: f.pool.ID, Side: domain.SideLong, Kind: domain.TradeBuy, TokenAmount: 0, Notional: 1}, ErrNonPositiveAmount},
		{"negative skim", TradeRequest{AgentID: f.agent.ID, PoolID: f.pool.ID, Side: domain.SideLong, Kind: domain.TradeBuy, TokenAmount: 1, Notional: 1, SuppliedSkim: -1}, ErrNegativeSkim},
		{"unknown pool", TradeRequest{AgentID: f.agent.ID, PoolID: uuid.New(), Side: domain.SideLong, Kind: domain.TradeBuy, TokenAmount: 1, Notional: 1, SuppliedSkim: 1}, ErrPoolNotFound},
	}
	for _, c := range cases {
		if _, err := f.svc.RecordTrade(ctx, c.req); !errors.Is(err, c.want) {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
}

func TestTrade_MarketClosed(t *testing.T) {
	f := setupTradeTest(t)

	f.belief.Status = domain.BeliefStatusExpired
	_ = f.beliefs.Create(context.Background(), f.belief)

	_, err := f.buy(100, 2)
	if err != ErrMarketClosed {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestTrade_RestatesBelief(t *testing.T) {
	f := setupTradeTest(t)
	ctx := context.Background()

	// Paying 1M for 500k tokens raises the long price above par.
	_, err := f.svc.RecordTrade(ctx, TradeRequest{
		AgentID: f.agent.ID, PoolID: f.pool.ID,
		Side: domain.SideLong, Kind: domain.TradeBuy,
		TokenAmount: 500_000, Notional: 1_000_000, SuppliedSkim: 20_000,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	subs, _ := f.subs.LatestPerAgent(ctx, f.belief.ID)
	if len(subs) != 1 {
		t.Fatalf("expected the trade to record one implicit submission, got %d", len(subs))
	}
	// The long buy moved the implied relevance above the midpoint.
	if subs[0].Belief <= 0.5 {
		t.Fatalf("expected implied belief above 0.5 after a long buy, got %f", subs[0].Belief)
	}
	if subs[0].Epoch != f.belief.CurrentEpoch {
		t.Fatalf("expected submission at the live epoch %d, got %d", f.belief.CurrentEpoch, subs[0].Epoch)
	}
}
