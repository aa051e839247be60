package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/amm"
	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/store"
)

var (
	ErrInvalidSide         = errors.New("side must be long or short")
	ErrInvalidTradeKind    = errors.New("trade kind must be buy or sell")
	ErrNonPositiveAmount   = errors.New("token amount and notional must be positive")
	ErrNegativeSkim        = errors.New("supplied skim must not be negative")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrMarketClosed        = errors.New("belief market is not active")
	ErrNoPosition          = errors.New("no open position on this side")
	ErrInsufficientBalance = errors.New("sell exceeds position balance")
)

// TradeRequest is a fully validated buy or sell instruction.
type TradeRequest struct {
	AgentID      uuid.UUID
	PoolID       uuid.UUID
	Side         domain.Side
	Kind         domain.TradeKind
	TokenAmount  int64
	Notional     int64
	SuppliedSkim int64
}

// TradeService is the single entry point for all buys and sells. Every
// mutation for one (agent, pool, side) runs under row locks inside one
// transaction, so concurrent trades on the same key queue rather than
// lost-update, and a trade never partially applies.
type TradeService struct {
	txm        domain.TxManager
	agents     domain.AgentStore
	beliefs    domain.BeliefStore
	pools      domain.PoolStore
	positions  domain.PositionStore
	subs       domain.SubmissionStore
	cfg        domain.ConfigStore
	collateral *CollateralService
	logger     *zap.Logger
}

func NewTradeService(txm domain.TxManager, as domain.AgentStore, bs domain.BeliefStore,
	ps domain.PoolStore, pos domain.PositionStore, ss domain.SubmissionStore,
	cs domain.ConfigStore, collateral *CollateralService, logger *zap.Logger) *TradeService {
	return &TradeService{
		txm: txm, agents: as, beliefs: bs, pools: ps, positions: pos,
		subs: ss, cfg: cs, collateral: collateral, logger: logger,
	}
}

// RecordTrade validates, prices and commits one trade. On any rejection no
// state is mutated and the error is returned synchronously.
func (s *TradeService) RecordTrade(ctx context.Context, req TradeRequest) (*domain.TradeReceipt, error) {
	if !domain.ValidSide(string(req.Side)) {
		return nil, ErrInvalidSide
	}
	if !domain.ValidTradeKind(string(req.Kind)) {
		return nil, ErrInvalidTradeKind
	}
	if req.TokenAmount <= 0 || (req.Kind == domain.TradeBuy && req.Notional <= 0) {
		return nil, ErrNonPositiveAmount
	}
	if req.SuppliedSkim < 0 {
		return nil, ErrNegativeSkim
	}

	params, err := s.cfg.Params(ctx)
	if err != nil {
		return nil, err
	}

	var receipt *domain.TradeReceipt
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		// Lock order is belief -> agent -> position -> pool, shared with the
		// settlement pipeline to keep the two writers deadlock-free.
		probe, err := s.pools.GetByID(ctx, req.PoolID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrPoolNotFound
			}
			return err
		}
		belief, err := s.beliefs.GetForUpdate(ctx, probe.BeliefID)
		if err != nil {
			return err
		}
		if belief.Status != domain.BeliefStatusActive {
			return ErrMarketClosed
		}
		agent, err := s.agents.GetForUpdate(ctx, req.AgentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAgentNotFound
			}
			return err
		}

		pos, err := s.positions.GetForUpdate(ctx, req.AgentID, req.PoolID, req.Side)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if req.Kind == domain.TradeSell {
				return ErrNoPosition
			}
			pos = &domain.Position{AgentID: req.AgentID, PoolID: req.PoolID, Side: req.Side}
			if err := s.positions.Create(ctx, pos); err != nil {
				return err
			}
		}

		pool, err := s.pools.GetForUpdate(ctx, req.PoolID)
		if err != nil {
			return err
		}

		switch req.Kind {
		case domain.TradeBuy:
			receipt, err = s.applyBuy(ctx, req, params, agent, pos, pool)
		default:
			receipt, err = s.applySell(ctx, req, agent, pos, pool)
		}
		if err != nil {
			return err
		}

		if err := s.pools.Update(ctx, pool); err != nil {
			return err
		}
		// Trading implicitly restates the trader's belief for the live epoch
		// at the post-trade implied relevance.
		implied := float64(amm.ImpliedRelevancePPM(pool.SqrtPriceLongX96, pool.SqrtPriceShortX96)) / amm.RelevanceScale
		return s.subs.Upsert(ctx, &domain.BeliefSubmission{
			BeliefID:       belief.ID,
			AgentID:        req.AgentID,
			Epoch:          belief.CurrentEpoch,
			Belief:         implied,
			MetaPrediction: implied,
			IsActive:       true,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trade recorded",
		zap.String("agent_id", req.AgentID.String()),
		zap.String("pool_id", req.PoolID.String()),
		zap.String("side", string(req.Side)),
		zap.String("kind", string(req.Kind)),
		zap.Int64("tokens", req.TokenAmount),
		zap.Int64("notional", receipt.Notional),
		zap.Int64("lock", receipt.NewLock))
	return receipt, nil
}

func (s *TradeService) applyBuy(ctx context.Context, req TradeRequest, params *domain.ProtocolParams,
	agent *domain.Agent, pos *domain.Position, pool *domain.Pool) (*domain.TradeReceipt, error) {

	newCost := pos.CostBasis + req.Notional

	// A same-side buy replaces the lock with the requirement for the total
	// position; the supplied skim must cover exactly the delta.
	required, err := s.collateral.ProjectRequiredLock(ctx, agent, newCost, params)
	if err != nil {
		return nil, err
	}
	lockDelta := required - pos.BeliefLock
	if req.SuppliedSkim < lockDelta {
		return nil, &InsufficientCollateralError{Shortfall: lockDelta - req.SuppliedSkim}
	}

	// The consumed skim enters the agent's stake as an external deposit and
	// is immediately locked; excess skim is never taken.
	stakeDelta := lockDelta
	if stakeDelta < 0 {
		stakeDelta = 0
	}
	if err := s.collateral.Commit(ctx, agent.ID, lockDelta, stakeDelta); err != nil {
		return nil, err
	}

	if err := amm.ApplyBuy(pool, req.Side, req.TokenAmount, req.Notional); err != nil {
		return nil, err
	}

	pos.TokenBalance += req.TokenAmount
	pos.BeliefLock = required
	pos.CostBasis = newCost
	if err := s.positions.Update(ctx, pos); err != nil {
		return nil, err
	}
	return &domain.TradeReceipt{
		PositionID: pos.ID,
		NewBalance: pos.TokenBalance,
		NewLock:    pos.BeliefLock,
		LockDelta:  lockDelta,
		Notional:   req.Notional,
	}, nil
}

func (s *TradeService) applySell(ctx context.Context, req TradeRequest,
	agent *domain.Agent, pos *domain.Position, pool *domain.Pool) (*domain.TradeReceipt, error) {

	if req.TokenAmount > pos.TokenBalance {
		return nil, ErrInsufficientBalance
	}

	proceeds, err := amm.ApplySell(pool, req.Side, req.TokenAmount)
	if err != nil {
		return nil, err
	}

	// Partial exits release collateral gradually: the lock scales with the
	// fraction of the balance sold and is never recomputed independently.
	// Balance and lock reach zero together on a full exit.
	oldBalance := pos.TokenBalance
	newBalance := oldBalance - req.TokenAmount
	newLock := mulDiv(pos.BeliefLock, newBalance, oldBalance)
	lockDelta := newLock - pos.BeliefLock

	if err := s.collateral.Commit(ctx, agent.ID, lockDelta, 0); err != nil {
		return nil, err
	}

	pos.TokenBalance = newBalance
	pos.BeliefLock = newLock
	pos.CostBasis = mulDiv(pos.CostBasis, newBalance, oldBalance)
	if err := s.positions.Update(ctx, pos); err != nil {
		return nil, err
	}
	return &domain.TradeReceipt{
		PositionID: pos.ID,
		NewBalance: pos.TokenBalance,
		NewLock:    pos.BeliefLock,
		LockDelta:  lockDelta,
		Notional:   proceeds,
	}, nil
}

// mulDiv computes a*b/den on non-negative int64 inputs without overflowing
// the intermediate product.
func mulDiv(a, b, den int64) int64 {
	if a <= 0 || b <= 0 || den <= 0 {
		return 0
	}
	v := uint256.NewInt(uint64(a))
	v.Mul(v, uint256.NewInt(uint64(b)))
	v.Div(v, uint256.NewInt(uint64(den)))
	return int64(v.Uint64())
}
