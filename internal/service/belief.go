package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/amm"
	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/store"
)

var (
	ErrBeliefNotFound   = errors.New("belief not found")
	ErrTitleRequired    = errors.New("title is required")
	ErrBadExpiration    = errors.New("expiration_epoch must be positive")
	ErrBadSeedLiquidity = errors.New("seed reserves and supplies must be positive")
)

// CreateBeliefRequest seeds a new belief market. Reserves and supplies are
// smallest-unit integers; both sides must start funded so the pool quotes a
// price from the first trade.
type CreateBeliefRequest struct {
	CreatorID       uuid.UUID
	Title           string
	ExpirationEpoch int64
	SeedReserve     int64
	SeedSupply      int64
}

type BeliefService struct {
	txm     domain.TxManager
	beliefs domain.BeliefStore
	pools   domain.PoolStore
}

func NewBeliefService(txm domain.TxManager, bs domain.BeliefStore, ps domain.PoolStore) *BeliefService {
	return &BeliefService{txm: txm, beliefs: bs, pools: ps}
}

// Create provisions the belief and its backing pool atomically. Each side is
// seeded with the same reserve and supply, so the market opens at implied
// relevance 0.5 to match the uninformative prior aggregate.
func (s *BeliefService) Create(ctx context.Context, req CreateBeliefRequest) (*domain.Belief, error) {
	if req.Title == "" {
		return nil, ErrTitleRequired
	}
	if req.ExpirationEpoch <= 0 {
		return nil, ErrBadExpiration
	}
	if req.SeedReserve <= 0 || req.SeedSupply <= 0 {
		return nil, ErrBadSeedLiquidity
	}

	belief := &domain.Belief{
		ID:                uuid.New(),
		CreatorID:         req.CreatorID,
		Title:             req.Title,
		Status:            domain.BeliefStatusActive,
		SettlementState:   domain.SettlementAccepting,
		ExpirationEpoch:   req.ExpirationEpoch,
		PreviousAggregate: 0.5,
	}
	sqrt := amm.SqrtPriceX96(req.SeedReserve, req.SeedSupply)
	pool := &domain.Pool{
		BeliefID:          belief.ID,
		ReserveLong:       req.SeedReserve,
		ReserveShort:      req.SeedReserve,
		SupplyLong:        req.SeedSupply,
		SupplyShort:       req.SeedSupply,
		SqrtPriceLongX96:  sqrt,
		SqrtPriceShortX96: sqrt.Clone(),
	}

	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.pools.Create(ctx, pool); err != nil {
			return err
		}
		belief.PoolID = pool.ID
		return s.beliefs.Create(ctx, belief)
	})
	if err != nil {
		return nil, err
	}
	return belief, nil
}

func (s *BeliefService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Belief, error) {
	b, err := s.beliefs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBeliefNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *BeliefService) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return p, nil
}
