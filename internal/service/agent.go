package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/store"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentConflict = errors.New("agent with this external_id already exists")
)

type AgentStoreWithKeys interface {
	domain.AgentStore
	CreateWithAPIKey(ctx context.Context, a *domain.Agent, apiKeyHash string) error
}

type AgentService struct {
	store     AgentStoreWithKeys
	positions domain.PositionStore
}

func NewAgentService(s AgentStoreWithKeys, ps domain.PositionStore) *AgentService {
	return &AgentService{store: s, positions: ps}
}

func (s *AgentService) Register(ctx context.Context, a *domain.Agent, apiKeyHash string) error {
	err := s.store.CreateWithAPIKey(ctx, a, apiKeyHash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrAgentConflict
		}
		return err
	}
	return nil
}

func (s *AgentService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return a, nil
}

// Portfolio returns the agent with its derived position figures.
func (s *AgentService) Portfolio(ctx context.Context, id uuid.UUID) (*domain.AgentPortfolio, error) {
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	positions, err := s.positions.ListByAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	p := &domain.AgentPortfolio{Agent: *a}
	for _, pos := range positions {
		if pos.TokenBalance > 0 {
			p.ActivePositionCount++
		}
		p.TotalLocked += pos.BeliefLock
	}
	return p, nil
}

func (s *AgentService) Positions(ctx context.Context, id uuid.UUID) ([]domain.Position, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.positions.ListByAgent(ctx, id)
}
