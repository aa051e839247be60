package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/store"
)

// mockTxManager runs the function directly; the map-backed mocks have no
// transactions to coordinate.
type mockTxManager struct{}

func (m *mockTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// mockAgentStore implements domain.AgentStore for testing.
type mockAgentStore struct {
	agents  map[uuid.UUID]*domain.Agent
	byHash  map[string]uuid.UUID
	failAdd bool
}

func newMockAgentStore() *mockAgentStore {
	return &mockAgentStore{
		agents: make(map[uuid.UUID]*domain.Agent),
		byHash: make(map[string]uuid.UUID),
	}
}

func (m *mockAgentStore) Create(ctx context.Context, a *domain.Agent) error {
	return m.CreateWithAPIKey(ctx, a, uuid.NewString())
}

func (m *mockAgentStore) CreateWithAPIKey(ctx context.Context, a *domain.Agent, apiKeyHash string) error {
	for _, existing := range m.agents {
		if existing.ExternalID == a.ExternalID {
			return store.ErrConflict
		}
	}
	a.ID = uuid.New()
	m.agents[a.ID] = a
	m.byHash[apiKeyHash] = a.ID
	return nil
}

func (m *mockAgentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAgentStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Agent, error) {
	id, ok := m.byHash[apiKeyHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockAgentStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	return m.GetByID(ctx, id)
}

func (m *mockAgentStore) AddStake(ctx context.Context, id uuid.UUID, delta int64) error {
	a, ok := m.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.TotalStake+delta < 0 {
		return store.ErrConflict
	}
	a.TotalStake += delta
	return nil
}

func (m *mockAgentStore) CountActivePositions(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, nil
}

// mockBeliefStore implements domain.BeliefStore for testing.
type mockBeliefStore struct {
	beliefs map[uuid.UUID]*domain.Belief
}

func newMockBeliefStore() *mockBeliefStore {
	return &mockBeliefStore{beliefs: make(map[uuid.UUID]*domain.Belief)}
}

func (m *mockBeliefStore) Create(ctx context.Context, b *domain.Belief) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.beliefs[b.ID] = b
	return nil
}

func (m *mockBeliefStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Belief, error) {
	b, ok := m.beliefs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBeliefStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Belief, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBeliefStore) ListActive(ctx context.Context) ([]domain.Belief, error) {
	var out []domain.Belief
	for _, b := range m.beliefs {
		if b.Status == domain.BeliefStatusActive {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBeliefStore) ClaimSettling(ctx context.Context, id uuid.UUID, staleAfterSeconds int64) (bool, error) {
	b, ok := m.beliefs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if b.SettlementState == domain.SettlementSettling {
		return false, nil
	}
	b.SettlementState = domain.SettlementSettling
	return true, nil
}

func (m *mockBeliefStore) SetSettlementState(ctx context.Context, id uuid.UUID, state domain.SettlementState) error {
	b, ok := m.beliefs[id]
	if !ok {
		return store.ErrNotFound
	}
	b.SettlementState = state
	return nil
}

func (m *mockBeliefStore) FinalizeSettlement(ctx context.Context, b *domain.Belief) error {
	existing, ok := m.beliefs[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	if b.CurrentEpoch <= existing.CurrentEpoch {
		return store.ErrConflict
	}
	cp := *b
	m.beliefs[b.ID] = &cp
	return nil
}

// mockSubmissionStore implements domain.SubmissionStore for testing.
type mockSubmissionStore struct {
	subs []*domain.BeliefSubmission
}

func newMockSubmissionStore() *mockSubmissionStore {
	return &mockSubmissionStore{}
}

func (m *mockSubmissionStore) Upsert(ctx context.Context, s *domain.BeliefSubmission) error {
	for _, existing := range m.subs {
		if existing.BeliefID == s.BeliefID && existing.AgentID == s.AgentID && existing.Epoch == s.Epoch {
			existing.Belief = s.Belief
			existing.MetaPrediction = s.MetaPrediction
			existing.IsActive = s.IsActive
			existing.UpdatedAt = time.Now()
			s.ID = existing.ID
			return nil
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	m.subs = append(m.subs, &cp)
	return nil
}

func (m *mockSubmissionStore) LatestPerAgent(ctx context.Context, beliefID uuid.UUID) ([]domain.BeliefSubmission, error) {
	latest := make(map[uuid.UUID]*domain.BeliefSubmission)
	for _, s := range m.subs {
		if s.BeliefID != beliefID || !s.IsActive {
			continue
		}
		if prev, ok := latest[s.AgentID]; !ok || s.Epoch > prev.Epoch {
			latest[s.AgentID] = s
		}
	}
	out := make([]domain.BeliefSubmission, 0, len(latest))
	for _, s := range latest {
		out = append(out, *s)
	}
	return out, nil
}

func (m *mockSubmissionStore) CountUniqueInEpoch(ctx context.Context, beliefID uuid.UUID, epoch int64) (int, error) {
	seen := make(map[uuid.UUID]bool)
	for _, s := range m.subs {
		if s.BeliefID == beliefID && s.Epoch == epoch {
			seen[s.AgentID] = true
		}
	}
	return len(seen), nil
}

// mockPositionStore implements domain.PositionStore for testing.
type mockPositionStore struct {
	positions map[uuid.UUID]*domain.Position
}

func newMockPositionStore() *mockPositionStore {
	return &mockPositionStore{positions: make(map[uuid.UUID]*domain.Position)}
}

func (m *mockPositionStore) Create(ctx context.Context, p *domain.Position) error {
	for _, existing := range m.positions {
		if existing.AgentID == p.AgentID && existing.PoolID == p.PoolID && existing.Side == p.Side {
			return store.ErrConflict
		}
	}
	p.ID = uuid.New()
	m.positions[p.ID] = p
	return nil
}

func (m *mockPositionStore) GetForUpdate(ctx context.Context, agentID, poolID uuid.UUID, side domain.Side) (*domain.Position, error) {
	for _, p := range m.positions {
		if p.AgentID == agentID && p.PoolID == poolID && p.Side == side {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockPositionStore) Update(ctx context.Context, p *domain.Position) error {
	if _, ok := m.positions[p.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *mockPositionStore) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range m.positions {
		if p.AgentID == agentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPositionStore) ListByPool(ctx context.Context, poolID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range m.positions {
		if p.PoolID == poolID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPositionStore) SumLocksByAgent(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var sum int64
	for _, p := range m.positions {
		if p.AgentID == agentID {
			sum += p.BeliefLock
		}
	}
	return sum, nil
}

// mockPoolStore implements domain.PoolStore for testing.
type mockPoolStore struct {
	pools map[uuid.UUID]*domain.Pool
}

func newMockPoolStore() *mockPoolStore {
	return &mockPoolStore{pools: make(map[uuid.UUID]*domain.Pool)}
}

func (m *mockPoolStore) Create(ctx context.Context, p *domain.Pool) error {
	p.ID = uuid.New()
	m.pools[p.ID] = p
	return nil
}

func (m *mockPoolStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPoolStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPoolStore) Update(ctx context.Context, p *domain.Pool) error {
	if _, ok := m.pools[p.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *p
	m.pools[p.ID] = &cp
	return nil
}

func (m *mockPoolStore) SetSettlementTx(ctx context.Context, id uuid.UUID, txSignature string) error {
	p, ok := m.pools[id]
	if !ok {
		return store.ErrNotFound
	}
	p.LastSettlementTx = txSignature
	return nil
}

// mockConfigStore implements domain.ConfigStore for testing.
type mockConfigStore struct {
	params   domain.ProtocolParams
	rollover int64
}

func newMockConfigStore() *mockConfigStore {
	return &mockConfigStore{params: domain.DefaultProtocolParams()}
}

func (m *mockConfigStore) Params(ctx context.Context) (*domain.ProtocolParams, error) {
	cp := m.params
	return &cp, nil
}

func (m *mockConfigStore) RolloverPot(ctx context.Context) (int64, error) {
	return m.rollover, nil
}

func (m *mockConfigStore) SetRolloverPot(ctx context.Context, pot int64) error {
	m.rollover = pot
	return nil
}

// mockLedgerEventStore implements domain.LedgerEventStore for testing.
type mockLedgerEventStore struct {
	seen map[string]bool
}

func newMockLedgerEventStore() *mockLedgerEventStore {
	return &mockLedgerEventStore{seen: make(map[string]bool)}
}

func (m *mockLedgerEventStore) Insert(ctx context.Context, e *domain.LedgerEvent) error {
	if m.seen[e.TxSignature] {
		return store.ErrConflict
	}
	m.seen[e.TxSignature] = true
	return nil
}
