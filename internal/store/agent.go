package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritaslabs/veritas/internal/domain"
)

type AgentStore struct {
	db *pgxpool.Pool
}

func NewAgentStore(db *pgxpool.Pool) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, external_id, name, total_stake, created_at, updated_at`

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := row.Scan(&a.ID, &a.ExternalID, &a.Name, &a.TotalStake, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *AgentStore) Create(ctx context.Context, a *domain.Agent) error {
	return s.CreateWithAPIKey(ctx, a, "")
}

// CreateWithAPIKey inserts the agent along with its API key hash.
func (s *AgentStore) CreateWithAPIKey(ctx context.Context, a *domain.Agent, apiKeyHash string) error {
	err := q(ctx, s.db).QueryRow(ctx,
		`INSERT INTO agents (external_id, name, api_key_hash, total_stake)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		a.ExternalID, a.Name, apiKeyHash, a.TotalStake,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *AgentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	return scanAgent(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}

func (s *AgentStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Agent, error) {
	return scanAgent(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE api_key_hash = $1`, apiKeyHash))
}

func (s *AgentStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	return scanAgent(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1 FOR UPDATE`, id))
}

func (s *AgentStore) AddStake(ctx context.Context, id uuid.UUID, delta int64) error {
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE agents SET total_stake = total_stake + $2, updated_at = NOW() WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *AgentStore) CountActivePositions(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := q(ctx, s.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE agent_id = $1 AND token_balance > 0`, id,
	).Scan(&n)
	return n, err
}
