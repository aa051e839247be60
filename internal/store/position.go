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

type PositionStore struct {
	db *pgxpool.Pool
}

func NewPositionStore(db *pgxpool.Pool) *PositionStore {
	return &PositionStore{db: db}
}

const positionColumns = `id, agent_id, pool_id, side, token_balance, belief_lock, cost_basis, created_at, updated_at`

func scanPosition(row pgx.Row) (*domain.Position, error) {
	p := &domain.Position{}
	err := row.Scan(&p.ID, &p.AgentID, &p.PoolID, &p.Side, &p.TokenBalance,
		&p.BeliefLock, &p.CostBasis, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	err := q(ctx, s.db).QueryRow(ctx,
		`INSERT INTO positions (agent_id, pool_id, side, token_balance, belief_lock, cost_basis)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		p.AgentID, p.PoolID, p.Side, p.TokenBalance, p.BeliefLock, p.CostBasis,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *PositionStore) GetForUpdate(ctx context.Context, agentID, poolID uuid.UUID, side domain.Side) (*domain.Position, error) {
	return scanPosition(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE agent_id = $1 AND pool_id = $2 AND side = $3 FOR UPDATE`,
		agentID, poolID, side))
}

func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE positions SET token_balance = $2, belief_lock = $3, cost_basis = $4, updated_at = NOW()
		 WHERE id = $1`,
		p.ID, p.TokenBalance, p.BeliefLock, p.CostBasis,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PositionStore) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]domain.Position, error) {
	return s.list(ctx, `SELECT `+positionColumns+` FROM positions WHERE agent_id = $1 ORDER BY created_at`, agentID)
}

func (s *PositionStore) ListByPool(ctx context.Context, poolID uuid.UUID) ([]domain.Position, error) {
	return s.list(ctx, `SELECT `+positionColumns+` FROM positions WHERE pool_id = $1 ORDER BY created_at`, poolID)
}

func (s *PositionStore) list(ctx context.Context, sql string, arg any) ([]domain.Position, error) {
	rows, err := q(ctx, s.db).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PositionStore) SumLocksByAgent(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var sum int64
	err := q(ctx, s.db).QueryRow(ctx,
		`SELECT COALESCE(SUM(belief_lock), 0) FROM positions WHERE agent_id = $1`,
		agentID,
	).Scan(&sum)
	return sum, err
}
