package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritaslabs/veritas/internal/domain"
)

type BeliefStore struct {
	db *pgxpool.Pool
}

func NewBeliefStore(db *pgxpool.Pool) *BeliefStore {
	return &BeliefStore{db: db}
}

const beliefColumns = `id, creator_id, pool_id, title, status, settlement_state,
	current_epoch, expiration_epoch, previous_aggregate, certainty,
	disagreement_entropy, last_settlement_at, created_at, updated_at`

func scanBelief(row pgx.Row) (*domain.Belief, error) {
	b := &domain.Belief{}
	err := row.Scan(&b.ID, &b.CreatorID, &b.PoolID, &b.Title, &b.Status, &b.SettlementState,
		&b.CurrentEpoch, &b.ExpirationEpoch, &b.PreviousAggregate, &b.Certainty,
		&b.DisagreementEntropy, &b.LastSettlementAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Create inserts the belief under its caller-generated id; the id is minted
// before the backing pool so the two rows can reference each other.
func (s *BeliefStore) Create(ctx context.Context, b *domain.Belief) error {
	return q(ctx, s.db).QueryRow(ctx,
		`INSERT INTO beliefs (id, creator_id, pool_id, title, status, settlement_state,
		    current_epoch, expiration_epoch, previous_aggregate)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		b.ID, b.CreatorID, b.PoolID, b.Title, b.Status, b.SettlementState,
		b.CurrentEpoch, b.ExpirationEpoch, b.PreviousAggregate,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (s *BeliefStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Belief, error) {
	return scanBelief(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+beliefColumns+` FROM beliefs WHERE id = $1`, id))
}

func (s *BeliefStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Belief, error) {
	return scanBelief(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+beliefColumns+` FROM beliefs WHERE id = $1 FOR UPDATE`, id))
}

func (s *BeliefStore) ListActive(ctx context.Context) ([]domain.Belief, error) {
	rows, err := q(ctx, s.db).Query(ctx,
		`SELECT `+beliefColumns+` FROM beliefs WHERE status = $1 ORDER BY created_at`,
		domain.BeliefStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beliefs []domain.Belief
	for rows.Next() {
		b, err := scanBelief(rows)
		if err != nil {
			return nil, err
		}
		beliefs = append(beliefs, *b)
	}
	return beliefs, rows.Err()
}

func (s *BeliefStore) ClaimSettling(ctx context.Context, id uuid.UUID, staleAfterSeconds int64) (bool, error) {
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE beliefs SET settlement_state = $2, updated_at = NOW()
		 WHERE id = $1
		   AND (settlement_state <> $2
		        OR updated_at < NOW() - make_interval(secs => $3))`,
		id, domain.SettlementSettling, staleAfterSeconds,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *BeliefStore) SetSettlementState(ctx context.Context, id uuid.UUID, state domain.SettlementState) error {
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE beliefs SET settlement_state = $2, updated_at = NOW() WHERE id = $1`,
		id, state,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *BeliefStore) FinalizeSettlement(ctx context.Context, b *domain.Belief) error {
	// current_epoch is monotonic: the guard refuses any write that would
	// regress it.
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE beliefs SET
		    status = $2, settlement_state = $3, current_epoch = $4,
		    previous_aggregate = $5, certainty = $6, disagreement_entropy = $7,
		    last_settlement_at = $8, updated_at = NOW()
		 WHERE id = $1 AND current_epoch <= $4`,
		b.ID, b.Status, b.SettlementState, b.CurrentEpoch,
		b.PreviousAggregate, b.Certainty, b.DisagreementEntropy, b.LastSettlementAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
