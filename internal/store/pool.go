package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritaslabs/veritas/internal/domain"
)

type PoolStore struct {
	db *pgxpool.Pool
}

func NewPoolStore(db *pgxpool.Pool) *PoolStore {
	return &PoolStore{db: db}
}

const poolColumns = `id, belief_id, r_long, r_short, supply_long, supply_short,
	sqrt_price_long_x96, sqrt_price_short_x96, last_settlement_epoch, last_settlement_tx,
	created_at, updated_at`

// sqrtPriceX96 values exceed 64 bits; they travel to and from the database
// as decimal strings.
func scanPool(row pgx.Row) (*domain.Pool, error) {
	p := &domain.Pool{}
	var sqrtLong, sqrtShort string
	err := row.Scan(&p.ID, &p.BeliefID, &p.ReserveLong, &p.ReserveShort,
		&p.SupplyLong, &p.SupplyShort, &sqrtLong, &sqrtShort,
		&p.LastSettlementEpoch, &p.LastSettlementTx, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.SqrtPriceLongX96, err = uint256.FromDecimal(sqrtLong); err != nil {
		return nil, fmt.Errorf("corrupt sqrt_price_long_x96: %w", err)
	}
	if p.SqrtPriceShortX96, err = uint256.FromDecimal(sqrtShort); err != nil {
		return nil, fmt.Errorf("corrupt sqrt_price_short_x96: %w", err)
	}
	return p, nil
}

func sqrtDec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func (s *PoolStore) Create(ctx context.Context, p *domain.Pool) error {
	return q(ctx, s.db).QueryRow(ctx,
		`INSERT INTO pools (belief_id, r_long, r_short, supply_long, supply_short,
		    sqrt_price_long_x96, sqrt_price_short_x96, last_settlement_epoch)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		p.BeliefID, p.ReserveLong, p.ReserveShort, p.SupplyLong, p.SupplyShort,
		sqrtDec(p.SqrtPriceLongX96), sqrtDec(p.SqrtPriceShortX96), p.LastSettlementEpoch,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PoolStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	return scanPool(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
}

func (s *PoolStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	return scanPool(q(ctx, s.db).QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1 FOR UPDATE`, id))
}

func (s *PoolStore) Update(ctx context.Context, p *domain.Pool) error {
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE pools SET r_long = $2, r_short = $3, supply_long = $4, supply_short = $5,
		    sqrt_price_long_x96 = $6, sqrt_price_short_x96 = $7,
		    last_settlement_epoch = $8, updated_at = NOW()
		 WHERE id = $1`,
		p.ID, p.ReserveLong, p.ReserveShort, p.SupplyLong, p.SupplyShort,
		sqrtDec(p.SqrtPriceLongX96), sqrtDec(p.SqrtPriceShortX96), p.LastSettlementEpoch,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PoolStore) SetSettlementTx(ctx context.Context, id uuid.UUID, txSignature string) error {
	tag, err := q(ctx, s.db).Exec(ctx,
		`UPDATE pools SET last_settlement_tx = $2, updated_at = NOW() WHERE id = $1`,
		id, txSignature,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
