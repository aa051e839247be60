package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritaslabs/veritas/internal/domain"
)

// LedgerEventStore records processed external-ledger events. The primary key
// on tx_signature is the at-least-once dedupe point: a redelivered event
// fails the insert with ErrConflict before any mutation happens.
type LedgerEventStore struct {
	db *pgxpool.Pool
}

func NewLedgerEventStore(db *pgxpool.Pool) *LedgerEventStore {
	return &LedgerEventStore{db: db}
}

func (s *LedgerEventStore) Insert(ctx context.Context, e *domain.LedgerEvent) error {
	_, err := q(ctx, s.db).Exec(ctx,
		`INSERT INTO ledger_events (tx_signature, event_type, agent_id, pool_id, amount, relevance_ppm, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.TxSignature, e.Type, e.AgentID, e.PoolID, e.Amount, e.RelevancePPM, e.OccurredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}
