package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritaslabs/veritas/internal/domain"
)

// ConfigStore reads the single-row protocol_config table. Tunables are
// returned as an immutable snapshot; only the rollover pot is written from
// this codebase.
type ConfigStore struct {
	db *pgxpool.Pool
}

func NewConfigStore(db *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{db: db}
}

func (s *ConfigStore) Params(ctx context.Context) (*domain.ProtocolParams, error) {
	p := &domain.ProtocolParams{}
	var intervalSeconds int64
	err := q(ctx, s.db).QueryRow(ctx,
		`SELECT min_new_submissions, base_skim_rate_bps, max_skim_rate_bps,
		    min_settle_interval_seconds, baseline_skim_bps, max_slash_rate_bps,
		    slash_slope_bps, learning_threshold
		 FROM protocol_config WHERE id = 1`,
	).Scan(&p.MinNewSubmissions, &p.BaseSkimRateBps, &p.MaxSkimRateBps,
		&intervalSeconds, &p.BaselineSkimBps, &p.MaxSlashRateBps,
		&p.SlashSlopeBps, &p.LearningThreshold)
	if err != nil {
		return nil, err
	}
	p.MinSettleInterval = time.Duration(intervalSeconds) * time.Second
	return p, nil
}

// RolloverPot locks the config row when called inside a transaction so the
// read-modify-write during redistribution is serialized.
func (s *ConfigStore) RolloverPot(ctx context.Context) (int64, error) {
	var pot int64
	err := q(ctx, s.db).QueryRow(ctx,
		`SELECT rollover_pot FROM protocol_config WHERE id = 1 FOR UPDATE`,
	).Scan(&pot)
	return pot, err
}

func (s *ConfigStore) SetRolloverPot(ctx context.Context, pot int64) error {
	_, err := q(ctx, s.db).Exec(ctx,
		`UPDATE protocol_config SET rollover_pot = $1, updated_at = NOW() WHERE id = 1`,
		pot,
	)
	return err
}
