package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agents (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    external_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    api_key_hash TEXT NOT NULL UNIQUE,
    total_stake BIGINT NOT NULL DEFAULT 0 CHECK (total_stake >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pools (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    belief_id UUID NOT NULL,
    r_long BIGINT NOT NULL DEFAULT 0 CHECK (r_long >= 0),
    r_short BIGINT NOT NULL DEFAULT 0 CHECK (r_short >= 0),
    supply_long BIGINT NOT NULL DEFAULT 0 CHECK (supply_long >= 0),
    supply_short BIGINT NOT NULL DEFAULT 0 CHECK (supply_short >= 0),
    sqrt_price_long_x96 TEXT NOT NULL DEFAULT '0',
    sqrt_price_short_x96 TEXT NOT NULL DEFAULT '0',
    last_settlement_epoch BIGINT NOT NULL DEFAULT 0,
    last_settlement_tx TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pools_belief ON pools(belief_id);

CREATE TABLE IF NOT EXISTS beliefs (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    creator_id UUID NOT NULL REFERENCES agents(id),
    pool_id UUID NOT NULL REFERENCES pools(id),
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    settlement_state TEXT NOT NULL DEFAULT 'accepting_submissions',
    current_epoch BIGINT NOT NULL DEFAULT 0,
    expiration_epoch BIGINT NOT NULL,
    previous_aggregate DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    certainty DOUBLE PRECISION NOT NULL DEFAULT 0,
    disagreement_entropy DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_settlement_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_beliefs_status ON beliefs(status);

CREATE TABLE IF NOT EXISTS belief_submissions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    belief_id UUID NOT NULL REFERENCES beliefs(id),
    agent_id UUID NOT NULL REFERENCES agents(id),
    epoch BIGINT NOT NULL,
    belief DOUBLE PRECISION NOT NULL CHECK (belief >= 0 AND belief <= 1),
    meta_prediction DOUBLE PRECISION NOT NULL CHECK (meta_prediction >= 0 AND meta_prediction <= 1),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (belief_id, agent_id, epoch)
);
CREATE INDEX IF NOT EXISTS idx_submissions_belief_epoch ON belief_submissions(belief_id, epoch);

CREATE TABLE IF NOT EXISTS positions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    agent_id UUID NOT NULL REFERENCES agents(id),
    pool_id UUID NOT NULL REFERENCES pools(id),
    side TEXT NOT NULL CHECK (side IN ('long', 'short')),
    token_balance BIGINT NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
    belief_lock BIGINT NOT NULL DEFAULT 0 CHECK (belief_lock >= 0),
    cost_basis BIGINT NOT NULL DEFAULT 0 CHECK (cost_basis >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (agent_id, pool_id, side)
);
CREATE INDEX IF NOT EXISTS idx_positions_agent ON positions(agent_id);
CREATE INDEX IF NOT EXISTS idx_positions_pool ON positions(pool_id);

CREATE TABLE IF NOT EXISTS protocol_config (
    id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    min_new_submissions INT NOT NULL DEFAULT 2,
    base_skim_rate_bps BIGINT NOT NULL DEFAULT 200,
    max_skim_rate_bps BIGINT NOT NULL DEFAULT 3000,
    min_settle_interval_seconds BIGINT NOT NULL DEFAULT 300,
    baseline_skim_bps BIGINT NOT NULL DEFAULT 10,
    max_slash_rate_bps BIGINT NOT NULL DEFAULT 1000,
    slash_slope_bps BIGINT NOT NULL DEFAULT 2000,
    learning_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.0001,
    rollover_pot BIGINT NOT NULL DEFAULT 0 CHECK (rollover_pot >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
INSERT INTO protocol_config (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS ledger_events (
    tx_signature TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    agent_id UUID,
    pool_id UUID,
    amount BIGINT,
    relevance_ppm BIGINT,
    occurred_at TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the schema. Safe to call on every start: all statements
// are idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
