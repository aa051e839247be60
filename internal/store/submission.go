package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritaslabs/veritas/internal/domain"
)

type SubmissionStore struct {
	db *pgxpool.Pool
}

func NewSubmissionStore(db *pgxpool.Pool) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) Upsert(ctx context.Context, sub *domain.BeliefSubmission) error {
	return q(ctx, s.db).QueryRow(ctx,
		`INSERT INTO belief_submissions (belief_id, agent_id, epoch, belief, meta_prediction, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (belief_id, agent_id, epoch) DO UPDATE SET
		    belief = EXCLUDED.belief,
		    meta_prediction = EXCLUDED.meta_prediction,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		sub.BeliefID, sub.AgentID, sub.Epoch, sub.Belief, sub.MetaPrediction, sub.IsActive,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
}

func (s *SubmissionStore) LatestPerAgent(ctx context.Context, beliefID uuid.UUID) ([]domain.BeliefSubmission, error) {
	rows, err := q(ctx, s.db).Query(ctx,
		`SELECT DISTINCT ON (agent_id)
		    id, belief_id, agent_id, epoch, belief, meta_prediction, is_active, created_at, updated_at
		 FROM belief_submissions
		 WHERE belief_id = $1 AND is_active
		 ORDER BY agent_id, epoch DESC, updated_at DESC`,
		beliefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.BeliefSubmission
	for rows.Next() {
		var sub domain.BeliefSubmission
		if err := rows.Scan(&sub.ID, &sub.BeliefID, &sub.AgentID, &sub.Epoch,
			&sub.Belief, &sub.MetaPrediction, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SubmissionStore) CountUniqueInEpoch(ctx context.Context, beliefID uuid.UUID, epoch int64) (int, error) {
	var n int
	err := q(ctx, s.db).QueryRow(ctx,
		`SELECT COUNT(DISTINCT agent_id) FROM belief_submissions
		 WHERE belief_id = $1 AND epoch = $2 AND is_active`,
		beliefID, epoch,
	).Scan(&n)
	return n, err
}
