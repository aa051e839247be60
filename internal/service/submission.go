package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/domain"
)

var (
	ErrInvalidProbability = errors.New("belief and meta_prediction must lie in [0,1]")
	ErrWrongEpoch         = errors.New("submission epoch does not match the belief's live epoch")
	ErrBeliefNotAccepting = errors.New("belief is not accepting submissions")
)

// SubmissionService records (belief, meta-prediction) pairs. An agent
// submits at most once per epoch; a later submission in the same epoch
// overwrites the earlier one, and rows become immutable once the epoch
// settles because the live epoch has moved on.
type SubmissionService struct {
	txm     domain.TxManager
	beliefs domain.BeliefStore
	subs    domain.SubmissionStore
	agents  domain.AgentStore
	logger  *zap.Logger
}

func NewSubmissionService(txm domain.TxManager, bs domain.BeliefStore, ss domain.SubmissionStore,
	as domain.AgentStore, logger *zap.Logger) *SubmissionService {
	return &SubmissionService{txm: txm, beliefs: bs, subs: ss, agents: as, logger: logger}
}

func (s *SubmissionService) Submit(ctx context.Context, agentID, beliefID uuid.UUID, belief, meta float64, epoch int64) (*domain.BeliefSubmission, error) {
	if belief < 0 || belief > 1 || meta < 0 || meta > 1 {
		return nil, ErrInvalidProbability
	}
	if _, err := s.agents.GetByID(ctx, agentID); err != nil {
		return nil, ErrAgentNotFound
	}

	sub := &domain.BeliefSubmission{
		BeliefID:       beliefID,
		AgentID:        agentID,
		Belief:         belief,
		MetaPrediction: meta,
		IsActive:       true,
	}
	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		// The belief row lock serializes submissions against a concurrent
		// settlement reading its snapshot.
		b, err := s.beliefs.GetForUpdate(ctx, beliefID)
		if err != nil {
			return ErrBeliefNotFound
		}
		if b.Status != domain.BeliefStatusActive {
			return ErrBeliefNotAccepting
		}
		if epoch != b.CurrentEpoch {
			return ErrWrongEpoch
		}
		sub.Epoch = epoch
		return s.subs.Upsert(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("belief submission recorded",
		zap.String("belief_id", beliefID.String()),
		zap.String("agent_id", agentID.String()),
		zap.Int64("epoch", sub.Epoch))
	return sub, nil
}
