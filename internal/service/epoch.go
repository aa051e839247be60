package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/amm"
	"github.com/veritaslabs/veritas/internal/chain"
	"github.com/veritaslabs/veritas/internal/consensus"
	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/store"
)

// ErrSettlementInProgress means another settlement holds the settling claim
// for this belief; the duplicate trigger is a no-op.
var ErrSettlementInProgress = errors.New("settlement already in progress")

// settlingStaleAfter is the deadline after which an abandoned settling claim
// (a crashed run) may be retaken.
const settlingStaleAfter = 120 * time.Second

// RebaseStatus reports whether a belief can settle right now and, if not,
// which gate is holding it.
type RebaseStatus struct {
	CanSettle                bool  `json:"can_settle"`
	UnaccountedSubmissions   int   `json:"unaccounted_submissions"`
	MinRequired              int   `json:"min_required"`
	CooldownRemainingSeconds int64 `json:"cooldown_remaining_seconds"`
}

// NotEligibleError carries the gating detail for a refused settlement.
type NotEligibleError struct {
	Status RebaseStatus
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("belief not eligible for settlement: %d/%d new submitters, cooldown %ds",
		e.Status.UnaccountedSubmissions, e.Status.MinRequired, e.Status.CooldownRemainingSeconds)
}

// StakeDelta is one agent's signed stake change from an epoch redistribution.
type StakeDelta struct {
	AgentID uuid.UUID `json:"agent_id"`
	Delta   int64     `json:"delta"`
	Score   float64   `json:"score"`
}

// SettlementResult is the committed outcome of one epoch settlement.
type SettlementResult struct {
	BeliefID               uuid.UUID    `json:"belief_id"`
	NewAggregate           float64      `json:"new_aggregate"`
	Certainty              float64      `json:"certainty"`
	RelevancePPM           int64        `json:"relevance_ppm"`
	StakeDeltas            []StakeDelta `json:"stake_deltas"`
	NextEpoch              int64        `json:"next_epoch"`
	RedistributionOccurred bool         `json:"redistribution_occurred"`
	TxSignature            string       `json:"tx_signature,omitempty"`

	poolID uuid.UUID
}

// EpochService drives the per-belief state machine
// accepting_submissions -> eligible_for_settlement -> settling -> (epoch+1)
// and runs the aggregation -> scoring -> redistribution pipeline as one
// atomic batch. A background worker sweeps active beliefs on an interval.
type EpochService struct {
	txm       domain.TxManager
	beliefs   domain.BeliefStore
	subs      domain.SubmissionStore
	agents    domain.AgentStore
	positions domain.PositionStore
	pools     domain.PoolStore
	cfg       domain.ConfigStore
	ledger    chain.Client
	logger    *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
}

func NewEpochService(txm domain.TxManager, bs domain.BeliefStore, ss domain.SubmissionStore,
	as domain.AgentStore, pos domain.PositionStore, ps domain.PoolStore, cs domain.ConfigStore,
	ledger chain.Client, logger *zap.Logger) *EpochService {
	return &EpochService{
		txm: txm, beliefs: bs, subs: ss, agents: as, positions: pos, pools: ps,
		cfg: cs, ledger: ledger, logger: logger,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *EpochService) SetInterval(d time.Duration) {
	s.interval = d
}

// RebaseStatus evaluates the two settlement gates against live config:
// enough unique new submitters since the last settlement, and the cooldown
// interval elapsed.
func (s *EpochService) RebaseStatus(ctx context.Context, beliefID uuid.UUID) (*RebaseStatus, error) {
	b, err := s.beliefs.GetByID(ctx, beliefID)
	if err != nil {
		return nil, ErrBeliefNotFound
	}
	params, err := s.cfg.Params(ctx)
	if err != nil {
		return nil, err
	}
	return s.gate(ctx, b, params)
}

func (s *EpochService) gate(ctx context.Context, b *domain.Belief, params *domain.ProtocolParams) (*RebaseStatus, error) {
	n, err := s.subs.CountUniqueInEpoch(ctx, b.ID, b.CurrentEpoch)
	if err != nil {
		return nil, err
	}
	st := &RebaseStatus{
		UnaccountedSubmissions: n,
		MinRequired:            params.MinNewSubmissions,
	}
	if b.LastSettlementAt != nil {
		elapsed := time.Since(*b.LastSettlementAt)
		if remaining := params.MinSettleInterval - elapsed; remaining > 0 {
			st.CooldownRemainingSeconds = int64(math.Ceil(remaining.Seconds()))
		}
	}
	st.CanSettle = b.Status == domain.BeliefStatusActive &&
		n >= params.MinNewSubmissions &&
		st.CooldownRemainingSeconds == 0
	return st, nil
}

// Settle runs one epoch settlement. On any failure mid-pipeline no partial
// mutation is committed and the belief returns to eligible_for_settlement
// for retry; a duplicate trigger while another run holds the settling claim
// is a no-op.
func (s *EpochService) Settle(ctx context.Context, beliefID uuid.UUID) (*SettlementResult, error) {
	claimed, err := s.beliefs.ClaimSettling(ctx, beliefID, int64(settlingStaleAfter.Seconds()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBeliefNotFound
		}
		return nil, err
	}
	if !claimed {
		return nil, ErrSettlementInProgress
	}

	var result *SettlementResult
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		result, err = s.runPipeline(ctx, beliefID)
		return err
	})
	if err != nil {
		var ne *NotEligibleError
		state := domain.SettlementEligible
		if errors.As(err, &ne) && !ne.Status.CanSettle {
			state = domain.SettlementAccepting
		}
		if stateErr := s.beliefs.SetSettlementState(ctx, beliefID, state); stateErr != nil {
			s.logger.Error("failed to release settling claim",
				zap.String("belief_id", beliefID.String()), zap.Error(stateErr))
		}
		return nil, err
	}

	// The settlement instruction goes out only after the off-chain batch is
	// durable; the external ledger confirms asynchronously through the event
	// feed, and a failed submission is retried without double-applying.
	sig, subErr := s.ledger.SubmitSettlement(ctx, result.poolID, result.RelevancePPM)
	if subErr != nil {
		s.logger.Warn("settlement instruction submission failed; awaiting retry",
			zap.String("belief_id", beliefID.String()), zap.Error(subErr))
	} else {
		result.TxSignature = sig
		if err := s.pools.SetSettlementTx(ctx, result.poolID, sig); err != nil {
			s.logger.Error("failed to record settlement tx",
				zap.String("pool_id", result.poolID.String()), zap.Error(err))
		}
	}
	return result, nil
}

// runPipeline executes aggregation -> scoring -> redistribution inside the
// caller's transaction. All reads are snapshot-consistent; no submission can
// mutate mid-computation because submitters queue on the belief row lock.
func (s *EpochService) runPipeline(ctx context.Context, beliefID uuid.UUID) (*SettlementResult, error) {
	b, err := s.beliefs.GetForUpdate(ctx, beliefID)
	if err != nil {
		return nil, ErrBeliefNotFound
	}
	params, err := s.cfg.Params(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := s.gate(ctx, b, params)
	if err != nil {
		return nil, err
	}
	if !gate.CanSettle {
		return nil, &NotEligibleError{Status: *gate}
	}

	subs, err := s.subs.LatestPerAgent(ctx, beliefID)
	if err != nil {
		return nil, err
	}
	stakes := make(map[uuid.UUID]int64, len(subs))
	for _, sub := range subs {
		a, err := s.agents.GetByID(ctx, sub.AgentID)
		if err != nil {
			return nil, err
		}
		stakes[sub.AgentID] = a.TotalStake
	}

	weights := consensus.StakeWeights(subs, stakes, uuid.Nil)
	newAggregate, _, err := consensus.LeaveOneOutAggregate(subs, uuid.Nil, weights)
	if err != nil {
		return nil, err
	}

	pre := consensus.Disagreement(subs, b.PreviousAggregate)
	post := consensus.Disagreement(subs, newAggregate)
	certainty := consensus.Certainty(post)

	// Redistribution only triggers when aggregation absorbed new
	// information: disagreement shrank, or the aggregate itself moved.
	learned := (pre-post) > params.LearningThreshold ||
		math.Abs(newAggregate-b.PreviousAggregate) > params.LearningThreshold

	result := &SettlementResult{
		BeliefID:     beliefID,
		NewAggregate: newAggregate,
		Certainty:    certainty,
		RelevancePPM: int64(math.Round(newAggregate * amm.RelevanceScale)),
		NextEpoch:    b.CurrentEpoch + 1,
		poolID:       b.PoolID,
	}

	if learned && len(subs) > 0 {
		scores, err := consensus.ScoreAgents(subs, newAggregate, func(excluded uuid.UUID) (float64, float64, error) {
			looWeights := consensus.StakeWeights(subs, stakes, excluded)
			return consensus.LeaveOneOutAggregate(subs, excluded, looWeights)
		})
		if err != nil {
			return nil, err
		}
		deltas, err := s.redistribute(ctx, b, scores, certainty, params, stakes)
		if err != nil {
			return nil, err
		}
		result.StakeDeltas = deltas
		result.RedistributionOccurred = true
	}

	pool, err := s.pools.GetForUpdate(ctx, b.PoolID)
	if err != nil {
		return nil, err
	}
	amm.Rebalance(pool, result.RelevancePPM)
	pool.LastSettlementEpoch = b.CurrentEpoch
	if err := s.pools.Update(ctx, pool); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b.PreviousAggregate = newAggregate
	b.Certainty = certainty
	b.DisagreementEntropy = post
	b.CurrentEpoch++
	b.LastSettlementAt = &now
	b.SettlementState = domain.SettlementAccepting
	if b.CurrentEpoch >= b.ExpirationEpoch {
		b.Status = domain.BeliefStatusExpired
	}
	if err := s.beliefs.FinalizeSettlement(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("epoch settled",
		zap.String("belief_id", beliefID.String()),
		zap.Int64("epoch", b.CurrentEpoch),
		zap.Float64("aggregate", newAggregate),
		zap.Float64("certainty", certainty),
		zap.Bool("redistributed", result.RedistributionOccurred))
	return result, nil
}

// redistribute converts signed scores into a zero-sum stake transfer. The
// penalty pot (plus any persisted rollover) is funded by non-positive
// scorers and paid to strictly positive scorers by largest-remainder
// apportionment over score x certainty. The rollover is persisted before any
// stake mutation so a crash between the two is retry-idempotent.
func (s *EpochService) redistribute(ctx context.Context, b *domain.Belief, scores []consensus.AgentScore,
	certainty float64, params *domain.ProtocolParams, stakes map[uuid.UUID]int64) ([]StakeDelta, error) {

	rollover, err := s.cfg.RolloverPot(ctx)
	if err != nil {
		return nil, err
	}

	poolLocks, err := s.poolLocksByAgent(ctx, b.PoolID)
	if err != nil {
		return nil, err
	}

	pot := rollover
	deltas := make([]StakeDelta, 0, len(scores))
	var winners []consensus.AgentScore
	var weightSum float64

	for _, sc := range scores {
		if sc.Score > 0 {
			winners = append(winners, sc)
			weightSum += sc.Score * certainty
			continue
		}
		rateBps := params.BaselineSkimBps + int64(math.Abs(sc.Score)*certainty*float64(params.SlashSlopeBps))
		if rateBps > params.MaxSlashRateBps {
			rateBps = params.MaxSlashRateBps
		}
		penalty := mulDiv(stakes[sc.AgentID], rateBps, bpsDenominator)
		// The belief lock is sized to cover consensus penalties; never take
		// more than the lock on this pool plus the agent's free stake.
		if coverable := s.coverage(ctx, sc.AgentID, stakes[sc.AgentID], poolLocks[sc.AgentID]); penalty > coverable {
			penalty = coverable
		}
		if penalty > 0 {
			pot += penalty
			deltas = append(deltas, StakeDelta{AgentID: sc.AgentID, Delta: -penalty, Score: sc.Score})
		} else {
			deltas = append(deltas, StakeDelta{AgentID: sc.AgentID, Delta: 0, Score: sc.Score})
		}
	}

	newRollover := int64(0)
	if len(winners) == 0 || weightSum <= 0 || pot == 0 {
		// Nobody had positive impact: the entire pot rolls over to the next
		// epoch. It is never dropped.
		newRollover = pot
	}
	if err := s.cfg.SetRolloverPot(ctx, newRollover); err != nil {
		return nil, err
	}

	if newRollover == 0 && pot > 0 {
		rewards := apportion(pot, winners, certainty, weightSum)
		deltas = append(deltas, rewards...)
	} else {
		for _, w := range winners {
			deltas = append(deltas, StakeDelta{AgentID: w.AgentID, Delta: 0, Score: w.Score})
		}
	}

	// Apply stake mutations after the rollover write.
	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		if err := s.agents.AddStake(ctx, d.AgentID, d.Delta); err != nil {
			return nil, err
		}
		if d.Delta < 0 {
			if err := s.restoreLockInvariant(ctx, d.AgentID, b.PoolID); err != nil {
				return nil, err
			}
		}
	}
	return deltas, nil
}

// apportion splits pot across the winners proportionally to score x
// certainty using largest-remainder rounding, so the distributed total is
// exactly pot and conservation holds to the integer.
func apportion(pot int64, winners []consensus.AgentScore, certainty, weightSum float64) []StakeDelta {
	type share struct {
		idx  int
		frac float64
	}
	deltas := make([]StakeDelta, len(winners))
	shares := make([]share, len(winners))
	var assigned int64
	for i, w := range winners {
		exact := float64(pot) * (w.Score * certainty) / weightSum
		floor := int64(math.Floor(exact))
		deltas[i] = StakeDelta{AgentID: w.AgentID, Delta: floor, Score: w.Score}
		shares[i] = share{idx: i, frac: exact - float64(floor)}
		assigned += floor
	}
	sort.Slice(shares, func(a, b int) bool { return shares[a].frac > shares[b].frac })
	for i := int64(0); i < pot-assigned; i++ {
		deltas[shares[int(i)%len(shares)].idx].Delta++
	}
	return deltas
}

func (s *EpochService) poolLocksByAgent(ctx context.Context, poolID uuid.UUID) (map[uuid.UUID]int64, error) {
	positions, err := s.positions.ListByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	locks := make(map[uuid.UUID]int64, len(positions))
	for _, p := range positions {
		locks[p.AgentID] += p.BeliefLock
	}
	return locks, nil
}

// coverage is the largest penalty an agent can absorb without breaking the
// collateral invariant: free stake plus the lock reserved on this pool.
func (s *EpochService) coverage(ctx context.Context, agentID uuid.UUID, stake, poolLock int64) int64 {
	totalLocks, err := s.positions.SumLocksByAgent(ctx, agentID)
	if err != nil {
		return 0
	}
	free := stake - totalLocks
	if free < 0 {
		free = 0
	}
	c := free + poolLock
	if c > stake {
		c = stake
	}
	return c
}

// restoreLockInvariant shrinks the agent's locks on the settled pool when a
// penalty pushed stake below the aggregate lock total. Penalties are capped
// by coverage, so the shortfall is always absorbable here.
func (s *EpochService) restoreLockInvariant(ctx context.Context, agentID, poolID uuid.UUID) error {
	agent, err := s.agents.GetForUpdate(ctx, agentID)
	if err != nil {
		return err
	}
	totalLocks, err := s.positions.SumLocksByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	shortfall := totalLocks - agent.TotalStake
	if shortfall <= 0 {
		return nil
	}
	positions, err := s.positions.ListByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for i := range positions {
		p := &positions[i]
		if p.PoolID != poolID || p.BeliefLock == 0 || shortfall == 0 {
			continue
		}
		cut := p.BeliefLock
		if cut > shortfall {
			cut = shortfall
		}
		p.BeliefLock -= cut
		shortfall -= cut
		if err := s.positions.Update(ctx, p); err != nil {
			return err
		}
	}
	if shortfall > 0 {
		return ErrInvariantViolation
	}
	return nil
}

// Start runs the settlement sweeper in a background goroutine.
func (s *EpochService) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("settlement worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				if err := s.RunOnce(ctx); err != nil {
					s.logger.Error("settlement sweep failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("settlement worker stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker.
func (s *EpochService) Stop() {
	close(s.stopCh)
	<-s.done
}

// RunOnce sweeps every active belief and settles the eligible ones.
func (s *EpochService) RunOnce(ctx context.Context) error {
	beliefs, err := s.beliefs.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range beliefs {
		b := &beliefs[i]
		_, err := s.Settle(ctx, b.ID)
		switch {
		case err == nil:
		case errors.Is(err, ErrSettlementInProgress):
		case isNotEligible(err):
		default:
			s.logger.Warn("settlement failed",
				zap.String("belief_id", b.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func isNotEligible(err error) bool {
	var ne *NotEligibleError
	return errors.As(err, &ne)
}
