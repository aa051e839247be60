package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/veritaslabs/veritas/internal/domain"
	"github.com/veritaslabs/veritas/internal/store"
)

// ErrDuplicateEvent marks an already-applied ledger event. The feed is
// at-least-once, so duplicates are expected and harmless.
var ErrDuplicateEvent = errors.New("ledger event already applied")

// ErrWithdrawBlocked means the withdrawal would dip into locked collateral.
var ErrWithdrawBlocked = errors.New("withdrawal exceeds free stake")

// MirrorService applies confirmed external ledger events to the off-chain
// state. Each event mutates exactly once, keyed by transaction signature.
type MirrorService struct {
	txm       domain.TxManager
	events    domain.LedgerEventStore
	agents    domain.AgentStore
	positions domain.PositionStore
	pools     domain.PoolStore
	logger    *zap.Logger
}

func NewMirrorService(txm domain.TxManager, es domain.LedgerEventStore, as domain.AgentStore,
	pos domain.PositionStore, ps domain.PoolStore, logger *zap.Logger) *MirrorService {
	return &MirrorService{txm: txm, events: es, agents: as, positions: pos, pools: ps, logger: logger}
}

// Apply validates and applies one ledger event. The dedupe insert and the
// state mutation share a transaction, so a replayed signature is a clean
// no-op and a failed mutation leaves the signature unapplied.
func (s *MirrorService) Apply(ctx context.Context, ev *domain.LedgerEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.events.Insert(ctx, ev); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrDuplicateEvent
			}
			return err
		}

		switch ev.Type {
		case domain.EventDeposit:
			return s.applyDeposit(ctx, ev)
		case domain.EventWithdraw:
			return s.applyWithdraw(ctx, ev)
		case domain.EventSettlementConfirmed:
			return s.pools.SetSettlementTx(ctx, *ev.PoolID, ev.TxSignature)
		default:
			return domain.ErrMalformedEvent
		}
	})
	if errors.Is(err, ErrDuplicateEvent) {
		s.logger.Debug("ledger event replayed",
			zap.String("tx_signature", ev.TxSignature),
			zap.String("type", string(ev.Type)))
		return err
	}
	return err
}

func (s *MirrorService) applyDeposit(ctx context.Context, ev *domain.LedgerEvent) error {
	if _, err := s.agents.GetByID(ctx, *ev.AgentID); err != nil {
		return ErrAgentNotFound
	}
	return s.agents.AddStake(ctx, *ev.AgentID, *ev.Amount)
}

// applyWithdraw releases free stake only. Locked collateral backs open
// positions and cannot leave until the positions shrink.
func (s *MirrorService) applyWithdraw(ctx context.Context, ev *domain.LedgerEvent) error {
	agent, err := s.agents.GetForUpdate(ctx, *ev.AgentID)
	if err != nil {
		return ErrAgentNotFound
	}
	locked, err := s.positions.SumLocksByAgent(ctx, agent.ID)
	if err != nil {
		return err
	}
	if agent.TotalStake-locked < *ev.Amount {
		return ErrWithdrawBlocked
	}
	return s.agents.AddStake(ctx, agent.ID, -*ev.Amount)
}
