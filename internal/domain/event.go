package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LedgerEventType enumerates the event shapes emitted by the external
// settlement ledger. Unknown shapes are rejected, never coerced.
type LedgerEventType string

const (
	EventDeposit             LedgerEventType = "deposit"
	EventWithdraw            LedgerEventType = "withdraw"
	EventSettlementConfirmed LedgerEventType = "settlement_confirmed"
)

var ErrMalformedEvent = errors.New("malformed ledger event")

// LedgerEvent is one at-least-once delivery from the external ledger's event
// feed, deduplicated by TxSignature before any mutation.
type LedgerEvent struct {
	TxSignature  string          `json:"tx_signature"`
	Type         LedgerEventType `json:"type"`
	AgentID      *uuid.UUID      `json:"agent_id,omitempty"`
	PoolID       *uuid.UUID      `json:"pool_id,omitempty"`
	Amount       *int64          `json:"amount,omitempty"`
	RelevancePPM *int64          `json:"relevance_ppm,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Validate enforces the tagged-union shape per event type before any field
// is used.
func (e *LedgerEvent) Validate() error {
	if e.TxSignature == "" {
		return fmt.Errorf("%w: missing tx_signature", ErrMalformedEvent)
	}
	switch e.Type {
	case EventDeposit, EventWithdraw:
		if e.AgentID == nil || *e.AgentID == uuid.Nil {
			return fmt.Errorf("%w: %s requires agent_id", ErrMalformedEvent, e.Type)
		}
		if e.Amount == nil || *e.Amount <= 0 {
			return fmt.Errorf("%w: %s requires a positive amount", ErrMalformedEvent, e.Type)
		}
	case EventSettlementConfirmed:
		if e.PoolID == nil || *e.PoolID == uuid.Nil {
			return fmt.Errorf("%w: settlement_confirmed requires pool_id", ErrMalformedEvent)
		}
		if e.RelevancePPM == nil || *e.RelevancePPM < 0 || *e.RelevancePPM > 1_000_000 {
			return fmt.Errorf("%w: settlement_confirmed requires relevance_ppm in [0, 1e6]", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}
