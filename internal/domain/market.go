package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Side is one leg of the two-sided relevance claim.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ValidSide reports whether s is a known side.
func ValidSide(s string) bool {
	return Side(s) == SideLong || Side(s) == SideShort
}

// TradeKind distinguishes entries from exits.
type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

// ValidTradeKind reports whether k is a known trade kind.
func ValidTradeKind(k string) bool {
	return TradeKind(k) == TradeBuy || TradeKind(k) == TradeSell
}

// Pool holds the dual-reserve pricing state for one belief market. Reserves,
// supplies and notional amounts are smallest-unit integers; sqrt prices are
// X96 fixed point (96 fractional bits).
type Pool struct {
	ID                  uuid.UUID    `json:"id"`
	BeliefID            uuid.UUID    `json:"belief_id"`
	ReserveLong         int64        `json:"r_long"`
	ReserveShort        int64        `json:"r_short"`
	SupplyLong          int64        `json:"supply_long"`
	SupplyShort         int64        `json:"supply_short"`
	SqrtPriceLongX96    *uint256.Int `json:"sqrt_price_long_x96"`
	SqrtPriceShortX96   *uint256.Int `json:"sqrt_price_short_x96"`
	LastSettlementEpoch int64        `json:"last_settlement_epoch"`
	LastSettlementTx    string       `json:"last_settlement_tx,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Reserve returns the reserve for the given side.
func (p *Pool) Reserve(side Side) int64 {
	if side == SideLong {
		return p.ReserveLong
	}
	return p.ReserveShort
}

// Supply returns the outstanding token supply for the given side.
func (p *Pool) Supply(side Side) int64 {
	if side == SideLong {
		return p.SupplyLong
	}
	return p.SupplyShort
}

// Position is an agent's holding on one side of a pool. TokenBalance and
// BeliefLock reach zero together: closing a position releases its lock.
type Position struct {
	ID           uuid.UUID `json:"id"`
	AgentID      uuid.UUID `json:"agent_id"`
	PoolID       uuid.UUID `json:"pool_id"`
	Side         Side      `json:"side"`
	TokenBalance int64     `json:"token_balance"`
	BeliefLock   int64     `json:"belief_lock"`
	CostBasis    int64     `json:"cost_basis"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TradeReceipt is the committed outcome of a recorded trade.
type TradeReceipt struct {
	PositionID uuid.UUID `json:"position_id"`
	NewBalance int64     `json:"new_balance"`
	NewLock    int64     `json:"new_lock"`
	LockDelta  int64     `json:"lock_delta"`
	// Notional is the amount paid in on a buy, or the proceeds on a sell.
	Notional int64 `json:"notional"`
}
