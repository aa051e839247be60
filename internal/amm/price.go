// Package amm implements the dual-reserve pricing curve. One independent
// constant-function reserve exists per side; each exposes its price as a
// sqrtPriceX96 fixed-point value (96 fractional bits). All math is integer
// arithmetic on 256-bit words so the off-chain mirror stays bit-identical to
// the on-chain program.
package amm

import (
	"errors"
	"math"

	"github.com/holiman/uint256"

	"github.com/veritaslabs/veritas/internal/domain"
)

// RelevanceScale is the fixed-point denominator of quantized relevance
// scores (parts per million).
const RelevanceScale = 1_000_000

var (
	ErrNonPositiveAmount  = errors.New("amount must be positive")
	ErrInsufficientSupply = errors.New("sell exceeds outstanding supply")
	ErrReserveOverflow    = errors.New("reserve exceeds smallest-unit range")
)

// SqrtPriceX96 derives the side price from its reserve and supply:
// sqrt((reserve << 192) / supply). A side with no supply has no price.
func SqrtPriceX96(reserve, supply int64) *uint256.Int {
	if reserve <= 0 || supply <= 0 {
		return uint256.NewInt(0)
	}
	n := uint256.NewInt(uint64(reserve))
	n.Lsh(n, 192)
	n.Div(n, uint256.NewInt(uint64(supply)))
	return n.Sqrt(n)
}

// PricePPM recovers price = (sqrtPriceX96 / 2^96)^2 scaled to parts per
// million. Saturates at MaxInt64 for degenerate reserve/supply ratios.
func PricePPM(sqrtPrice *uint256.Int) int64 {
	if sqrtPrice == nil || sqrtPrice.IsZero() {
		return 0
	}
	p := new(uint256.Int).Mul(sqrtPrice, sqrtPrice) // X192
	p.Rsh(p, 96)                                    // X96
	p.Mul(p, uint256.NewInt(RelevanceScale))
	p.Rsh(p, 96)
	if !p.IsUint64() || p.Uint64() > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(p.Uint64())
}

// ImpliedRelevancePPM is the market-derived relevance estimate
// price_long / (price_long + price_short), in parts per million. With no
// price on either side it returns the uninformative midpoint.
func ImpliedRelevancePPM(sqrtLong, sqrtShort *uint256.Int) int64 {
	pl := squaredShifted(sqrtLong)
	ps := squaredShifted(sqrtShort)
	den := new(uint256.Int).Add(pl, ps)
	if den.IsZero() {
		return RelevanceScale / 2
	}
	num := new(uint256.Int).Mul(pl, uint256.NewInt(RelevanceScale))
	num.Div(num, den)
	return int64(num.Uint64())
}

// squaredShifted returns sqrt^2 >> 32, keeping headroom for the ppm scale
// multiplication.
func squaredShifted(sqrt *uint256.Int) *uint256.Int {
	if sqrt == nil || sqrt.IsZero() {
		return uint256.NewInt(0)
	}
	p := new(uint256.Int).Mul(sqrt, sqrt)
	return p.Rsh(p, 32)
}

// ApplyBuy moves notional into the side's reserve, mints tokenAmount supply
// and refreshes the side's sqrt price.
func ApplyBuy(p *domain.Pool, side domain.Side, tokenAmount, notional int64) error {
	if tokenAmount <= 0 || notional <= 0 {
		return ErrNonPositiveAmount
	}
	reserve, supply := p.Reserve(side), p.Supply(side)
	if reserve > math.MaxInt64-notional || supply > math.MaxInt64-tokenAmount {
		return ErrReserveOverflow
	}
	setSide(p, side, reserve+notional, supply+tokenAmount)
	return nil
}

// ApplySell burns tokenAmount supply and pays out the pro-rata share of the
// side's reserve: proceeds = reserve * tokenAmount / supply, rounded down in
// the pool's favor.
func ApplySell(p *domain.Pool, side domain.Side, tokenAmount int64) (int64, error) {
	if tokenAmount <= 0 {
		return 0, ErrNonPositiveAmount
	}
	reserve, supply := p.Reserve(side), p.Supply(side)
	if tokenAmount > supply {
		return 0, ErrInsufficientSupply
	}
	out := uint256.NewInt(uint64(reserve))
	out.Mul(out, uint256.NewInt(uint64(tokenAmount)))
	out.Div(out, uint256.NewInt(uint64(supply)))
	proceeds := int64(out.Uint64())
	setSide(p, side, reserve-proceeds, supply-tokenAmount)
	return proceeds, nil
}

// Rebalance redistributes the combined reserve so implied relevance matches
// the freshly settled consensus aggregate. Settlement is the only writer of
// price state besides trades.
func Rebalance(p *domain.Pool, relevancePPM int64) {
	if relevancePPM < 0 {
		relevancePPM = 0
	}
	if relevancePPM > RelevanceScale {
		relevancePPM = RelevanceScale
	}
	total := uint256.NewInt(uint64(p.ReserveLong))
	total.Add(total, uint256.NewInt(uint64(p.ReserveShort)))
	long := new(uint256.Int).Mul(total, uint256.NewInt(uint64(relevancePPM)))
	long.Div(long, uint256.NewInt(RelevanceScale))
	newLong := int64(long.Uint64())
	newShort := p.ReserveLong + p.ReserveShort - newLong
	setSide(p, domain.SideLong, newLong, p.SupplyLong)
	setSide(p, domain.SideShort, newShort, p.SupplyShort)
}

func setSide(p *domain.Pool, side domain.Side, reserve, supply int64) {
	sqrt := SqrtPriceX96(reserve, supply)
	if side == domain.SideLong {
		p.ReserveLong, p.SupplyLong, p.SqrtPriceLongX96 = reserve, supply, sqrt
	} else {
		p.ReserveShort, p.SupplyShort, p.SqrtPriceShortX96 = reserve, supply, sqrt
	}
}
