package domain

import "time"

// ProtocolParams is a read-only snapshot of the live protocol tunables. A
// snapshot is taken once per operation and passed in; components never fetch
// configuration ad hoc mid-pipeline.
type ProtocolParams struct {
	// MinNewSubmissions is the number of unique agents that must submit
	// since the last settlement before a belief becomes settle-eligible.
	MinNewSubmissions int

	// BaseSkimRateBps is the collateral lock rate, in basis points of
	// position notional, charged to fully collateralized agents.
	BaseSkimRateBps int64

	// MaxSkimRateBps is the hard cap on the lock rate. A trade whose
	// projected rate exceeds it is refused outright.
	MaxSkimRateBps int64

	// MinSettleInterval is the cooldown between settlements of one belief.
	MinSettleInterval time.Duration

	// BaselineSkimBps is the non-zero penalty floor applied even to
	// neutral-score agents during redistribution.
	BaselineSkimBps int64

	// MaxSlashRateBps caps the per-epoch penalty on any one agent's stake.
	MaxSlashRateBps int64

	// SlashSlopeBps scales |score| x certainty into additional penalty bps.
	SlashSlopeBps int64

	// LearningThreshold is the minimum disagreement reduction (or aggregate
	// shift) for an epoch to count as having absorbed new information.
	LearningThreshold float64
}

// DefaultProtocolParams are the values seeded into a fresh deployment.
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		MinNewSubmissions: 2,
		BaseSkimRateBps:   200,
		MaxSkimRateBps:    3000,
		MinSettleInterval: 5 * time.Minute,
		BaselineSkimBps:   10,
		MaxSlashRateBps:   1000,
		SlashSlopeBps:     2000,
		LearningThreshold: 1e-4,
	}
}
