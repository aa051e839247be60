// Package chain talks to the external settlement ledger. The off-chain
// mirror only computes what a settlement instruction should contain; this
// package submits it and hands back the transaction signature used for
// event-feed reconciliation.
package chain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Client submits a settlement instruction (pool, quantized relevance) to the
// external ledger and returns its transaction signature.
type Client interface {
	SubmitSettlement(ctx context.Context, poolID uuid.UUID, relevancePPM int64) (string, error)
}

// Provider constants
const (
	ProviderRPC = "rpc"
	ProviderSim = "sim"
)

// NewClient creates a settlement ledger client based on the provider name.
func NewClient(provider, endpoint string) (Client, error) {
	switch provider {
	case ProviderRPC:
		if endpoint == "" {
			return nil, fmt.Errorf("CHAIN_RPC_ENDPOINT is required for rpc provider")
		}
		return NewRPCClient(endpoint), nil

	case ProviderSim:
		return NewSimClient(), nil

	default:
		return nil, fmt.Errorf("unknown chain provider: %s (valid options: rpc, sim)", provider)
	}
}
