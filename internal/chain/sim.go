package chain

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SimClient is an in-process ledger for development and tests. It accepts
// every instruction and fabricates a unique tx signature.
type SimClient struct {
	mu sync.Mutex

	// Submissions records accepted instructions for assertions.
	Submissions []SimSubmission

	// Err, when set, is returned by every SubmitSettlement call.
	Err error
}

type SimSubmission struct {
	PoolID       uuid.UUID
	RelevancePPM int64
	TxSignature  string
}

func NewSimClient() *SimClient {
	return &SimClient{}
}

func (c *SimClient) SubmitSettlement(_ context.Context, poolID uuid.UUID, relevancePPM int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	sig := "sim-" + uuid.NewString()
	c.Submissions = append(c.Submissions, SimSubmission{
		PoolID:       poolID,
		RelevancePPM: relevancePPM,
		TxSignature:  sig,
	})
	return sig, nil
}
