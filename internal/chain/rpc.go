package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// RPCClient posts settlement instructions to an HTTP ledger gateway.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

type settlementRequest struct {
	PoolID       string `json:"pool_id"`
	RelevancePPM int64  `json:"relevance_ppm"`
}

type settlementResponse struct {
	TxSignature string `json:"tx_signature"`
	Error       string `json:"error,omitempty"`
}

func (c *RPCClient) SubmitSettlement(ctx context.Context, poolID uuid.UUID, relevancePPM int64) (string, error) {
	body, err := json.Marshal(settlementRequest{
		PoolID:       poolID.String(),
		RelevancePPM: relevancePPM,
	})
	if err != nil {
		return "", fmt.Errorf("marshal settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("settlement request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read settlement response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("ledger gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out settlementResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode settlement response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ledger gateway error: %s", out.Error)
	}
	if out.TxSignature == "" {
		return "", fmt.Errorf("ledger gateway returned no tx signature")
	}
	return out.TxSignature, nil
}
