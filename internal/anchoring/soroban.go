package anchoring

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stellar-anchor-watch/internal/config"
)

// SorobanContract invokes the deployed snapshot contract through a Soroban
// RPC endpoint. All calls are signed with the single configured submitter
// key; the contract rejects every other submitter.
type SorobanContract struct {
	client       *http.Client
	endpoint     string
	contractID   string
	submitterKey string
}

func NewSorobanContract(cfg *config.AnchoringConfig) *SorobanContract {
	return &SorobanContract{
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		endpoint:     cfg.ContractURL,
		contractID:   cfg.ContractID,
		submitterKey: cfg.SubmitterKey,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type invokeParams struct {
	ContractID   string   `json:"contract_id"`
	Function     string   `json:"function"`
	Args         []string `json:"args"`
	SubmitterKey string   `json:"submitter_key,omitempty"`
}

type snapshotResult struct {
	Hash           string `json:"hash"`
	Epoch          uint64 `json:"epoch"`
	ChainTimestamp uint64 `json:"chain_timestamp"`
}

func (c *SorobanContract) SubmitSnapshot(ctx context.Context, hash []byte, epoch uint64) (uint64, error) {
	// The contract enforces these too; checking locally avoids burning an RPC
	// round trip on a programming error.
	if len(hash) != HashSize {
		return 0, ErrInvalidHashSize
	}
	if epoch == 0 {
		return 0, ErrInvalidEpoch
	}

	var result snapshotResult
	err := c.invoke(ctx, "submit_snapshot", []string{hex.EncodeToString(hash), fmt.Sprintf("%d", epoch)}, true, &result)
	if err != nil {
		return 0, err
	}
	return result.ChainTimestamp, nil
}

func (c *SorobanContract) GetSnapshot(ctx context.Context, epoch uint64) ([]byte, error) {
	var result snapshotResult
	if err := c.invoke(ctx, "get_snapshot", []string{fmt.Sprintf("%d", epoch)}, false, &result); err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(result.Hash)
	if err != nil {
		return nil, fmt.Errorf("contract returned malformed hash for epoch %d: %w", epoch, err)
	}
	return hash, nil
}

func (c *SorobanContract) LatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	var result snapshotResult
	if err := c.invoke(ctx, "latest_snapshot", nil, false, &result); err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(result.Hash)
	if err != nil {
		return nil, fmt.Errorf("contract returned malformed hash for latest snapshot: %w", err)
	}
	return &SnapshotRecord{Hash: hash, Epoch: result.Epoch, ChainTimestamp: result.ChainTimestamp}, nil
}

func (c *SorobanContract) VerifySnapshot(ctx context.Context, hash []byte) (bool, error) {
	var verified bool
	if err := c.invoke(ctx, "verify_snapshot", []string{hex.EncodeToString(hash)}, false, &verified); err != nil {
		return false, err
	}
	return verified, nil
}

func (c *SorobanContract) invoke(ctx context.Context, function string, args []string, signed bool, out interface{}) error {
	params := invokeParams{
		ContractID: c.contractID,
		Function:   function,
		Args:       args,
	}
	if signed {
		params.SubmitterKey = c.submitterKey
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "invokeContractFunction", Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", function, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("contract call %s failed: %w", function, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("contract call %s returned status %d: %s", function, resp.StatusCode, string(payload))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", function, err)
	}
	if rpcResp.Error != nil {
		return contractError(function, rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", function, err)
		}
	}
	return nil
}

// contractError maps the contract's symbolic error names onto the package
// sentinels so callers branch on errors.Is regardless of the implementation.
func contractError(function string, rpcErr *rpcError) error {
	switch {
	case strings.Contains(rpcErr.Message, "InvalidHashSize"):
		return ErrInvalidHashSize
	case strings.Contains(rpcErr.Message, "InvalidEpoch"):
		return ErrInvalidEpoch
	case strings.Contains(rpcErr.Message, "DuplicateEpoch"):
		return ErrDuplicateEpoch
	case strings.Contains(rpcErr.Message, "SnapshotNotFound"):
		return ErrSnapshotNotFound
	case strings.Contains(rpcErr.Message, "NoSnapshotsExist"):
		return ErrNoSnapshots
	case strings.Contains(rpcErr.Message, "Unauthorized"):
		return ErrUnauthorizedSubmitter
	default:
		return fmt.Errorf("contract call %s failed with code %d: %s", function, rpcErr.Code, rpcErr.Message)
	}
}

var _ SnapshotContract = (*SorobanContract)(nil)
