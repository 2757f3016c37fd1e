// Package anchor implements the read-only and write-side anchor client:
// writing a digest via a smart-contract call and verifying an anchored
// digest over raw JSON-RPC. The verification path has no transitive
// dependencies beyond HTTP and hashing.
package anchor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("anchor rpc error %d: %s", e.Code, e.Message)
}

// Config configures one anchor client instance.
type Config struct {
	RPCURL   string
	Contract string
	Timeout  time.Duration
}

// DefaultTimeout bounds every VerifyAnchor and GetAnchor call, and every
// AnchorDigest call whose Config.Timeout is zero or negative.
const DefaultTimeout = 10 * time.Second

// AnchorResult is returned by anchorDigest.
type AnchorResult struct {
	Anchorer    string    `json:"anchorer"`
	ProjectHash string    `json:"projectHash"`
	Digest      string    `json:"digest"`
	TxHash      string    `json:"txHash"`
	Timestamp   time.Time `json:"timestamp"`
}

// VerifyResult is returned by verifyAnchor.
type VerifyResult struct {
	Anchored  bool      `json:"anchored"`
	Digest    string    `json:"digest"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AnchorInfo is returned by getAnchor.
type AnchorInfo struct {
	Anchorer    string    `json:"anchorer"`
	ProjectHash string    `json:"projectHash"`
	Timestamp   time.Time `json:"timestamp"`
}

// Client writes and verifies anchored digests over raw JSON-RPC.
type Client struct {
	client *http.Client
}

// New constructs a Client. httpClient may be nil to use http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: httpClient}
}

// AnchorDigest writes digest on-chain via a smart-contract invocation,
// ABI-encoding (digest, projectHash) as calldata.
func (c *Client) AnchorDigest(cfg Config, digest, projectHash string) (AnchorResult, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	calldata := abiEncodeAnchorCall(digest, projectHash)
	raw, err := c.call(ctx, cfg.RPCURL, "invokefunction", []interface{}{cfg.Contract, "anchorDigest", calldata})
	if err != nil {
		return AnchorResult{}, err
	}

	var decoded struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return AnchorResult{}, fmt.Errorf("anchor: malformed invokefunction result: %w", err)
	}

	return AnchorResult{
		Digest:      digest,
		ProjectHash: projectHash,
		TxHash:      decoded.TxHash,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// VerifyAnchor reports whether digest has been anchored at contract.
func (c *Client) VerifyAnchor(rpcURL, contract, digest string) (VerifyResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	calldata := abiEncodeReadCall(digest)
	raw, err := c.call(ctx, rpcURL, "invokefunction", []interface{}{contract, "verifyAnchor", calldata})
	if err != nil {
		return VerifyResult{}, err
	}

	var decoded struct {
		Anchored  bool   `json:"anchored"`
		Timestamp int64  `json:"timestamp"`
		Digest    string `json:"digest"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return VerifyResult{}, fmt.Errorf("anchor: malformed verifyAnchor result: %w", err)
	}

	result := VerifyResult{Anchored: decoded.Anchored, Digest: digest}
	if decoded.Timestamp > 0 {
		result.Timestamp = time.Unix(decoded.Timestamp, 0).UTC()
	}
	return result, nil
}

// GetAnchor fetches who anchored digest and when.
func (c *Client) GetAnchor(rpcURL, contract, digest string) (AnchorInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	calldata := abiEncodeReadCall(digest)
	raw, err := c.call(ctx, rpcURL, "invokefunction", []interface{}{contract, "getAnchor", calldata})
	if err != nil {
		return AnchorInfo{}, err
	}

	var decoded struct {
		Anchorer    string `json:"anchorer"`
		ProjectHash string `json:"projectHash"`
		Timestamp   int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return AnchorInfo{}, fmt.Errorf("anchor: malformed getAnchor result: %w", err)
	}

	return AnchorInfo{
		Anchorer:    decoded.Anchorer,
		ProjectHash: decoded.ProjectHash,
		Timestamp:   time.Unix(decoded.Timestamp, 0).UTC(),
	}, nil
}

func (c *Client) call(ctx context.Context, rpcURL, method string, params []interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("anchor: failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// abiEncodeAnchorCall produces a minimal ABI-style hex calldata blob for the
// write path: the digest and project hash concatenated as raw bytes.
func abiEncodeAnchorCall(digest, projectHash string) string {
	return "0x" + hex.EncodeToString([]byte(digest)) + hex.EncodeToString([]byte(projectHash))
}

func abiEncodeReadCall(digest string) string {
	return "0x" + hex.EncodeToString([]byte(digest))
}
