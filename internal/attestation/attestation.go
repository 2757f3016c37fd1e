// Package attestation implements the agent-card discovery and bilateral
// attestation handshake: fetching a counterparty's well-known capability
// card and exchanging signed transaction digests with it.
package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every attestation call whose Config.Timeout is zero
// or negative; a positive Config.Timeout replaces it.
const DefaultTimeout = 5 * time.Second

// AgentCard is the document served at {endpoint}/.well-known/kontext.json.
type AgentCard struct {
	AgentID        string   `json:"agentId"`
	KontextVersion string   `json:"kontextVersion"`
	Capabilities   []string `json:"capabilities"`
	AttestEndpoint string   `json:"attestEndpoint"`
}

// Payload is POSTed to a counterparty's attestEndpoint.
type Payload struct {
	SenderDigest  string    `json:"senderDigest"`
	SenderAgentID string    `json:"senderAgentId"`
	Amount        string    `json:"amount"`
	Token         string    `json:"token"`
	Timestamp     time.Time `json:"timestamp"`
}

// Result is the counterparty's response to a Payload.
type Result struct {
	Attested  bool      `json:"attested"`
	Digest    string    `json:"digest"`
	AgentID   string    `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

// Config tunes client timeout behavior.
type Config struct {
	Timeout time.Duration
}

// Client discovers agent cards and exchanges attestations.
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

// FetchAgentCard GETs endpoint/.well-known/kontext.json.
func (c *Client) FetchAgentCard(cfg Config, endpoint string) (AgentCard, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := strings.TrimRight(endpoint, "/") + "/.well-known/kontext.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return AgentCard{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return AgentCard{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return AgentCard{}, fmt.Errorf("attestation: agent card fetch returned status %d", resp.StatusCode)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("attestation: malformed agent card: %w", err)
	}
	return card, nil
}

// ExchangeAttestation POSTs payload to attestEndpoint and returns the
// counterparty's signed acknowledgement.
func (c *Client) ExchangeAttestation(cfg Config, attestEndpoint string, payload Payload) (Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, attestEndpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("attestation: exchange returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("attestation: malformed exchange response: %w", err)
	}
	return result, nil
}
