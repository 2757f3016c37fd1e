package attestation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAgentCard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/kontext.json", r.URL.Path)
		card := AgentCard{AgentID: "agent-2", KontextVersion: "1.0", Capabilities: []string{"verify"}, AttestEndpoint: "https://peer.example/attest"}
		require.NoError(t, json.NewEncoder(w).Encode(card))
	}))
	defer server.Close()

	c := New(nil)
	card, err := c.FetchAgentCard(Config{}, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "agent-2", card.AgentID)
	assert.Equal(t, "https://peer.example/attest", card.AttestEndpoint)
}

func TestFetchAgentCardTrimsTrailingSlash(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewEncoder(w).Encode(AgentCard{}))
	}))
	defer server.Close()

	c := New(nil)
	_, err := c.FetchAgentCard(Config{}, server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "/.well-known/kontext.json", gotPath)
}

func TestExchangeAttestation(t *testing.T) {
	var gotPayload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		result := Result{Attested: true, Digest: "counterdigest", AgentID: "agent-2", Timestamp: time.Now().UTC()}
		require.NoError(t, json.NewEncoder(w).Encode(result))
	}))
	defer server.Close()

	c := New(nil)
	payload := Payload{SenderDigest: "mydigest", SenderAgentID: "agent-1", Amount: "10", Token: "USDC", Timestamp: time.Now().UTC()}
	result, err := c.ExchangeAttestation(Config{}, server.URL, payload)
	require.NoError(t, err)
	assert.True(t, result.Attested)
	assert.Equal(t, "counterdigest", result.Digest)
	assert.Equal(t, "mydigest", gotPayload.SenderDigest)
}

func TestExchangeAttestationErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(nil)
	_, err := c.ExchangeAttestation(Config{}, server.URL, Payload{})
	require.Error(t, err)
}

func TestAttestationRespectsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(nil)
	_, err := c.FetchAgentCard(Config{Timeout: 5 * time.Millisecond}, server.URL)
	require.Error(t, err)
}
