package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/actionstore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/anomaly"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/approvalengine"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/compliance"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/digestchain"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/engine"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/export"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/plangate"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/screening"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/trustscore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/webhook"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithTier(t, plan.TierFree)
}

func newTestServerWithTier(t *testing.T, tier plan.Tier) *httptest.Server {
	t.Helper()
	store := actionstore.New()
	chain := digestchain.New()
	gate := plangate.New(tier)
	screener := screening.New()
	checker := compliance.New(screener)
	detector := anomaly.New(anomaly.DefaultConfig(), tier, store)
	scorer := trustscore.New(store)
	approver := approvalengine.New()
	log := logging.New("kontext-test", "error", "json")

	eng := engine.New(store, chain, gate, checker, detector, scorer, approver, log)
	wh := webhook.New(webhook.DefaultConfig(), log)
	eng.SetWebhookDispatcher(wh)

	h := New(eng, export.New(store, chain), wh, log)
	return httptest.NewServer(h.Router(nil))
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("X-Project-Id", "proj-1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthReportsOK(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostActionsVerifiesCleanTransaction(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body := map[string]any{
		"actions": []map[string]any{{
			"agentId": "agent-1", "txHash": "0xabc", "chain": "base",
			"amount": "500", "token": "USDC",
			"from":   "0x1111111111111111111111111111111111111111",
			"to":     "0x2222222222222222222222222222222222222222",
		}},
	}
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/actions", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, true, decoded["success"])
	assert.EqualValues(t, 1, decoded["received"])
}

func TestPostActionsAppendsGenericAction(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body := map[string]any{
		"actions": []map[string]any{{
			"type": "action", "agentId": "agent-1",
			"description": "reconciled ledger against bank statement",
			"metadata":    map[string]any{"source": "backoffice"},
		}},
	}
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/actions", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, true, decoded["success"])
	assert.EqualValues(t, 1, decoded["received"])
}

func TestPostActionsAppendsReasoningAction(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body := map[string]any{
		"actions": []map[string]any{{
			"type": "reasoning", "agentId": "agent-1",
			"reasoning": map[string]any{
				"action": "approve refund", "reasoning": "within policy limit", "confidence": 0.92,
			},
		}},
	}
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/actions", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostActionsRejectsUnknownType(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body := map[string]any{
		"actions": []map[string]any{{
			"type": "telepathy", "agentId": "agent-1", "description": "x",
		}},
	}
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/actions", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostTasksThenConfirm(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	created := doJSON(t, http.MethodPost, server.URL+"/v1/tasks", map[string]any{
		"description": "wire confirmation", "agentId": "agent-1",
		"requiredEvidence": []string{"invoice"},
	})
	defer created.Body.Close()
	require.Equal(t, http.StatusCreated, created.StatusCode)

	var taskResp struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&taskResp))
	require.NotEmpty(t, taskResp.Task.ID)

	confirmed := doJSON(t, http.MethodPut, server.URL+"/v1/tasks/"+taskResp.Task.ID+"/confirm", map[string]any{
		"evidence": map[string]string{"invoice": "doc-1"},
	})
	defer confirmed.Body.Close()
	assert.Equal(t, http.StatusOK, confirmed.StatusCode)
}

func TestGetTrustScoreForUnknownAgentIsNeutral(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/trust/agent-unknown", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostAnomaliesEvaluateDoesNotAffectStore(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/anomalies/evaluate", map[string]any{
		"agentId": "agent-1", "txHash": "0xdef", "amount": "50000",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, true, decoded["evaluated"])

	chainResp := doJSON(t, http.MethodGet, server.URL+"/v1/chain/verify", nil)
	defer chainResp.Body.Close()
	assert.Equal(t, http.StatusOK, chainResp.StatusCode)
}

func TestAuditExportCSVGatedByTier(t *testing.T) {
	free := newTestServer(t)
	defer free.Close()

	resp := doJSON(t, http.MethodGet, free.URL+"/v1/audit/export?format=csv", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	pro := newTestServerWithTier(t, plan.TierPro)
	defer pro.Close()

	proResp := doJSON(t, http.MethodGet, pro.URL+"/v1/audit/export?format=csv", nil)
	defer proResp.Body.Close()
	assert.Equal(t, http.StatusOK, proResp.StatusCode)
	assert.Equal(t, "text/csv", proResp.Header.Get("Content-Type"))
}

func TestPostWebhooksRequiresProTier(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/webhooks", map[string]any{
		"url": "https://example.com/hook", "events": []string{"anomaly.detected"}, "active": true,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestPostWebhooksThenListDeliveries(t *testing.T) {
	server := newTestServerWithTier(t, plan.TierPro)
	defer server.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/webhooks", map[string]any{
		"url": "https://example.com/hook", "events": []string{"anomaly.detected"}, "active": true,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var decoded struct {
		Webhook struct {
			ID string `json:"id"`
		} `json:"webhook"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.NotEmpty(t, decoded.Webhook.ID)

	deliveries := doJSON(t, http.MethodGet, server.URL+"/v1/webhooks/"+decoded.Webhook.ID+"/deliveries", nil)
	defer deliveries.Body.Close()
	assert.Equal(t, http.StatusOK, deliveries.StatusCode)
}
