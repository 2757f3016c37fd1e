// Package httpapi exposes the engine over HTTP, translating wire requests
// into engine calls and engine results into the standard response
// envelopes.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/approval"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/httputil"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/actionstore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/engine"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/export"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/plangate"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/webhook"
)

// Handler wires the engine, export builder, and webhook dispatcher behind
// the public HTTP routes.
type Handler struct {
	engine  *engine.Engine
	export  *export.Builder
	webhook *webhook.Dispatcher
	log     *logging.Logger
}

// New constructs a Handler.
func New(eng *engine.Engine, exp *export.Builder, wh *webhook.Dispatcher, log *logging.Logger) *Handler {
	return &Handler{engine: eng, export: exp, webhook: wh, log: log}
}

// Router builds the gorilla/mux router with every route registered. Callers
// apply service-wide middleware (recovery, CORS, rate limiting, logging,
// metrics) around the returned router; auth is applied here, scoped to the
// /v1 subrouter so /health stays unauthenticated.
func (h *Handler) Router(auth mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if auth != nil {
		v1.Use(auth)
	}
	v1.HandleFunc("/actions", h.postActions).Methods(http.MethodPost)
	v1.HandleFunc("/tasks", h.postTasks).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/confirm", h.putTaskConfirm).Methods(http.MethodPut)
	v1.HandleFunc("/tasks/{id}", h.getTask).Methods(http.MethodGet)
	v1.HandleFunc("/audit/export", h.getAuditExport).Methods(http.MethodGet)
	v1.HandleFunc("/trust/{agentId}", h.getTrust).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies/evaluate", h.postAnomaliesEvaluate).Methods(http.MethodPost)
	v1.HandleFunc("/usage", h.getUsage).Methods(http.MethodGet)

	v1.HandleFunc("/chain/verify", h.getChainVerify).Methods(http.MethodGet)
	v1.HandleFunc("/approvals", h.getApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{id}/decision", h.postApprovalDecision).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks", h.postWebhooks).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}/deliveries", h.getWebhookDeliveries).Methods(http.MethodGet)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}

func (h *Handler) withUsageHeaders(w http.ResponseWriter) {
	usage := h.engine.Gate().Usage()
	w.Header().Set("X-Kontext-Usage", strconv.Itoa(usage.EventCount))
	w.Header().Set("X-Kontext-Limit", strconv.Itoa(usage.Limit))
}

// actionWire is the wire shape of one element of POST /v1/actions's
// actions[] array. An empty or "transaction" type runs the full verify
// pipeline; "reasoning" appends a reasoning trace; any other type is a
// plain metered append.
type actionWire struct {
	Type          action.Kind      `json:"type,omitempty"`
	AgentID       string           `json:"agentId"`
	SessionID     string           `json:"sessionId"`
	Step          string           `json:"step"`
	ParentStep    string           `json:"parentStep"`
	CorrelationID string           `json:"correlationId"`
	Description   string           `json:"description,omitempty"`
	TxHash        string           `json:"txHash,omitempty"`
	Chain         action.Chain     `json:"chain,omitempty"`
	Amount        string           `json:"amount,omitempty"`
	Token         string           `json:"token,omitempty"`
	From          string           `json:"from,omitempty"`
	To            string           `json:"to,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	Reasoning     *reasoningWire   `json:"reasoning,omitempty"`
	Anchor        bool             `json:"anchor,omitempty"`
	Counterparty  *counterpartyWire `json:"counterparty,omitempty"`
}

type reasoningWire struct {
	Action     string  `json:"action"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	ToolCall   string  `json:"toolCall,omitempty"`
	ToolResult string  `json:"toolResult,omitempty"`
}

type counterpartyWire struct {
	Endpoint string `json:"endpoint"`
}

func (t actionWire) toTransactionInput(projectID string) engine.TransactionInput {
	in := engine.TransactionInput{
		ProjectID: projectID, AgentID: t.AgentID, SessionID: t.SessionID,
		Step: t.Step, ParentStep: t.ParentStep, CorrelationID: t.CorrelationID,
		TxHash: t.TxHash, Chain: t.Chain, Amount: t.Amount, Token: t.Token,
		From: t.From, To: t.To, Metadata: t.Metadata, Anchor: t.Anchor,
	}
	if t.Reasoning != nil {
		in.Reasoning = t.toReasoningInput()
	}
	if t.Counterparty != nil {
		in.Counterparty = &engine.CounterpartyInput{Endpoint: t.Counterparty.Endpoint}
	}
	return in
}

func (t actionWire) toReasoningInput() *engine.ReasoningInput {
	in := engine.ReasoningInput{Action: t.Description}
	if t.Reasoning != nil {
		in = engine.ReasoningInput{
			Action: t.Reasoning.Action, Reasoning: t.Reasoning.Reasoning,
			Confidence: t.Reasoning.Confidence, ToolCall: t.Reasoning.ToolCall, ToolResult: t.Reasoning.ToolResult,
		}
		if in.Action == "" {
			in.Action = t.Description
		}
	}
	return &in
}

// appendAction routes one wire action to the engine call its type selects.
func (h *Handler) appendAction(projectID string, wire actionWire) error {
	switch wire.Type {
	case "", action.KindTransaction:
		_, err := h.engine.Verify(wire.toTransactionInput(projectID))
		return err
	case action.KindReasoning:
		_, err := h.engine.LogReasoning(projectID, wire.AgentID, wire.SessionID, *wire.toReasoningInput())
		return err
	default:
		_, err := h.engine.Log(engine.ActionInput{
			ProjectID: projectID, AgentID: wire.AgentID, SessionID: wire.SessionID,
			Step: wire.Step, ParentStep: wire.ParentStep, CorrelationID: wire.CorrelationID,
			Type: wire.Type, Description: wire.Description, Metadata: wire.Metadata,
		})
		return err
	}
}

func (h *Handler) postActions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actions []actionWire `json:"actions"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	projectID := r.Header.Get("X-Project-Id")
	received := 0
	for _, wire := range req.Actions {
		if err := h.appendAction(projectID, wire); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		received++
	}

	h.withUsageHeaders(w)

	// A crossed metering cap is soft: every action above was still processed
	// and appended, the 429 just tells the caller their budget is spent.
	if h.engine.Gate().LimitExceeded() {
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": true, "received": received, "timestamp": time.Now().UTC(),
			"limitExceeded": true, "usage": h.engine.Gate().Usage(),
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true, "received": received, "timestamp": time.Now().UTC(),
	})
}

func (h *Handler) postTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description      string            `json:"description"`
		AgentID          string            `json:"agentId"`
		RequiredEvidence []string          `json:"requiredEvidence"`
		ExpiresInMs      int64             `json:"expiresInMs,omitempty"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	var ttl time.Duration
	if req.ExpiresInMs > 0 {
		ttl = time.Duration(req.ExpiresInMs) * time.Millisecond
	}
	task := h.engine.CreateTask(r.Header.Get("X-Project-Id"), req.Description, req.AgentID, req.RequiredEvidence, ttl)
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (h *Handler) putTaskConfirm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Evidence map[string]string `json:"evidence"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	task, err := h.engine.ConfirmTask(id, req.Evidence)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := h.engine.GetTask(id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *Handler) getAuditExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := export.Format(q.Get("format"))
	if format == "" {
		format = export.FormatJSON
	}
	if format == export.FormatCSV {
		if err := plangate.RequirePlan(plan.FeatureCsvExport, h.engine.Gate().Tier()); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}

	var filter actionstore.Filter
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Start = &t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.End = &t
		}
	}
	filter.AgentID = q.Get("agentId")

	result, err := h.export.Export(r.Header.Get("X-Project-Id"), format, filter, nil)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	h.withUsageHeaders(w)
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (h *Handler) getTrust(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	score := h.engine.GetTrustScore(agentID)
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, score)
}

func (h *Handler) postAnomaliesEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount  string `json:"amount"`
		AgentID string `json:"agentId"`
		TxHash  string `json:"txHash"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	detections := h.engine.EvaluateAnomalies(req.AgentID, req.TxHash, req.Amount)
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"evaluated": true, "anomalyCount": len(detections), "anomalies": detections,
	})
}

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	usage := h.engine.Gate().Usage()
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"plan":             h.engine.Gate().Tier(),
		"eventCount":       usage.EventCount,
		"limit":            usage.Limit,
		"remainingEvents":  usage.RemainingEvents,
		"usagePercentage":  usage.UsagePercentage,
	})
}

func (h *Handler) getChainVerify(w http.ResponseWriter, r *http.Request) {
	result := h.engine.VerifyDigestChain()
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) getApprovals(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	var requests []approval.Request
	if agentID != "" {
		requests = h.engine.Approver().GetRequestsByAgent(agentID)
	} else {
		requests = h.engine.Approver().GetPendingRequests()
	}
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) postApprovalDecision(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Decision   approval.Decision `json:"decision"`
		DecidedBy  string            `json:"decidedBy"`
		Reason     string            `json:"reason,omitempty"`
		Evidence   map[string]string `json:"evidence,omitempty"`
		Conditions []string          `json:"conditions,omitempty"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	updated, err := h.engine.Approver().SubmitDecision(id, req.Decision, req.DecidedBy, req.Reason, req.Evidence, req.Conditions)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"request": updated})
}

func (h *Handler) postWebhooks(w http.ResponseWriter, r *http.Request) {
	if err := plangate.RequirePlan(plan.FeatureWebhooks, h.engine.Gate().Tier()); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var sub webhook.Subscriber
	if !httputil.DecodeJSON(w, r, &sub) {
		return
	}
	registered := h.webhook.Register(sub)
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"webhook": registered})
}

func (h *Handler) getWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.webhook.Get(id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.withUsageHeaders(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"deliveries": h.webhook.Deliveries(id)})
}
