// Package engine composes the canonical serializer, digest chain, action
// store, plan gate, compliance checker, anomaly detector, trust scorer, and
// approval engine into the single Verify orchestrator, plus task, session,
// and identity lifecycle state.
//
// The engine enforces single-writer semantics: verify, task transitions, and
// session binding all serialize on one mutex guarding a cluster of
// otherwise-independent subsystems.
package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/approval"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/chain"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/identity"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/session"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/task"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/trust"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/actionstore"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/anomaly"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/approvalengine"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/compliance"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/digestchain"
	kerrors "github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/errors"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/plangate"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/trustscore"
)

// WebhookDispatcher is the minimal surface the engine needs from the webhook
// subsystem (internal/webhook), kept as an interface so the engine can be
// built and tested before that subsystem exists, and swapped freely after.
type WebhookDispatcher interface {
	Dispatch(event string, data any)
}

// AnchorProof is what a successful anchor write or read confirms.
type AnchorProof struct {
	Anchorer    string    `json:"anchorer"`
	ProjectHash string    `json:"projectHash"`
	Timestamp   time.Time `json:"timestamp"`
	TxHash      string    `json:"txHash,omitempty"`
}

// AnchorClient is the engine's view of internal/anchor.
type AnchorClient interface {
	AnchorDigest(digest, projectHash string) (AnchorProof, error)
}

// CounterpartyResult reports the outcome of an attestation handshake.
type CounterpartyResult struct {
	Attested bool   `json:"attested"`
	Digest   string `json:"digest,omitempty"`
	AgentID  string `json:"agentId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AttestationClient is the engine's view of internal/attestation.
type AttestationClient interface {
	ExchangeAttestation(endpoint, senderDigest, senderAgentID, amount, token string) (CounterpartyResult, error)
}

// ReasoningInput is the optional reasoning trace carried on a verify call.
type ReasoningInput struct {
	Action     string
	Reasoning  string
	Confidence float64
	ToolCall   string
	ToolResult string
}

// CounterpartyInput requests a bilateral attestation handshake.
type CounterpartyInput struct {
	Endpoint string
}

// TransactionInput is the input to Verify.
type TransactionInput struct {
	ProjectID     string
	AgentID       string
	SessionID     string
	Step          string
	ParentStep    string
	CorrelationID string
	TxHash        string
	Chain         action.Chain
	Amount        string
	Token         string
	From          string
	To            string
	Metadata      map[string]any
	Reasoning     *ReasoningInput
	Anchor        bool
	Counterparty  *CounterpartyInput
}

// DigestProof summarizes the chain's state as of this verify call.
type DigestProof struct {
	TerminalDigest string `json:"terminalDigest"`
	ChainLength    int    `json:"chainLength"`
	Valid          bool   `json:"valid"`
}

// VerifyResult is the composed response of the verify pipeline.
type VerifyResult struct {
	Compliant       bool                 `json:"compliant"`
	Checks          []compliance.Check   `json:"checks"`
	RiskLevel       string               `json:"riskLevel"`
	Recommendations []string             `json:"recommendations,omitempty"`
	Transaction     action.Record        `json:"transaction"`
	TrustScore      trust.Score          `json:"trustScore"`
	Anomalies       []anomaly.Detection  `json:"anomalies"`
	DigestProof     DigestProof          `json:"digestProof"`
	ReasoningID     int64                `json:"reasoningId,omitempty"`
	ApprovalResult  *approval.EvaluationResult `json:"approvalResult,omitempty"`
	AnchorProof     *AnchorProof         `json:"anchorProof,omitempty"`
	AnchorError     string               `json:"anchorError,omitempty"`
	Counterparty    *CounterpartyResult  `json:"counterparty,omitempty"`
}

// Engine wires every verification subsystem behind one writer lock.
type Engine struct {
	mu sync.Mutex

	store    *actionstore.Store
	chain    *digestchain.Chain
	gate     *plangate.Gate
	checker  *compliance.Checker
	detector *anomaly.Detector
	scorer   *trustscore.Scorer
	approver *approvalengine.Engine
	log      *logging.Logger

	webhooks    WebhookDispatcher
	anchor      AnchorClient
	attestation AttestationClient

	now func() time.Time

	tasks       map[string]task.Task
	sessions    map[string]session.Session
	checkpoints map[string]session.Checkpoint
	identities  map[string]identity.AgentIdentity

	approvalPoliciesConfigured bool

	nextTaskID    int64
	nextSessionID int64
}

// New wires an Engine from its constituent subsystems, all of which must
// already be constructed (see cmd/kontextd for production wiring order).
func New(store *actionstore.Store, chain *digestchain.Chain, gate *plangate.Gate, checker *compliance.Checker, detector *anomaly.Detector, scorer *trustscore.Scorer, approver *approvalengine.Engine, log *logging.Logger) *Engine {
	e := &Engine{
		store:    store,
		chain:    chain,
		gate:     gate,
		checker:  checker,
		detector: detector,
		scorer:   scorer,
		approver: approver,
		log:      log,
		now:         time.Now,
		tasks:       make(map[string]task.Task),
		sessions:    make(map[string]session.Session),
		checkpoints: make(map[string]session.Checkpoint),
		identities:  make(map[string]identity.AgentIdentity),
	}
	gate.Subscribe(&gateWebhookAdapter{engine: e})
	return e
}

// SetClock overrides the engine's time source; for deterministic tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetWebhookDispatcher wires the webhook subsystem once constructed.
func (e *Engine) SetWebhookDispatcher(d WebhookDispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.webhooks = d
}

// SetAnchorClient wires the anchor subsystem once constructed.
func (e *Engine) SetAnchorClient(c AnchorClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anchor = c
}

// SetAttestationClient wires the attestation subsystem once constructed.
func (e *Engine) SetAttestationClient(c AttestationClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attestation = c
}

// SetApprovalPolicies configures the approval engine's policy set. An empty
// set disables approval evaluation within Verify.
func (e *Engine) SetApprovalPolicies(policies []approval.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approver.SetPolicies(policies)
	e.approvalPoliciesConfigured = len(policies) > 0
}

type gateWebhookAdapter struct{ engine *Engine }

func (a *gateWebhookAdapter) OnUsageWarning(usage plan.Usage) {
	a.engine.dispatch("chain.limit_warning", usage)
}

func (a *gateWebhookAdapter) OnLimitReached(usage plan.Usage) {
	a.engine.dispatch("chain.limit_warning", usage)
}

// dispatch is a nil-safe convenience wrapper around the webhook dispatcher.
func (e *Engine) dispatch(event string, data any) {
	if e.webhooks != nil {
		e.webhooks.Dispatch(event, data)
	}
}

// Verify runs the nine-step verification pipeline against a single
// transaction: gate, compliance, anomalies, trust, approval, reasoning,
// append, side effects, result. Steps 1-7 are linearizable under the
// engine's writer lock; side effects (step 8) may race but always observe
// the just-appended link.
func (e *Engine) Verify(input TransactionInput) (VerifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateTransactionInput(&input); err != nil {
		return VerifyResult{}, err
	}
	if input.Reasoning != nil {
		if r := input.Reasoning; r.Confidence < 0 || r.Confidence > 1 {
			return VerifyResult{}, kerrors.InvalidInput("reasoning.confidence", "must be within [0,1]")
		}
	}

	now := e.now()

	// Step 1: gate.
	if input.Chain != action.ChainBase {
		if err := plangate.RequirePlan(plan.FeatureMultiChain, e.gate.Tier()); err != nil {
			return VerifyResult{}, err
		}
	}
	_, usage := e.gate.RecordEvent()
	if overLimit(usage) {
		input.Metadata = withLimitExceeded(input.Metadata)
	}

	txRecord := action.Record{
		Timestamp:     now,
		ProjectID:     input.ProjectID,
		AgentID:       input.AgentID,
		SessionID:     input.SessionID,
		Step:          input.Step,
		ParentStep:    input.ParentStep,
		CorrelationID: input.CorrelationID,
		Type:          action.KindTransaction,
		TxHash:        input.TxHash,
		Chain:         input.Chain,
		Amount:        input.Amount,
		Token:         input.Token,
		From:          input.From,
		To:            input.To,
		Metadata:      input.Metadata,
	}

	// Step 2: compliance.
	report := e.checker.CheckUSDCCompliance(txRecord)

	// Step 3: anomalies.
	detections := e.detector.Evaluate(txRecord)

	// Step 4: trust, computed before this event is counted into history.
	score := e.scorer.Score(input.AgentID, now)

	// Step 5: approval.
	var approvalResult *approval.EvaluationResult
	if e.approvalPoliciesConfigured {
		anomalyNames := make([]string, 0, len(detections))
		for _, d := range detections {
			anomalyNames = append(anomalyNames, string(d.Rule))
		}
		result := e.approver.Evaluate(approval.EvaluationInput{
			AgentID:     input.AgentID,
			Amount:      input.Amount,
			TrustScore:  score.Score,
			Anomalies:   anomalyNames,
			Destination: input.To,
			Metadata:    input.Metadata,
		})
		approvalResult = &result
	}

	// Step 6: reasoning.
	var reasoningID int64
	if input.Reasoning != nil {
		r := input.Reasoning
		reasoningRecord := action.Record{
			ID:            e.store.NextID(),
			Timestamp:     now,
			ProjectID:     input.ProjectID,
			AgentID:       input.AgentID,
			SessionID:     input.SessionID,
			Step:          input.Step,
			ParentStep:    input.ParentStep,
			CorrelationID: input.CorrelationID,
			Type:          action.KindReasoning,
			Description:   r.Action,
			Metadata: map[string]any{
				"reasoning":  r.Reasoning,
				"confidence": r.Confidence,
				"toolCall":   r.ToolCall,
				"toolResult": r.ToolResult,
			},
		}
		stamped, err := e.appendLocked(reasoningRecord)
		if err != nil {
			return VerifyResult{}, err
		}
		reasoningID = stamped.ID
	}

	// Step 7: append the transaction action.
	txRecord.ID = e.store.NextID()
	stampedTx, err := e.appendLocked(txRecord)
	if err != nil {
		return VerifyResult{}, err
	}

	// Detections land on the chain as their own records, after the
	// transaction that triggered them.
	for _, d := range detections {
		_, _ = e.appendLocked(action.Record{
			ID: e.store.NextID(), Timestamp: now, ProjectID: input.ProjectID, AgentID: input.AgentID,
			SessionID: input.SessionID, CorrelationID: input.CorrelationID,
			Type: action.KindAnomaly, Description: d.Description,
			Metadata: map[string]any{"rule": string(d.Rule), "txHash": d.TxHash},
		})
	}

	if e.log != nil {
		e.log.LogAudit(context.Background(), stampedTx.ID, string(stampedTx.Type), stampedTx.Digest)
	}

	result := VerifyResult{
		Compliant:       report.Compliant,
		Checks:          report.Checks,
		RiskLevel:       report.RiskLevel,
		Recommendations: report.Recommendations,
		Transaction:     stampedTx,
		TrustScore:      score,
		Anomalies:       detections,
		DigestProof: DigestProof{
			TerminalDigest: e.chain.Terminal(),
			ChainLength:    e.chain.Len(),
			Valid:          true,
		},
		ReasoningID:    reasoningID,
		ApprovalResult: approvalResult,
	}

	// Step 8: side effects. Anomaly, low-trust, and approval webhooks; best
	// effort anchor write; best effort attestation handshake.
	for _, d := range detections {
		e.dispatch("anomaly.detected", d)
	}
	if score.Level == trust.LevelLow || score.Level == trust.LevelUntrusted {
		e.dispatch("trust.score_changed", score)
	}

	if input.Anchor && e.anchor != nil {
		proof, err := e.anchor.AnchorDigest(stampedTx.Digest, input.ProjectID)
		if err != nil {
			result.AnchorError = err.Error()
		} else {
			result.AnchorProof = &proof
		}
	}

	if input.Counterparty != nil && e.attestation != nil {
		cpResult, err := e.attestation.ExchangeAttestation(input.Counterparty.Endpoint, stampedTx.Digest, input.AgentID, input.Amount, input.Token)
		if err != nil {
			result.Counterparty = &CounterpartyResult{Attested: false, Error: err.Error()}
		} else {
			result.Counterparty = &cpResult
			if cpResult.Attested {
				attestRecord := action.Record{
					ID:        e.store.NextID(),
					Timestamp: e.now(),
					ProjectID: input.ProjectID,
					AgentID:   input.AgentID,
					SessionID: input.SessionID,
					Type:      action.KindCounterpartyAttestation,
					Metadata: map[string]any{
						"counterpartyDigest": cpResult.Digest,
						"counterpartyAgent":  cpResult.AgentID,
					},
				}
				_, _ = e.appendLocked(attestRecord)
			}
		}
	}

	return result, nil
}

// appendLocked runs the chain-then-store append pair for a record whose id
// is already reserved. The caller holds the writer lock.
func (e *Engine) appendLocked(r action.Record) (action.Record, error) {
	_, stamped, err := e.chain.Append(r)
	if err != nil {
		return action.Record{}, kerrors.Internal("failed to append action to digest chain", err)
	}
	return e.store.Append(stamped), nil
}

// overLimit reports whether usage has crossed the metered cap.
func overLimit(u plan.Usage) bool {
	return u.Limit > 0 && u.EventCount > u.Limit
}

// withLimitExceeded stamps the limit marker onto a metadata map, allocating
// one if the caller passed none.
func withLimitExceeded(m map[string]any) map[string]any {
	if m == nil {
		m = make(map[string]any, 1)
	}
	m["limitExceeded"] = true
	return m
}

// validateTransactionInput checks the required transaction fields and chain
// enumeration before anything mutates; an empty chain defaults to base.
func validateTransactionInput(input *TransactionInput) error {
	if input.AgentID == "" {
		return kerrors.InvalidInput("agentId", "is required")
	}
	if input.TxHash == "" {
		return kerrors.InvalidInput("txHash", "is required")
	}
	if input.Amount == "" {
		return kerrors.InvalidInput("amount", "is required")
	}
	if input.Token == "" {
		return kerrors.InvalidInput("token", "is required")
	}
	if input.From == "" {
		return kerrors.InvalidInput("from", "is required")
	}
	if input.To == "" {
		return kerrors.InvalidInput("to", "is required")
	}
	if input.Chain == "" {
		input.Chain = action.ChainBase
	}
	if !action.ValidChain(input.Chain) {
		return kerrors.InvalidInput("chain", "is not a recognized chain")
	}
	return nil
}

// ActionInput is the input to Log, the lower-level generic append.
type ActionInput struct {
	ProjectID     string
	AgentID       string
	SessionID     string
	Step          string
	ParentStep    string
	CorrelationID string
	Type          action.Kind
	Description   string
	Metadata      map[string]any
}

// Log appends one generic action to the store and chain without running the
// verify pipeline. The returned record carries metadata.limitExceeded=true
// once the free-tier cap has been crossed; the append itself still succeeds
// (limit crossings are soft at the core level).
func (e *Engine) Log(input ActionInput) (action.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if input.AgentID == "" {
		return action.Record{}, kerrors.InvalidInput("agentId", "is required")
	}
	kind := input.Type
	if kind == "" {
		kind = action.KindGeneric
	}
	if !action.ValidKind(kind) {
		return action.Record{}, kerrors.InvalidInput("type", "is not a recognized action type")
	}

	_, usage := e.gate.RecordEvent()
	metadata := input.Metadata
	if overLimit(usage) {
		metadata = withLimitExceeded(metadata)
	}

	return e.appendLocked(action.Record{
		ID:            e.store.NextID(),
		Timestamp:     e.now(),
		ProjectID:     input.ProjectID,
		AgentID:       input.AgentID,
		SessionID:     input.SessionID,
		Step:          input.Step,
		ParentStep:    input.ParentStep,
		CorrelationID: input.CorrelationID,
		Type:          kind,
		Description:   input.Description,
		Metadata:      metadata,
	})
}

// LogTransaction appends one transaction record without the compliance,
// anomaly, trust, or approval stages — the lower-level sibling of Verify.
// Non-base chains require the multi-chain feature.
func (e *Engine) LogTransaction(input TransactionInput) (action.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateTransactionInput(&input); err != nil {
		return action.Record{}, err
	}
	if input.Chain != action.ChainBase {
		if err := plangate.RequirePlan(plan.FeatureMultiChain, e.gate.Tier()); err != nil {
			return action.Record{}, err
		}
	}

	_, usage := e.gate.RecordEvent()
	metadata := input.Metadata
	if overLimit(usage) {
		metadata = withLimitExceeded(metadata)
	}

	return e.appendLocked(action.Record{
		ID:            e.store.NextID(),
		Timestamp:     e.now(),
		ProjectID:     input.ProjectID,
		AgentID:       input.AgentID,
		SessionID:     input.SessionID,
		Step:          input.Step,
		ParentStep:    input.ParentStep,
		CorrelationID: input.CorrelationID,
		Type:          action.KindTransaction,
		TxHash:        input.TxHash,
		Chain:         input.Chain,
		Amount:        input.Amount,
		Token:         input.Token,
		From:          input.From,
		To:            input.To,
		Metadata:      metadata,
	})
}

// LogReasoning appends one reasoning-trace record. Confidence outside [0,1]
// refuses the append.
func (e *Engine) LogReasoning(projectID, agentID, sessionID string, input ReasoningInput) (action.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if agentID == "" {
		return action.Record{}, kerrors.InvalidInput("agentId", "is required")
	}
	if input.Confidence < 0 || input.Confidence > 1 {
		return action.Record{}, kerrors.InvalidInput("confidence", "must be within [0,1]")
	}

	_, usage := e.gate.RecordEvent()
	metadata := map[string]any{
		"reasoning":  input.Reasoning,
		"confidence": input.Confidence,
		"toolCall":   input.ToolCall,
		"toolResult": input.ToolResult,
	}
	if overLimit(usage) {
		metadata = withLimitExceeded(metadata)
	}

	return e.appendLocked(action.Record{
		ID:          e.store.NextID(),
		Timestamp:   e.now(),
		ProjectID:   projectID,
		AgentID:     agentID,
		SessionID:   sessionID,
		Type:        action.KindReasoning,
		Description: input.Action,
		Metadata:    metadata,
	})
}

// VerifyDigestChain recomputes every link against the store's current
// contents.
func (e *Engine) VerifyDigestChain() chain.VerifyResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.Verify(e.store.ByID())
}

// GetTrustScore computes agentID's current trust score without mutating
// history, snapshot-consistent with the most recent append.
func (e *Engine) GetTrustScore(agentID string) trust.Score {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scorer.Score(agentID, e.now())
}

// EvaluateAnomalies runs the anomaly rule set against a hypothetical
// transaction without recording it to the action store or digest chain,
// for callers that want a read of current risk before committing to verify.
func (e *Engine) EvaluateAnomalies(agentID, txHash, amount string) []anomaly.Detection {
	e.mu.Lock()
	defer e.mu.Unlock()
	probe := action.Record{
		Timestamp: e.now(),
		AgentID:   agentID,
		TxHash:    txHash,
		Type:      action.KindTransaction,
		Amount:    amount,
	}
	return e.detector.Probe(probe)
}

// defaultTaskTTL bounds a task's lifetime when the caller doesn't set one.
const defaultTaskTTL = 24 * time.Hour

// CreateTask creates a pending task awaiting confirming evidence.
func (e *Engine) CreateTask(projectID, description, agentID string, requiredEvidence []string, expiresIn time.Duration) task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if expiresIn <= 0 {
		expiresIn = defaultTaskTTL
	}
	now := e.now()
	e.nextTaskID++
	t := task.Task{
		ID:               strconv.FormatInt(e.nextTaskID, 10),
		ProjectID:        projectID,
		Description:      description,
		AgentID:          agentID,
		Status:           task.StatusPending,
		RequiredEvidence: requiredEvidence,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(expiresIn),
	}
	e.tasks[t.ID] = t

	record := action.Record{
		ID: e.store.NextID(), Timestamp: now, ProjectID: projectID, AgentID: agentID,
		Type: action.KindTaskCreated, Description: description,
		Metadata: map[string]any{"taskId": t.ID},
	}
	_, _ = e.appendLocked(record)
	return t
}

// GetTask returns taskID, lazily expiring it if its deadline has passed.
func (e *Engine) GetTask(taskID string) (task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getTaskLocked(taskID)
}

func (e *Engine) getTaskLocked(taskID string) (task.Task, error) {
	t, ok := e.tasks[taskID]
	if !ok {
		return task.Task{}, kerrors.NotFound("task", taskID)
	}
	if t.IsExpired(e.now()) {
		t.Status = task.StatusExpired
		t.UpdatedAt = e.now()
		e.tasks[taskID] = t
	}
	return t, nil
}

// ConfirmTask transitions taskID to confirmed once every required evidence
// key is present, or fails with INSUFFICIENT_EVIDENCE/CONFLICT.
func (e *Engine) ConfirmTask(taskID string, evidence map[string]string) (task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.getTaskLocked(taskID)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status.Terminal() {
		return task.Task{}, kerrors.Conflict("task is already in a terminal state")
	}
	if !t.HasAllEvidence(evidence) {
		var missing []string
		for _, key := range t.RequiredEvidence {
			if v, ok := evidence[key]; !ok || v == "" {
				missing = append(missing, key)
			}
		}
		return task.Task{}, kerrors.InsufficientEvidence(missing)
	}

	now := e.now()
	t.Status = task.StatusConfirmed
	t.ProvidedEvidence = evidence
	t.ConfirmedAt = &now
	t.UpdatedAt = now
	e.tasks[taskID] = t

	record := action.Record{
		ID: e.store.NextID(), Timestamp: now, ProjectID: t.ProjectID, AgentID: t.AgentID,
		Type: action.KindTaskConfirmed, Metadata: map[string]any{"taskId": taskID},
	}
	_, _ = e.appendLocked(record)
	e.dispatch("task.confirmed", t)
	return t, nil
}

// FailTask transitions taskID to failed with reason.
func (e *Engine) FailTask(taskID, reason string) (task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.getTaskLocked(taskID)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status.Terminal() {
		return task.Task{}, kerrors.Conflict("task is already in a terminal state")
	}

	now := e.now()
	t.Status = task.StatusFailed
	t.FailureReason = reason
	t.UpdatedAt = now
	e.tasks[taskID] = t

	record := action.Record{
		ID: e.store.NextID(), Timestamp: now, ProjectID: t.ProjectID, AgentID: t.AgentID,
		Type: action.KindTaskFailed, Description: reason, Metadata: map[string]any{"taskId": taskID},
	}
	_, _ = e.appendLocked(record)
	e.dispatch("task.failed", t)
	return t, nil
}

// ExpireDueTasks lazily scans and expires every non-terminal task whose
// deadline has passed. Callers may invoke this on a schedule or rely on the
// lazy on-read expiry in GetTask/ConfirmTask/FailTask (Design Notes: no
// background timers required).
func (e *Engine) ExpireDueTasks() []task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var expired []task.Task
	for id, t := range e.tasks {
		if t.IsExpired(now) {
			t.Status = task.StatusExpired
			t.UpdatedAt = now
			e.tasks[id] = t
			expired = append(expired, t)
		}
	}
	return expired
}

// StartSession creates a new agent session, optionally expiring after ttl.
func (e *Engine) StartSession(agentID, delegatedBy string, scope []string, ttl time.Duration) session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.nextSessionID++
	s := session.Session{
		SessionID:   strconv.FormatInt(e.nextSessionID, 10),
		AgentID:     agentID,
		DelegatedBy: delegatedBy,
		Scope:       scope,
		CreatedAt:   now,
	}
	if ttl > 0 {
		expiry := now.Add(ttl)
		s.ExpiresAt = &expiry
	}
	e.sessions[s.SessionID] = s
	return s
}

// EndSession marks sessionID ended.
func (e *Engine) EndSession(sessionID string) (session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return session.Session{}, kerrors.NotFound("session", sessionID)
	}
	now := e.now()
	s.EndedAt = &now
	e.sessions[sessionID] = s
	return s, nil
}

// GetSession returns sessionID's current state.
func (e *Engine) GetSession(sessionID string) (session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return session.Session{}, kerrors.NotFound("session", sessionID)
	}
	return s, nil
}

// Checkpoint summarizes sessionID's actions so far into a checkpoint
// referencing them by id, optionally attested by a counterparty.
func (e *Engine) Checkpoint(sessionID, summary string) (session.Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sessionID]; !ok {
		return session.Checkpoint{}, kerrors.NotFound("session", sessionID)
	}
	records := e.store.BySession(sessionID)
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	cp := session.Checkpoint{
		CheckpointID: strconv.FormatInt(e.now().UnixNano(), 10),
		SessionID:    sessionID,
		ActionIDs:    ids,
		Summary:      summary,
	}
	e.checkpoints[cp.CheckpointID] = cp
	return cp, nil
}

// GetCheckpoint returns a previously created checkpoint.
func (e *Engine) GetCheckpoint(checkpointID string) (session.Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.checkpoints[checkpointID]
	if !ok {
		return session.Checkpoint{}, kerrors.NotFound("checkpoint", checkpointID)
	}
	return cp, nil
}

// AttestCheckpoint records a counterparty's attestation over a checkpoint.
// The signature is stored opaquely; verifying it is out of core scope.
func (e *Engine) AttestCheckpoint(checkpointID, attestedBy, signature string) (session.Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.checkpoints[checkpointID]
	if !ok {
		return session.Checkpoint{}, kerrors.NotFound("checkpoint", checkpointID)
	}
	now := e.now()
	cp.AttestedBy = attestedBy
	cp.Signature = signature
	cp.AttestedAt = &now
	e.checkpoints[checkpointID] = cp
	return cp, nil
}

// RegisterAgentIdentity registers or updates an agent identity record.
// Registering the same agent twice updates the record in place; wallet
// registrations survive re-registration.
func (e *Engine) RegisterAgentIdentity(in identity.AgentIdentity) (identity.AgentIdentity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in.AgentID == "" {
		return identity.AgentIdentity{}, kerrors.InvalidInput("agentId", "is required")
	}
	if err := plangate.RequirePlan(plan.FeatureKyaIdentity, e.gate.Tier()); err != nil {
		return identity.AgentIdentity{}, err
	}

	now := e.now()
	existing, ok := e.identities[in.AgentID]
	if ok {
		existing.Name = in.Name
		existing.Operator = in.Operator
		existing.PublicKey = in.PublicKey
		existing.Metadata = in.Metadata
		existing.UpdatedAt = now
		for _, w := range in.Wallets {
			existing = addWallet(existing, w)
		}
		e.identities[in.AgentID] = existing
		return existing, nil
	}

	in.RegisteredAt = now
	in.UpdatedAt = now
	e.identities[in.AgentID] = in
	return in, nil
}

// AddAgentWallet registers a wallet address on an agent identity with set
// semantics: adding the same address twice is a no-op.
func (e *Engine) AddAgentWallet(agentID, address string) (identity.AgentIdentity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if address == "" {
		return identity.AgentIdentity{}, kerrors.InvalidInput("address", "is required")
	}
	id, ok := e.identities[agentID]
	if !ok {
		return identity.AgentIdentity{}, kerrors.NotFound("agent identity", agentID)
	}
	id = addWallet(id, address)
	id.UpdatedAt = e.now()
	e.identities[agentID] = id
	return id, nil
}

func addWallet(id identity.AgentIdentity, address string) identity.AgentIdentity {
	lower := strings.ToLower(address)
	for _, w := range id.Wallets {
		if strings.ToLower(w) == lower {
			return id
		}
	}
	id.Wallets = append(id.Wallets, address)
	return id
}

// GetAgentIdentity returns the registered identity for agentID.
func (e *Engine) GetAgentIdentity(agentID string) (identity.AgentIdentity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.identities[agentID]
	if !ok {
		return identity.AgentIdentity{}, kerrors.NotFound("agent identity", agentID)
	}
	return id, nil
}

// Store exposes the underlying action store for read-only callers (export,
// HTTP handlers).
func (e *Engine) Store() *actionstore.Store { return e.store }

// Gate exposes the plan gate for read-only usage queries.
func (e *Engine) Gate() *plangate.Gate { return e.gate }

// Approver exposes the approval engine for pending-request listing.
func (e *Engine) Approver() *approvalengine.Engine { return e.approver }
