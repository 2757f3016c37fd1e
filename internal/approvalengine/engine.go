// Package approvalengine implements policy evaluation and the approval
// request lifecycle.
package approvalengine

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/approval"
	kerrors "github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/errors"
)

// Engine evaluates configured policies and manages approval request state.
type Engine struct {
	mu       sync.Mutex
	policies []approval.Policy
	requests map[string]approval.Request
	ttl      time.Duration
	now      func() time.Time
	seenDest map[string]map[string]bool // agentID -> destination -> seen
}

// New constructs an Engine with the default 24h TTL.
func New() *Engine {
	return NewWithClock(time.Now)
}

// NewWithClock is New with an injectable clock for deterministic tests.
func NewWithClock(now func() time.Time) *Engine {
	return &Engine{
		requests: make(map[string]approval.Request),
		ttl:      24 * time.Hour,
		now:      now,
		seenDest: make(map[string]map[string]bool),
	}
}

// SetTTL overrides the default request expiry TTL.
func (e *Engine) SetTTL(ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ttl = ttl
}

// SetPolicies replaces the configured policy set.
func (e *Engine) SetPolicies(policies []approval.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = policies
}

// Evaluate checks input against every configured policy, creating a pending
// request if any policy matches.
func (e *Engine) Evaluate(input approval.EvaluationInput) approval.EvaluationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var triggered []approval.PolicyKind
	var factors []string
	var requiredEvidence []string
	seenEvidence := make(map[string]bool)
	riskScore := 0

	for _, p := range e.policies {
		matched, rationale := e.matchLocked(p, input)
		if !matched {
			continue
		}
		triggered = append(triggered, p.Kind)
		factors = append(factors, rationale)
		for _, key := range p.RequiredEvidence {
			if !seenEvidence[key] {
				seenEvidence[key] = true
				requiredEvidence = append(requiredEvidence, key)
			}
		}
		switch p.Kind {
		case approval.PolicyAmountThreshold:
			riskScore += 20
		case approval.PolicyLowTrustScore:
			riskScore += 30
		case approval.PolicyAnomalyDetected:
			riskScore += 25
		}
	}

	if len(triggered) > 0 {
		riskScore += 25 * len(triggered)
	}
	if riskScore > 100 {
		riskScore = 100
	}

	result := approval.EvaluationResult{
		Required:          len(triggered) > 0,
		TriggeredPolicies: triggered,
		RiskAssessment:    approval.RiskAssessment{Score: riskScore, Factors: factors},
	}

	if result.Required {
		now := e.now()
		req := approval.Request{
			ID:                uuid.New().String(),
			ActionID:          input.ActionID,
			AgentID:           input.AgentID,
			Status:            approval.StatusPending,
			TriggeredPolicies: triggered,
			RiskAssessment:    result.RiskAssessment,
			RequiredEvidence:  requiredEvidence,
			CreatedAt:         now,
			ExpiresAt:         now.Add(e.ttl),
		}
		e.requests[req.ID] = req
		result.RequestID = req.ID
	}

	return result
}

func (e *Engine) matchLocked(p approval.Policy, input approval.EvaluationInput) (bool, string) {
	switch p.Kind {
	case approval.PolicyAmountThreshold:
		threshold, err := decimal.NewFromString(p.Threshold)
		if err != nil || input.Amount == "" {
			return false, ""
		}
		amount, err := decimal.NewFromString(input.Amount)
		if err != nil {
			return false, ""
		}
		// amount == threshold does not trigger (boundary property).
		if amount.GreaterThan(threshold) {
			return true, "amount exceeds configured threshold"
		}
		return false, ""
	case approval.PolicyLowTrustScore:
		// trustScore == minScore does not trigger (boundary property).
		if input.TrustScore < p.MinScore {
			return true, "agent trust score below configured minimum"
		}
		return false, ""
	case approval.PolicyAnomalyDetected:
		if len(input.Anomalies) > 0 {
			return true, "an anomaly rule fired for this transaction"
		}
		return false, ""
	case approval.PolicyNewDestination:
		seen := e.seenDest[input.AgentID]
		dest := strings.ToLower(input.Destination)
		isNew := seen == nil || !seen[dest]
		if e.seenDest[input.AgentID] == nil {
			e.seenDest[input.AgentID] = make(map[string]bool)
		}
		e.seenDest[input.AgentID][dest] = true
		if isNew && dest != "" {
			return true, "destination not previously seen for this agent"
		}
		return false, ""
	case approval.PolicyManual:
		return true, "manual approval required by policy"
	default:
		return false, ""
	}
}

// SubmitDecision records an approve/reject decision for requestID.
func (e *Engine) SubmitDecision(requestID string, decision approval.Decision, decidedBy, reason string, evidence map[string]string, conditions []string) (approval.Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return approval.Request{}, kerrors.ApprovalNotFound(requestID)
	}

	now := e.now()
	if req.Status == approval.StatusPending && req.IsExpired(now) {
		req.Status = approval.StatusExpired
		e.requests[requestID] = req
	}
	if req.Status != approval.StatusPending {
		if req.Status == approval.StatusExpired {
			return approval.Request{}, kerrors.ApprovalExpired(requestID)
		}
		return approval.Request{}, kerrors.Conflict("approval request already decided")
	}

	if decision == approval.DecisionApprove {
		var missing []string
		for _, key := range req.RequiredEvidence {
			if v, ok := evidence[key]; !ok || v == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return approval.Request{}, kerrors.InsufficientEvidence(missing)
		}
	}

	record := &approval.DecisionRecord{
		Decision: decision, DecidedBy: decidedBy, Reason: reason,
		Evidence: evidence, Conditions: conditions, DecidedAt: now,
	}
	req.Decision = record
	if decision == approval.DecisionApprove {
		req.Status = approval.StatusApproved
	} else {
		req.Status = approval.StatusRejected
	}
	e.requests[requestID] = req
	return req, nil
}

// IsApproved reports whether requestID resolved to approved, lazily
// expiring it if its TTL has elapsed.
func (e *Engine) IsApproved(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	if !ok {
		return false
	}
	if req.Status == approval.StatusPending && req.IsExpired(e.now()) {
		req.Status = approval.StatusExpired
		e.requests[requestID] = req
	}
	return req.Status == approval.StatusApproved
}

// GetPendingRequests returns every request currently pending, expiring any
// whose TTL has lazily elapsed.
func (e *Engine) GetPendingRequests() []approval.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var out []approval.Request
	for id, req := range e.requests {
		if req.Status == approval.StatusPending && req.IsExpired(now) {
			req.Status = approval.StatusExpired
			e.requests[id] = req
			continue
		}
		if req.Status == approval.StatusPending {
			out = append(out, req)
		}
	}
	return out
}

// GetRequestsByAgent returns every request for agentID.
func (e *Engine) GetRequestsByAgent(agentID string) []approval.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []approval.Request
	for _, req := range e.requests {
		if req.AgentID == agentID {
			out = append(out, req)
		}
	}
	return out
}

// Get returns a single request by id.
func (e *Engine) Get(requestID string) (approval.Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	return req, ok
}
