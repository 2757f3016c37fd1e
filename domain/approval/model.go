// Package approval defines the approval policy discriminated sum and the
// approval request lifecycle types.
package approval

import "time"

// PolicyKind is the closed enumeration of approval policy variants.
type PolicyKind string

const (
	PolicyAmountThreshold PolicyKind = "amount-threshold"
	PolicyLowTrustScore   PolicyKind = "low-trust-score"
	PolicyAnomalyDetected PolicyKind = "anomaly-detected"
	PolicyNewDestination  PolicyKind = "new-destination"
	PolicyManual          PolicyKind = "manual"
)

// Policy is a discriminated sum over the five policy variants. Only the
// field(s) relevant to Kind are meaningful; the zero value of the others is
// ignored by the evaluator.
type Policy struct {
	Kind PolicyKind `json:"type"`

	// AmountThreshold: triggers when the evaluated amount exceeds Threshold.
	Threshold string `json:"threshold,omitempty"` // decimal string

	// LowTrustScore: triggers when trust score is strictly below MinScore.
	MinScore int `json:"minScore,omitempty"`

	// AnomalyDetected: triggers when an anomaly of at least MinSeverity fired.
	MinSeverity string `json:"minSeverity,omitempty"`

	// NewDestination and Manual carry no parameters.

	// RequiredEvidence keys a reviewer must supply before approving a
	// request this policy triggered. Rejection needs no evidence.
	RequiredEvidence []string `json:"requiredEvidence,omitempty"`
}

// Status is the closed enumeration of approval request lifecycle states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Decision outcome once submitted via submitDecision.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RiskAssessment summarizes why a request was required.
type RiskAssessment struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// DecisionRecord is the immutable outcome of submitDecision.
type DecisionRecord struct {
	Decision   Decision          `json:"decision"`
	DecidedBy  string            `json:"decidedBy"`
	Reason     string            `json:"reason,omitempty"`
	Evidence   map[string]string `json:"evidence,omitempty"`
	Conditions []string          `json:"conditions,omitempty"`
	DecidedAt  time.Time         `json:"decidedAt"`
}

// Request is one evaluated approval request.
type Request struct {
	ID                string          `json:"id"`
	ActionID          string          `json:"actionId"`
	AgentID           string          `json:"agentId"`
	Status            Status          `json:"status"`
	TriggeredPolicies []PolicyKind    `json:"triggeredPolicies"`
	RiskAssessment    RiskAssessment  `json:"riskAssessment"`
	RequiredEvidence  []string        `json:"requiredEvidence,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	ExpiresAt         time.Time       `json:"expiresAt"`
	Decision          *DecisionRecord `json:"decision,omitempty"`
}

// IsExpired reports whether the request's TTL has elapsed as of now.
func (r Request) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// EvaluationInput is what a policy is evaluated against.
type EvaluationInput struct {
	ActionID    string
	AgentID     string
	Amount      string // decimal string, may be empty
	TrustScore  int
	Anomalies   []string // anomaly rule names that fired, by severity order
	Destination string
	Metadata    map[string]any
}

// EvaluationResult is returned by evaluate().
type EvaluationResult struct {
	Required          bool           `json:"required"`
	RequestID         string         `json:"requestId,omitempty"`
	TriggeredPolicies []PolicyKind   `json:"triggeredPolicies"`
	RiskAssessment    RiskAssessment `json:"riskAssessment"`
}
