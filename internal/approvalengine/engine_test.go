package approvalengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/approval"
	kerrors "github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/errors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEvaluateNoPoliciesNeverRequiresApproval(t *testing.T) {
	e := New()
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Amount: "100"})
	assert.False(t, result.Required)
	assert.Empty(t, result.RequestID)
}

func TestAmountThresholdBoundaryDoesNotTrigger(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyAmountThreshold, Threshold: "10000"}})

	atThreshold := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Amount: "10000"})
	assert.False(t, atThreshold.Required)

	aboveThreshold := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Amount: "10000.01"})
	assert.True(t, aboveThreshold.Required)
}

func TestLowTrustScoreBoundaryDoesNotTrigger(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyLowTrustScore, MinScore: 40}})

	atMin := e.Evaluate(approval.EvaluationInput{AgentID: "a1", TrustScore: 40})
	assert.False(t, atMin.Required)

	belowMin := e.Evaluate(approval.EvaluationInput{AgentID: "a1", TrustScore: 39})
	assert.True(t, belowMin.Required)
}

func TestManualPolicyAlwaysRequiresApproval(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyManual}})
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1"})
	require.True(t, result.Required)
	require.NotEmpty(t, result.RequestID)
	assert.Equal(t, []approval.PolicyKind{approval.PolicyManual}, result.TriggeredPolicies)
}

// TestManualApprovalLifecycle covers the evaluate -> reject -> isApproved==false scenario.
func TestManualApprovalLifecycle(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyManual}})
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1", ActionID: "42"})
	require.True(t, result.Required)

	assert.False(t, e.IsApproved(result.RequestID))

	req, err := e.SubmitDecision(result.RequestID, approval.DecisionReject, "reviewer-1", "looks risky", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, req.Status)
	assert.False(t, e.IsApproved(result.RequestID))
}

func TestApproveRequiresAllEvidence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewWithClock(fixedClock(now))
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyManual}})
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1"})

	e.mu.Lock()
	req := e.requests[result.RequestID]
	req.RequiredEvidence = []string{"invoice", "kyc_proof"}
	e.requests[result.RequestID] = req
	e.mu.Unlock()

	_, err := e.SubmitDecision(result.RequestID, approval.DecisionApprove, "reviewer-1", "", map[string]string{"invoice": "doc-1"}, nil)
	require.Error(t, err)
	svcErr := kerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, kerrors.ErrCodeInsufficientEvidence, svcErr.Code)

	approved, err := e.SubmitDecision(result.RequestID, approval.DecisionApprove, "reviewer-1", "", map[string]string{
		"invoice": "doc-1", "kyc_proof": "doc-2",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, approved.Status)
	assert.True(t, e.IsApproved(result.RequestID))
}

func TestExpiredRequestCannotBeDecided(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	e := NewWithClock(func() time.Time { return current })
	e.SetTTL(time.Hour)
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyManual}})
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1"})

	current = now.Add(2 * time.Hour)
	assert.False(t, e.IsApproved(result.RequestID))

	_, err := e.SubmitDecision(result.RequestID, approval.DecisionApprove, "reviewer-1", "", nil, nil)
	require.Error(t, err)
	svcErr := kerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, kerrors.ErrCodeApprovalExpired, svcErr.Code)
}

func TestUnknownRequestIDReturnsNotFound(t *testing.T) {
	e := New()
	_, err := e.SubmitDecision("nope", approval.DecisionApprove, "reviewer-1", "", nil, nil)
	require.Error(t, err)
	svcErr := kerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, kerrors.ErrCodeApprovalNotFound, svcErr.Code)
}

func TestAlreadyDecidedRequestCannotBeRedecided(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyManual}})
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1"})
	_, err := e.SubmitDecision(result.RequestID, approval.DecisionReject, "reviewer-1", "", nil, nil)
	require.NoError(t, err)

	_, err = e.SubmitDecision(result.RequestID, approval.DecisionApprove, "reviewer-1", "", nil, nil)
	require.Error(t, err)
}

func TestGetPendingRequestsAndByAgent(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyManual}})
	r1 := e.Evaluate(approval.EvaluationInput{AgentID: "a1"})
	r2 := e.Evaluate(approval.EvaluationInput{AgentID: "a2"})

	pending := e.GetPendingRequests()
	assert.Len(t, pending, 2)

	byAgent := e.GetRequestsByAgent("a1")
	require.Len(t, byAgent, 1)
	assert.Equal(t, r1.RequestID, byAgent[0].ID)

	_, err := e.SubmitDecision(r2.RequestID, approval.DecisionReject, "reviewer-1", "", nil, nil)
	require.NoError(t, err)
	pending = e.GetPendingRequests()
	assert.Len(t, pending, 1)
	assert.Equal(t, r1.RequestID, pending[0].ID)
}

func TestNewDestinationPolicyOnlyTriggersOnce(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyNewDestination}})

	first := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Destination: "0xabc"})
	assert.True(t, first.Required)

	second := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Destination: "0xabc"})
	assert.False(t, second.Required)
}

func TestAnomalyDetectedPolicyRequiresAtLeastOneAnomaly(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{{Kind: approval.PolicyAnomalyDetected}})

	clean := e.Evaluate(approval.EvaluationInput{AgentID: "a1"})
	assert.False(t, clean.Required)

	flagged := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Anomalies: []string{"unusualAmount"}})
	assert.True(t, flagged.Required)
}

func TestRiskScoreAccumulatesAcrossTriggeredPolicies(t *testing.T) {
	e := New()
	e.SetPolicies([]approval.Policy{
		{Kind: approval.PolicyAmountThreshold, Threshold: "1000"},
		{Kind: approval.PolicyLowTrustScore, MinScore: 50},
	})
	result := e.Evaluate(approval.EvaluationInput{AgentID: "a1", Amount: "5000", TrustScore: 10})
	require.True(t, result.Required)
	assert.Len(t, result.TriggeredPolicies, 2)
	assert.Equal(t, 100, result.RiskAssessment.Score) // 25*2 + 20 + 30 = 100, clamped
}
