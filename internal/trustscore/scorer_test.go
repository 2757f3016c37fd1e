package trustscore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/trust"
)

type fakeHistory struct {
	records map[string][]action.Record
}

func (f *fakeHistory) ByAgent(agentID string) []action.Record { return f.records[agentID] }

func TestScoreNoHistoryIsNeutral(t *testing.T) {
	s := New(&fakeHistory{})
	score := s.Score("ghost", time.Now())
	assert.Equal(t, 50, score.Score)
	assert.Equal(t, trust.LevelMedium, score.Level)
}

func TestScoreWithConsistentHistoryIsHigh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var records []action.Record
	for i := 0; i < 60; i++ {
		records = append(records, action.Record{
			Type: action.KindTransaction, AgentID: "a1", Amount: "100", To: "0xdest1",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	for i := 0; i < 10; i++ {
		records = append(records, action.Record{Type: action.KindTaskConfirmed, AgentID: "a1", Timestamp: now})
	}

	s := New(&fakeHistory{records: map[string][]action.Record{"a1": records}})
	score := s.Score("a1", now)
	require.NotEmpty(t, score.Factors)
	assert.Greater(t, score.Score, 50)
}

func TestScoreFactorsSumWeightsToOne(t *testing.T) {
	var total float64
	for _, w := range trust.Weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 0.0001)
}

func TestComplianceAdherencePenalizedByAnomalies(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clean := []action.Record{
		{Type: action.KindTaskConfirmed, AgentID: "a1", Timestamp: now},
		{Type: action.KindTaskConfirmed, AgentID: "a1", Timestamp: now},
	}
	withAnomalies := append(append([]action.Record{}, clean...),
		action.Record{Type: action.KindAnomaly, AgentID: "a1", Timestamp: now},
		action.Record{Type: action.KindAnomaly, AgentID: "a1", Timestamp: now},
	)

	factorClean := complianceAdherenceFactor(clean)
	factorDirty := complianceAdherenceFactor(withAnomalies)
	assert.Less(t, factorDirty.Score, factorClean.Score)
}

func TestDestinationTrustRequiresThreeOccurrences(t *testing.T) {
	records := []action.Record{
		{Type: action.KindTransaction, To: "0xa"},
		{Type: action.KindTransaction, To: "0xa"},
		{Type: action.KindTransaction, To: "0xa"},
		{Type: action.KindTransaction, To: "0xb"},
	}
	factor := destinationTrustFactor(records)
	assert.InDelta(t, 50.0, factor.Score, 0.01)
}
