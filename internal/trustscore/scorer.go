// Package trustscore implements the weighted five-factor trust scorer.
package trustscore

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/trust"
)

// History is the minimal view into an agent's log the scorer needs.
type History interface {
	ByAgent(agentID string) []action.Record
}

// Scorer computes trust scores from an agent's transaction history.
type Scorer struct {
	history History
}

// New constructs a Scorer backed by history.
func New(history History) *Scorer {
	return &Scorer{history: history}
}

// Score computes the agent's current trust score. An agent with no history
// returns the deterministic neutral score (50, "medium").
func (s *Scorer) Score(agentID string, now time.Time) trust.Score {
	records := s.history.ByAgent(agentID)
	if len(records) == 0 {
		return trust.Neutral(agentID, now)
	}

	factors := []trust.Factor{
		historyDepthFactor(records),
		transactionConsistencyFactor(records),
		transactionFrequencyFactor(records, now),
		destinationTrustFactor(records),
		complianceAdherenceFactor(records),
	}

	var weighted float64
	for _, f := range factors {
		weighted += f.Weight * f.Score
	}
	score := int(math.Round(weighted))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return trust.Score{
		AgentID:    agentID,
		Score:      score,
		Level:      trust.LevelForScore(score),
		Factors:    factors,
		ComputedAt: now,
	}
}

func historyDepthFactor(records []action.Record) trust.Factor {
	score := math.Min(100, 2*float64(len(records)))
	return trust.Factor{
		Name: trust.FactorHistoryDepth, Score: score, Weight: trust.Weights[trust.FactorHistoryDepth],
		Description: "breadth of the agent's recorded action history",
	}
}

func transactionConsistencyFactor(records []action.Record) trust.Factor {
	var amounts []decimal.Decimal
	for _, r := range records {
		if !r.IsTransaction() {
			continue
		}
		if amt, err := decimal.NewFromString(r.Amount); err == nil {
			amounts = append(amounts, amt)
		}
	}
	cv := coefficientOfVariation(amounts)
	score := math.Max(0, 100-200*cv)
	return trust.Factor{
		Name: trust.FactorTransactionConsistency, Score: score, Weight: trust.Weights[trust.FactorTransactionConsistency],
		Description: "variance of transaction amounts relative to their mean",
	}
}

func coefficientOfVariation(amounts []decimal.Decimal) float64 {
	if len(amounts) < 2 {
		return 0
	}
	var sum decimal.Decimal
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(amounts))))
	if mean.IsZero() {
		return 0
	}

	var sqSum decimal.Decimal
	for _, a := range amounts {
		diff := a.Sub(mean)
		sqSum = sqSum.Add(diff.Mul(diff))
	}
	variance := sqSum.Div(decimal.NewFromInt(int64(len(amounts))))
	stddev := math.Sqrt(variance.InexactFloat64())
	return stddev / mean.InexactFloat64()
}

func transactionFrequencyFactor(records []action.Record, now time.Time) trust.Factor {
	var count int
	since := now.Add(-24 * time.Hour)
	for _, r := range records {
		if r.IsTransaction() && !r.Timestamp.Before(since) {
			count++
		}
	}
	score := bellCurve(float64(count))
	return trust.Factor{
		Name: trust.FactorTransactionFrequency, Score: score, Weight: trust.Weights[trust.FactorTransactionFrequency],
		Description: "transactions per day relative to the 5-30/day expected range",
	}
}

// bellCurve peaks at 100 across [5,30] tx/day, falls to 0 at 0 or beyond 500.
func bellCurve(perDay float64) float64 {
	switch {
	case perDay <= 0 || perDay > 500:
		return 0
	case perDay >= 5 && perDay <= 30:
		return 100
	case perDay < 5:
		return 100 * perDay / 5
	default: // 30 < perDay <= 500
		return 100 * (500 - perDay) / (500 - 30)
	}
}

func destinationTrustFactor(records []action.Record) trust.Factor {
	counts := make(map[string]int)
	var destinations []string
	for _, r := range records {
		if !r.IsTransaction() || r.To == "" {
			continue
		}
		key := strings.ToLower(r.To)
		if counts[key] == 0 {
			destinations = append(destinations, key)
		}
		counts[key]++
	}
	if len(destinations) == 0 {
		return trust.Factor{Name: trust.FactorDestinationTrust, Score: 0, Weight: trust.Weights[trust.FactorDestinationTrust], Description: "fraction of destinations seen three or more times"}
	}

	var trusted int
	for _, d := range destinations {
		if counts[d] >= 3 {
			trusted++
		}
	}
	score := 100 * float64(trusted) / float64(len(destinations))
	return trust.Factor{
		Name: trust.FactorDestinationTrust, Score: score, Weight: trust.Weights[trust.FactorDestinationTrust],
		Description: "fraction of destinations seen three or more times",
	}
}

func complianceAdherenceFactor(records []action.Record) trust.Factor {
	var confirmed, failed, anomalies int
	for _, r := range records {
		switch r.Type {
		case action.KindTaskConfirmed:
			confirmed++
		case action.KindTaskFailed:
			failed++
		case action.KindAnomaly:
			anomalies++
		}
	}
	score := 100*float64(confirmed)/float64(confirmed+failed+1) - 10*float64(anomalies)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return trust.Factor{
		Name: trust.FactorComplianceAdherence, Score: score, Weight: trust.Weights[trust.FactorComplianceAdherence],
		Description: "confirmed-vs-failed task ratio penalized by anomaly count",
	}
}
