// Package anomaly implements the rule-based anomaly detector. Enabled
// rules run in a single pass over an incoming transaction; any detections
// are the caller's responsibility to append to the store as type=anomaly
// (see internal/engine).
package anomaly

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/plan"
)

// Rule is the closed enumeration of anomaly rule names.
type Rule string

const (
	RuleUnusualAmount    Rule = "unusualAmount"
	RuleFrequencySpike   Rule = "frequencySpike"
	RuleNewDestination   Rule = "newDestination"
	RuleOffHoursActivity Rule = "offHoursActivity"
	RuleRapidSuccession  Rule = "rapidSuccession"
	RuleRoundAmount      Rule = "roundAmount"
)

// requiredTier gates rules beyond the free-tier pair (unusualAmount,
// frequencySpike) behind the pro advanced-anomaly-rules feature.
var requiredTier = map[Rule]plan.Tier{
	RuleUnusualAmount:    plan.TierFree,
	RuleFrequencySpike:   plan.TierFree,
	RuleNewDestination:   plan.TierPro,
	RuleOffHoursActivity: plan.TierPro,
	RuleRapidSuccession:  plan.TierPro,
	RuleRoundAmount:      plan.TierPro,
}

// Detection is one fired anomaly rule against one transaction.
type Detection struct {
	Rule        Rule      `json:"rule"`
	AgentID     string    `json:"agentId"`
	TxHash      string    `json:"txHash"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// Config tunes the thresholds each rule checks against.
type Config struct {
	MaxAmount          decimal.Decimal
	MaxFrequencyPerHour int
	MinIntervalSeconds  int
	BusinessHourStart   int // 0-23, local-to-UTC business hours
	BusinessHourEnd     int
}

// DefaultConfig holds conservative transaction-monitoring defaults.
func DefaultConfig() Config {
	return Config{
		MaxAmount:           decimal.NewFromInt(50000),
		MaxFrequencyPerHour: 20,
		MinIntervalSeconds:  5,
		BusinessHourStart:   8,
		BusinessHourEnd:     20,
	}
}

// Subscriber receives detections synchronously, in insertion order, under
// the writer lock. Implementations must not perform blocking I/O.
type Subscriber interface {
	OnAnomaly(d Detection)
}

// History is the minimal view into an agent's prior activity the detector
// needs; internal/actionstore.Store satisfies this directly.
type History interface {
	RecentByAgentSince(agentID string, since time.Time) []action.Record
	ByAgent(agentID string) []action.Record
}

// Detector evaluates the fixed rule set against incoming transactions.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	tier    plan.Tier
	history History
	subs    []Subscriber
	seenDestinations map[string]map[string]bool // agentID -> destination -> seen
}

// New constructs a Detector backed by history, enforcing the given tier's
// gated rule set.
func New(cfg Config, tier plan.Tier, history History) *Detector {
	return &Detector{
		cfg:              cfg,
		tier:             tier,
		history:          history,
		seenDestinations: make(map[string]map[string]bool),
	}
}

// SetTier updates the effective tier used to gate advanced rules.
func (d *Detector) SetTier(tier plan.Tier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tier = tier
}

// Subscribe registers an anomaly subscriber.
func (d *Detector) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
}

// enabledRulesLocked returns every rule available at the current tier,
// free-tier rules first then pro rules, in a stable evaluation order.
func (d *Detector) enabledRulesLocked() []Rule {
	order := []Rule{RuleUnusualAmount, RuleFrequencySpike, RuleNewDestination, RuleOffHoursActivity, RuleRapidSuccession, RuleRoundAmount}
	var out []Rule
	for _, r := range order {
		if plan.Meets(d.tier, requiredTier[r]) {
			out = append(out, r)
		}
	}
	return out
}

// Evaluate applies every enabled rule to tx in one pass, notifying
// subscribers synchronously in rule order, and returns the detections.
func (d *Detector) Evaluate(tx action.Record) []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	var detections []Detection
	for _, rule := range d.enabledRulesLocked() {
		if det, fired := d.checkRuleLocked(rule, tx); fired {
			detections = append(detections, det)
			for _, s := range d.subs {
				s.OnAnomaly(det)
			}
		}
	}

	if d.seenDestinations[tx.AgentID] == nil {
		d.seenDestinations[tx.AgentID] = make(map[string]bool)
	}
	d.seenDestinations[tx.AgentID][strings.ToLower(tx.To)] = true

	return detections
}

// Probe applies every enabled rule to tx without recording its destination
// as seen and without notifying subscribers, so callers can read current
// risk for a hypothetical transaction before committing to it.
func (d *Detector) Probe(tx action.Record) []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	var detections []Detection
	for _, rule := range d.enabledRulesLocked() {
		if det, fired := d.checkRuleLocked(rule, tx); fired {
			detections = append(detections, det)
		}
	}
	return detections
}

func (d *Detector) checkRuleLocked(rule Rule, tx action.Record) (Detection, bool) {
	now := tx.Timestamp
	switch rule {
	case RuleUnusualAmount:
		amt, err := decimal.NewFromString(tx.Amount)
		if err == nil && amt.GreaterThan(d.cfg.MaxAmount) {
			return d.detection(rule, tx, "amount exceeds the configured maximum"), true
		}
	case RuleFrequencySpike:
		since := now.Add(-time.Hour)
		recent := d.history.RecentByAgentSince(tx.AgentID, since)
		if len(recent) > d.cfg.MaxFrequencyPerHour {
			return d.detection(rule, tx, "event frequency exceeds the hourly maximum"), true
		}
	case RuleNewDestination:
		seen := d.seenDestinations[tx.AgentID]
		if seen == nil || !seen[strings.ToLower(tx.To)] {
			return d.detection(rule, tx, "destination not previously observed for this agent"), true
		}
	case RuleOffHoursActivity:
		hour := now.UTC().Hour()
		if hour < d.cfg.BusinessHourStart || hour >= d.cfg.BusinessHourEnd {
			return d.detection(rule, tx, "activity outside configured business hours"), true
		}
	case RuleRapidSuccession:
		prior := d.history.ByAgent(tx.AgentID)
		if n := len(prior); n > 0 {
			last := prior[n-1]
			if now.Sub(last.Timestamp) < time.Duration(d.cfg.MinIntervalSeconds)*time.Second {
				return d.detection(rule, tx, "interval since the agent's prior transaction is below the minimum"), true
			}
		}
	case RuleRoundAmount:
		amt, err := decimal.NewFromString(tx.Amount)
		if err == nil && amt.GreaterThanOrEqual(decimal.NewFromInt(10000)) {
			thousand := decimal.NewFromInt(1000)
			if amt.Mod(thousand).IsZero() {
				return d.detection(rule, tx, "amount is a round multiple of 1000 at or above 10000"), true
			}
		}
	}
	return Detection{}, false
}

func (d *Detector) detection(rule Rule, tx action.Record, desc string) Detection {
	return Detection{Rule: rule, AgentID: tx.AgentID, TxHash: tx.TxHash, Description: desc, DetectedAt: tx.Timestamp}
}
