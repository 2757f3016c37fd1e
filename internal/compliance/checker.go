// Package compliance implements USDC/stablecoin compliance checks: a
// fixed set of independent, always-run checks over a transaction.
package compliance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/action"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/internal/screening"
)

// Severity is the closed enumeration of check severities.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Check is one independent compliance check result.
type Check struct {
	Name        string   `json:"name"`
	Passed      bool     `json:"passed"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Report is the result of checking one transaction.
type Report struct {
	Compliant       bool      `json:"compliant"`
	Checks          []Check   `json:"checks"`
	RiskLevel       string    `json:"riskLevel"`
	Recommendations []string  `json:"recommendations,omitempty"`
	ScreenedAt      time.Time `json:"screenedAt"`
}

// ctrThreshold and travelRuleThreshold are expressed in the transaction's
// own token unit; amounts are treated as already USD-equivalent.
var ctrThreshold = decimal.NewFromInt(10000)
var travelRuleThreshold = decimal.NewFromInt(3000)

// allowedTokens is the token allowlist; unlisted tokens fail the allowlist
// check at high severity.
var allowedTokens = map[string]bool{"USDC": true, "USDT": true, "DAI": true}

// Checker runs the fixed compliance check set against a screener for
// sanctions lookups.
type Checker struct {
	screener *screening.Screener
}

// New constructs a Checker backed by the given screener.
func New(screener *screening.Screener) *Checker {
	return &Checker{screener: screener}
}

// CheckUSDCCompliance runs every check and composes the report. Deterministic
// except for ScreenedAt.
func (c *Checker) CheckUSDCCompliance(tx action.Record) Report {
	now := time.Now().UTC()
	var checks []Check

	checks = append(checks, c.sanctionsCheck(tx))
	checks = append(checks, thresholdCheck(tx))
	checks = append(checks, addressFormatCheck(tx))
	checks = append(checks, tokenAllowlistCheck(tx))
	checks = append(checks, selfTransferCheck(tx))

	compliant := true
	maxSeverityScore := 0
	for _, ch := range checks {
		if !ch.Passed && (ch.Severity == SeverityHigh || ch.Severity == SeverityCritical) {
			compliant = false
		}
		// A passed check still raises the risk level when it carries an
		// advisory severity above low (delisted match, CTR threshold).
		if sc := severityScore(ch.Severity); (!ch.Passed || sc > severityScore(SeverityLow)) && sc > maxSeverityScore {
			maxSeverityScore = sc
		}
	}

	return Report{
		Compliant:       compliant,
		Checks:          checks,
		RiskLevel:       riskLevelFromSeverityScore(maxSeverityScore),
		Recommendations: recommendationsFromChecks(checks),
		ScreenedAt:      now,
	}
}

func severityScore(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func riskLevelFromSeverityScore(score int) string {
	switch score {
	case 4:
		return "critical"
	case 3:
		return "high"
	case 2:
		return "medium"
	case 1:
		return "low"
	default:
		return "none"
	}
}

func (c *Checker) sanctionsCheck(tx action.Record) Check {
	fromActive := c.screener.IsActivelySanctioned(tx.From)
	toActive := c.screener.IsActivelySanctioned(tx.To)
	fromHistory := c.screener.HasAnySanctionsHistory(tx.From)
	toHistory := c.screener.HasAnySanctionsHistory(tx.To)

	if fromActive || toActive {
		return Check{
			Name: "sanctions_screening", Passed: false, Severity: SeverityCritical,
			Description: "transaction involves an actively sanctioned address",
		}
	}
	if fromHistory || toHistory {
		return Check{
			Name: "sanctions_screening", Passed: true, Severity: SeverityMedium,
			Description: "transaction involves an address with a delisted sanctions history",
		}
	}
	return Check{Name: "sanctions_screening", Passed: true, Severity: SeverityLow, Description: "no sanctions match"}
}

func thresholdCheck(tx action.Record) Check {
	amt, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return Check{Name: "threshold", Passed: false, Severity: SeverityHigh, Description: "amount is not a valid decimal string"}
	}
	if amt.GreaterThanOrEqual(ctrThreshold) {
		return Check{Name: "threshold", Passed: true, Severity: SeverityMedium, Description: "transaction meets or exceeds the CTR advisory threshold"}
	}
	if amt.GreaterThanOrEqual(travelRuleThreshold) {
		return Check{Name: "threshold", Passed: true, Severity: SeverityLow, Description: "transaction meets or exceeds the Travel Rule advisory threshold"}
	}
	return Check{Name: "threshold", Passed: true, Severity: SeverityLow, Description: "below advisory thresholds"}
}

func addressFormatCheck(tx action.Record) Check {
	valid := isValidAddressForChain(tx.From, tx.Chain) && isValidAddressForChain(tx.To, tx.Chain)
	if !valid {
		return Check{Name: "address_format", Passed: false, Severity: SeverityHigh, Description: "address format is invalid for the declared chain"}
	}
	return Check{Name: "address_format", Passed: true, Severity: SeverityLow, Description: "addresses are well-formed for the declared chain"}
}

func isValidAddressForChain(addr string, chain action.Chain) bool {
	if addr == "" {
		return false
	}
	switch chain {
	case action.ChainSolana:
		return len(addr) >= 32 && len(addr) <= 44
	default:
		return strings.HasPrefix(addr, "0x") && len(addr) == 42
	}
}

func tokenAllowlistCheck(tx action.Record) Check {
	if !allowedTokens[strings.ToUpper(tx.Token)] {
		return Check{Name: "token_allowlist", Passed: false, Severity: SeverityHigh, Description: "token is not on the allowlist"}
	}
	return Check{Name: "token_allowlist", Passed: true, Severity: SeverityLow, Description: "token is allowlisted"}
}

func selfTransferCheck(tx action.Record) Check {
	if strings.EqualFold(tx.From, tx.To) && tx.From != "" {
		return Check{Name: "self_transfer", Passed: false, Severity: SeverityMedium, Description: "sender and recipient are the same address"}
	}
	return Check{Name: "self_transfer", Passed: true, Severity: SeverityLow, Description: "sender and recipient differ"}
}

func recommendationsFromChecks(checks []Check) []string {
	var out []string
	for _, ch := range checks {
		if !ch.Passed {
			switch ch.Name {
			case "sanctions_screening":
				out = append(out, "escalate to compliance officer before processing")
			case "threshold":
				out = append(out, "file CTR/Travel Rule advisory")
			case "address_format":
				out = append(out, "reject transaction: malformed address")
			case "token_allowlist":
				out = append(out, "reject transaction: unsupported token")
			case "self_transfer":
				out = append(out, "flag for manual review: self-transfer")
			}
		}
	}
	return out
}
