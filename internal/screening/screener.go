// Package screening implements the sanctions screener: address lookup,
// fuzzy entity name matching, the 50%-ownership rule, and
// transaction-pattern analytics. The screener owns its seed dataset; there
// is no shared global list.
package screening

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/sanctions"
)

// Screener holds the in-process sanctions address and entity tables.
type Screener struct {
	mu       sync.RWMutex
	entries  map[string]sanctions.Entry  // keyed by lowercased address
	entities []sanctions.Entity
	mixers   map[string]bool // lowercased addresses known to be mixers
}

// New constructs a Screener seeded with the baseline dataset.
func New() *Screener {
	s := &Screener{
		entries: make(map[string]sanctions.Entry),
		mixers:  make(map[string]bool),
	}
	s.seed()
	return s
}

// seed populates a small baseline dataset grounded in publicly documented
// OFAC SDN/delisting actions against mixer infrastructure.
func (s *Screener) seed() {
	removedAt := time.Date(2022, 11, 8, 0, 0, 0, 0, time.UTC)

	s.addAddressesLocked([]sanctions.Entry{
		{
			Address:    "0x098B716B8Aaf21512996dC57EB0615e2383E2f96",
			Lists:      []sanctions.ListName{sanctions.ListSDN},
			EntityName: "Tornado Cash",
			EntityType: "mixer",
			DateAdded:  time.Date(2022, 8, 8, 0, 0, 0, 0, time.UTC),
			Chains:     []string{"ethereum", "base"},
			Notes:      "OFAC SDN designation, active",
		},
		{
			Address:     "0x58E8dCC13BE9780fC42E8723D8EaD4CF46943dF2",
			Lists:       []sanctions.ListName{sanctions.ListDelisted},
			EntityName:  "Tornado Cash Router",
			EntityType:  "mixer",
			DateAdded:   time.Date(2022, 8, 8, 0, 0, 0, 0, time.UTC),
			DateRemoved: &removedAt,
			Chains:      []string{"ethereum", "base"},
			Notes:       "delisted after judicial review; retained for history",
		},
	})

	s.mu.Lock()
	s.mixers[strings.ToLower("0x098B716B8Aaf21512996dC57EB0615e2383E2f96")] = true
	s.mixers[strings.ToLower("0x58E8dCC13BE9780fC42E8723D8EaD4CF46943dF2")] = true
	s.mu.Unlock()

	s.AddEntities([]sanctions.Entity{
		{Name: "Tornado Cash", Aliases: []string{"Tornado", "TC Mixer"}, Addresses: []string{"0x098B716B8Aaf21512996dC57EB0615e2383E2f96"}, List: sanctions.ListSDN},
	})
}

// AddAddresses adds or replaces sanctions entries at runtime.
func (s *Screener) AddAddresses(entries []sanctions.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addAddressesLocked(entries)
}

func (s *Screener) addAddressesLocked(entries []sanctions.Entry) {
	for _, e := range entries {
		s.entries[strings.ToLower(e.Address)] = e
	}
}

// AddEntities adds entries to the fuzzy-search entity table.
func (s *Screener) AddEntities(entities []sanctions.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, entities...)
}

// IsActivelySanctioned reports whether address is on a list with no
// DateRemoved. Address lookup is case-insensitive.
func (s *Screener) IsActivelySanctioned(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.ToLower(address)]
	return ok && e.IsActive()
}

// HasAnySanctionsHistory reports whether address appears at all, active or
// delisted.
func (s *Screener) HasAnySanctionsHistory(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[strings.ToLower(address)]
	return ok
}

// ScreenOptions carries the optional counterparty/jurisdiction context for
// ScreenAddress.
type ScreenOptions struct {
	CounterpartyAddress string
	Jurisdiction        string
}

// comprehensiveJurisdictions are jurisdictions under comprehensive sanctions
// programs (risk 100/BLOCKED); partialJurisdictions carry sectoral or
// partial programs (risk 60/SEVERE).
var comprehensiveJurisdictions = map[string]bool{
	"north korea": true, "iran": true, "syria": true, "cuba": true,
}
var partialJurisdictions = map[string]bool{
	"russia": true, "belarus": true, "venezuela": true,
}

// ScreenAddress returns the comprehensive screening verdict for address.
func (s *Screener) ScreenAddress(address string, opts ScreenOptions) sanctions.ScreenResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := sanctions.ScreenResult{
		ListsChecked: []sanctions.ListName{sanctions.ListSDN, sanctions.ListConsolidated, sanctions.ListDelisted},
		ScreenedAt:   time.Now().UTC(),
	}

	// Each risk source carries a fixed score/level pairing; the result takes
	// whichever pairing ranks highest rather than re-bucketing the score.
	score, level := 0, sanctions.RiskNone

	raise := func(s int, l sanctions.RiskLevel) {
		score = maxInt(score, s)
		if levelRank(l) > levelRank(level) {
			level = l
		}
	}

	if e, ok := s.entries[strings.ToLower(address)]; ok {
		result.DirectMatches = append(result.DirectMatches, e)
		if e.IsActive() {
			raise(100, sanctions.RiskBlocked)
		} else {
			delisted := delistedRiskScore(e, result.ScreenedAt)
			raise(delisted, riskLevelForScore(delisted))
		}
	}
	if opts.CounterpartyAddress != "" {
		if e, ok := s.entries[strings.ToLower(opts.CounterpartyAddress)]; ok {
			result.DirectMatches = append(result.DirectMatches, e)
			if e.IsActive() {
				raise(100, sanctions.RiskBlocked)
			} else {
				delisted := delistedRiskScore(e, result.ScreenedAt)
				raise(delisted, riskLevelForScore(delisted))
			}
		}
	}

	if opts.Jurisdiction != "" {
		j := strings.ToLower(strings.TrimSpace(opts.Jurisdiction))
		if comprehensiveJurisdictions[j] {
			result.JurisdictionFlags = append(result.JurisdictionFlags, sanctions.JurisdictionFlag{
				Jurisdiction: opts.Jurisdiction, Severity: "comprehensive",
				Description: "jurisdiction under comprehensive sanctions program",
			})
			raise(100, sanctions.RiskBlocked)
		} else if partialJurisdictions[j] {
			result.JurisdictionFlags = append(result.JurisdictionFlags, sanctions.JurisdictionFlag{
				Jurisdiction: opts.Jurisdiction, Severity: "partial",
				Description: "jurisdiction under partial/sectoral sanctions program",
			})
			raise(60, sanctions.RiskSevere)
		}
	}

	result.RiskScore = score
	result.Sanctioned = score == 100
	result.RiskLevel = level
	result.Recommendations = recommendationsFor(result.RiskLevel)
	return result
}

// levelRank orders risk levels for comparisons between risk sources.
func levelRank(l sanctions.RiskLevel) int {
	switch l {
	case sanctions.RiskBlocked:
		return 5
	case sanctions.RiskSevere:
		return 4
	case sanctions.RiskHigh:
		return 3
	case sanctions.RiskMedium:
		return 2
	case sanctions.RiskLow:
		return 1
	default:
		return 0
	}
}

func delistedRiskScore(e sanctions.Entry, now time.Time) int {
	if e.DateRemoved == nil {
		return 30
	}
	daysSince := now.Sub(*e.DateRemoved).Hours() / 24
	switch {
	case daysSince < 90:
		return 60
	case daysSince < 365:
		return 45
	default:
		return 30
	}
}

func riskLevelForScore(score int) sanctions.RiskLevel {
	switch {
	case score >= 100:
		return sanctions.RiskBlocked
	case score >= 75:
		return sanctions.RiskSevere
	case score >= 50:
		return sanctions.RiskHigh
	case score >= 25:
		return sanctions.RiskMedium
	case score > 0:
		return sanctions.RiskLow
	default:
		return sanctions.RiskNone
	}
}

func recommendationsFor(level sanctions.RiskLevel) []string {
	switch level {
	case sanctions.RiskBlocked:
		return []string{"block transaction", "file internal SAR review"}
	case sanctions.RiskSevere:
		return []string{"escalate to compliance officer", "request enhanced due diligence"}
	case sanctions.RiskHigh:
		return []string{"flag for manual review"}
	case sanctions.RiskMedium:
		return []string{"note delisted sanctions history on file"}
	default:
		return nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SearchEntityName fuzzy-matches query against the canonical name and
// aliases of every seeded entity, using token-set Jaccard similarity on
// lowercased words, augmented with substring containment (a query that is a
// substring of the candidate, or vice versa, is treated as a full match).
// Results are returned in descending similarity order.
func (s *Screener) SearchEntityName(query string, threshold float64) []sanctions.NameMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []sanctions.NameMatch
	for _, e := range s.entities {
		best := jaccardSimilarity(query, e.Name)
		for _, alias := range e.Aliases {
			if sim := jaccardSimilarity(query, alias); sim > best {
				best = sim
			}
		}
		if best >= threshold {
			out = append(out, sanctions.NameMatch{Entity: e, Similarity: best})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// jaccardSimilarity computes token-set Jaccard over lowercased words,
// boosted to 1.0 when one string fully contains the other as a substring.
func jaccardSimilarity(a, b string) float64 {
	la, lb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return 0
	}
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return 1.0
	}

	setA := tokenSet(la)
	setB := tokenSet(lb)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	union := make(map[string]bool, len(setA)+len(setB))
	for t := range setA {
		union[t] = true
		if setB[t] {
			intersection++
		}
	}
	for t := range setB {
		union[t] = true
	}
	return float64(intersection) / float64(len(union))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		out[tok] = true
	}
	return out
}

// CheckFiftyPercentRule flags individual owners whose name fuzzy-matches a
// sanctioned entity, plus one aggregate flag if total sanctioned ownership
// across owners reaches or exceeds 50%.
func (s *Screener) CheckFiftyPercentRule(entityName string, owners []sanctions.Owner) []sanctions.OwnershipFlag {
	var flags []sanctions.OwnershipFlag
	var sanctionedTotal float64

	for _, owner := range owners {
		matches := s.SearchEntityName(owner.OwnerName, 0.7)
		if len(matches) == 0 {
			continue
		}
		top := matches[0]
		flags = append(flags, sanctions.OwnershipFlag{
			Kind:       "individual",
			OwnerName:  owner.OwnerName,
			Entity:     top.Entity.Name,
			Percentage: owner.OwnershipPercentage,
			Similarity: top.Similarity,
		})
		sanctionedTotal += owner.OwnershipPercentage
	}

	if sanctionedTotal >= 50 {
		flags = append(flags, sanctions.OwnershipFlag{
			Kind:       "aggregate",
			Entity:     entityName,
			Percentage: sanctionedTotal,
		})
	}

	return flags
}

// AnalyzeTransactionPatterns runs the five fixed detectors over txs.
func (s *Screener) AnalyzeTransactionPatterns(txs []sanctions.Tx) []sanctions.PatternFlag {
	var flags []sanctions.PatternFlag
	flags = append(flags, s.detectMixing(txs)...)
	flags = append(flags, detectChainHopping(txs)...)
	flags = append(flags, detectStructuring(txs)...)
	flags = append(flags, detectRapidMovement(txs)...)
	flags = append(flags, detectPeelingChain(txs)...)
	return flags
}

func (s *Screener) detectMixing(txs []sanctions.Tx) []sanctions.PatternFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var flags []sanctions.PatternFlag
	for _, tx := range txs {
		if tx.CounterpartyIsMixer || s.mixers[strings.ToLower(tx.To)] {
			flags = append(flags, sanctions.PatternFlag{
				Kind: sanctions.PatternMixing, Description: "counterparty is a known mixer",
				TxHashes: []string{tx.TxHash}, Sender: tx.From, DetectedAt: tx.Timestamp,
			})
		}
	}
	return flags
}

func byAmount(tx sanctions.Tx) decimal.Decimal {
	d, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func groupBySender(txs []sanctions.Tx) map[string][]sanctions.Tx {
	out := make(map[string][]sanctions.Tx)
	for _, tx := range txs {
		out[tx.From] = append(out[tx.From], tx)
	}
	for sender := range out {
		sort.Slice(out[sender], func(i, j int) bool {
			return out[sender][i].Timestamp.Before(out[sender][j].Timestamp)
		})
	}
	return out
}

// detectChainHopping: ≥3 txs by same sender across ≥2 chains within a
// 5-minute window with amounts within ±2% of each other.
func detectChainHopping(txs []sanctions.Tx) []sanctions.PatternFlag {
	var flags []sanctions.PatternFlag
	for sender, group := range groupBySender(txs) {
		for i := range group {
			window := []sanctions.Tx{group[i]}
			chains := map[string]bool{group[i].Chain: true}
			for j := i + 1; j < len(group); j++ {
				if group[j].Timestamp.Sub(group[i].Timestamp) > 5*time.Minute {
					break
				}
				if !withinPercent(byAmount(group[i]), byAmount(group[j]), 2) {
					continue
				}
				window = append(window, group[j])
				chains[group[j].Chain] = true
			}
			if len(window) >= 3 && len(chains) >= 2 {
				flags = append(flags, sanctions.PatternFlag{
					Kind: sanctions.PatternChainHopping, Description: "transactions across multiple chains within a 5-minute window at near-identical amounts",
					TxHashes: hashesOf(window), Sender: sender, DetectedAt: window[len(window)-1].Timestamp,
				})
			}
		}
	}
	return flags
}

// detectStructuring: ≥3 txs from same sender within 24h, each 80-99% of the
// 10,000-unit reporting threshold.
func detectStructuring(txs []sanctions.Tx) []sanctions.PatternFlag {
	const threshold = 10000
	lowBound := decimal.NewFromInt(threshold).Mul(decimal.NewFromFloat(0.80))
	highBound := decimal.NewFromInt(threshold).Mul(decimal.NewFromFloat(0.99))

	var flags []sanctions.PatternFlag
	for sender, group := range groupBySender(txs) {
		var window []sanctions.Tx
		for _, tx := range group {
			amt := byAmount(tx)
			if amt.LessThan(lowBound) || amt.GreaterThan(highBound) {
				continue
			}
			window = append(window, tx)
		}
		for i := 0; i < len(window); i++ {
			sub := []sanctions.Tx{window[i]}
			for j := i + 1; j < len(window); j++ {
				if window[j].Timestamp.Sub(window[i].Timestamp) > 24*time.Hour {
					break
				}
				sub = append(sub, window[j])
			}
			if len(sub) >= 3 {
				flags = append(flags, sanctions.PatternFlag{
					Kind: sanctions.PatternStructuring, Description: "multiple transactions just under the reporting threshold within 24 hours",
					TxHashes: hashesOf(sub), Sender: sender, DetectedAt: sub[len(sub)-1].Timestamp,
				})
				// Resume past this window so a later, disjoint episode by the
				// same sender still gets its own flag.
				i += len(sub) - 1
			}
		}
	}
	return flags
}

// detectRapidMovement: ≥5 txs from same sender within 90 seconds.
func detectRapidMovement(txs []sanctions.Tx) []sanctions.PatternFlag {
	var flags []sanctions.PatternFlag
	for sender, group := range groupBySender(txs) {
		for i := 0; i < len(group); i++ {
			window := []sanctions.Tx{group[i]}
			for j := i + 1; j < len(group); j++ {
				if group[j].Timestamp.Sub(group[i].Timestamp) > 90*time.Second {
					break
				}
				window = append(window, group[j])
			}
			if len(window) >= 5 {
				flags = append(flags, sanctions.PatternFlag{
					Kind: sanctions.PatternRapidMovement, Description: "five or more transactions within 90 seconds",
					TxHashes: hashesOf(window), Sender: sender, DetectedAt: window[len(window)-1].Timestamp,
				})
				break
			}
		}
	}
	return flags
}

// detectPeelingChain: ≥4 txs where each successive sender equals the prior
// recipient, amounts decrease 2-10% per step, timestamps within 5 minutes.
func detectPeelingChain(txs []sanctions.Tx) []sanctions.PatternFlag {
	sorted := make([]sanctions.Tx, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var flags []sanctions.PatternFlag
	for i := 0; i < len(sorted); i++ {
		chainTxs := []sanctions.Tx{sorted[i]}
		cur := sorted[i]
		for j := i + 1; j < len(sorted); j++ {
			next := sorted[j]
			if next.From != cur.To {
				continue
			}
			if next.Timestamp.Sub(cur.Timestamp) > 5*time.Minute {
				break
			}
			ratio := byAmount(next).Div(byAmount(cur))
			if ratio.GreaterThan(decimal.NewFromFloat(0.98)) || ratio.LessThan(decimal.NewFromFloat(0.90)) {
				continue
			}
			chainTxs = append(chainTxs, next)
			cur = next
		}
		if len(chainTxs) >= 4 {
			flags = append(flags, sanctions.PatternFlag{
				Kind: sanctions.PatternPeelingChain, Description: "sequence of transactions each decreasing 2-10% while forwarding to the prior recipient",
				TxHashes: hashesOf(chainTxs), Sender: chainTxs[0].From, DetectedAt: chainTxs[len(chainTxs)-1].Timestamp,
			})
		}
	}
	return flags
}

func withinPercent(a, b decimal.Decimal, pct float64) bool {
	if a.IsZero() {
		return b.IsZero()
	}
	diff := a.Sub(b).Abs()
	bound := a.Abs().Mul(decimal.NewFromFloat(pct / 100))
	return diff.LessThanOrEqual(bound)
}

func hashesOf(txs []sanctions.Tx) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.TxHash
	}
	return out
}
