package screening

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay-lgtm-code/kontext-verify-sub003/domain/sanctions"
)

func TestActiveSanctionIsActiveNotDelisted(t *testing.T) {
	s := New()
	assert.True(t, s.IsActivelySanctioned("0x098B716B8Aaf21512996dC57EB0615e2383E2f96"))
	assert.True(t, s.HasAnySanctionsHistory("0x098B716B8Aaf21512996dC57EB0615e2383E2f96"))
}

func TestDelistedAddressIsNotActivelySanctionedButHasHistory(t *testing.T) {
	s := New()
	addr := "0x58E8dCC13BE9780fC42E8723D8EaD4CF46943dF2"
	assert.False(t, s.IsActivelySanctioned(addr))
	assert.True(t, s.HasAnySanctionsHistory(addr))
}

func TestAddressLookupIsCaseInsensitive(t *testing.T) {
	s := New()
	upper := "0X098B716B8AAF21512996DC57EB0615E2383E2F96"
	assert.True(t, s.IsActivelySanctioned(upper))
}

func TestScreenAddressActiveMatchIsBlocked(t *testing.T) {
	s := New()
	result := s.ScreenAddress("0x098B716B8Aaf21512996dC57EB0615e2383E2f96", ScreenOptions{})
	assert.True(t, result.Sanctioned)
	assert.Equal(t, sanctions.RiskBlocked, result.RiskLevel)
	assert.Equal(t, 100, result.RiskScore)
}

func TestScreenAddressDelistedMatchIsLowOrMediumNotSanctioned(t *testing.T) {
	s := New()
	result := s.ScreenAddress("0x58E8dCC13BE9780fC42E8723D8EaD4CF46943dF2", ScreenOptions{})
	assert.False(t, result.Sanctioned)
	assert.Contains(t, []sanctions.RiskLevel{sanctions.RiskLow, sanctions.RiskMedium}, result.RiskLevel)
	require.NotEmpty(t, result.DirectMatches)
}

func TestScreenAddressPartialJurisdictionIsSevere(t *testing.T) {
	s := New()
	for _, jurisdiction := range []string{"Russia", "Belarus", "Venezuela"} {
		result := s.ScreenAddress("0x0000000000000000000000000000000000dEaD", ScreenOptions{Jurisdiction: jurisdiction})
		assert.False(t, result.Sanctioned)
		assert.Equal(t, 60, result.RiskScore)
		assert.Equal(t, sanctions.RiskSevere, result.RiskLevel, jurisdiction)
		require.Len(t, result.JurisdictionFlags, 1)
		assert.Equal(t, "partial", result.JurisdictionFlags[0].Severity)
	}
}

func TestScreenAddressComprehensiveJurisdictionIsBlocked(t *testing.T) {
	s := New()
	result := s.ScreenAddress("0x0000000000000000000000000000000000dEaD", ScreenOptions{Jurisdiction: "North Korea"})
	assert.True(t, result.Sanctioned)
	assert.Equal(t, 100, result.RiskScore)
	assert.Equal(t, sanctions.RiskBlocked, result.RiskLevel)
	require.Len(t, result.JurisdictionFlags, 1)
	assert.Equal(t, "comprehensive", result.JurisdictionFlags[0].Severity)
}

func TestScreenAddressCleanAddressIsNone(t *testing.T) {
	s := New()
	result := s.ScreenAddress("0x0000000000000000000000000000000000dEaD", ScreenOptions{})
	assert.False(t, result.Sanctioned)
	assert.Equal(t, sanctions.RiskNone, result.RiskLevel)
}

func TestSearchEntityNameFindsCanonicalAndAlias(t *testing.T) {
	s := New()
	matches := s.SearchEntityName("Tornado", 0.5)
	require.NotEmpty(t, matches)
	assert.Equal(t, "Tornado Cash", matches[0].Entity.Name)
}

func TestSearchEntityNameDescendingBySimilarity(t *testing.T) {
	s := New()
	s.AddEntities([]sanctions.Entity{
		{Name: "Tornado Cash Classic", List: sanctions.ListSDN},
	})
	matches := s.SearchEntityName("tornado cash", 0.3)
	require.Len(t, matches, 2)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestCheckFiftyPercentRuleFlagsAggregate(t *testing.T) {
	s := New()
	owners := []sanctions.Owner{
		{OwnerName: "Tornado Cash", OwnershipPercentage: 60},
		{OwnerName: "Clean Holdco", OwnershipPercentage: 40},
	}
	flags := s.CheckFiftyPercentRule("Target Corp", owners)

	var hasAggregate bool
	for _, f := range flags {
		if f.Kind == "aggregate" {
			hasAggregate = true
			assert.Equal(t, float64(60), f.Percentage)
		}
	}
	assert.True(t, hasAggregate)
}

func TestCheckFiftyPercentRuleNoAggregateUnderFiftyPercent(t *testing.T) {
	s := New()
	owners := []sanctions.Owner{
		{OwnerName: "Tornado Cash", OwnershipPercentage: 30},
		{OwnerName: "Clean Holdco", OwnershipPercentage: 70},
	}
	flags := s.CheckFiftyPercentRule("Target Corp", owners)
	for _, f := range flags {
		assert.NotEqual(t, "aggregate", f.Kind)
	}
}

func baseTime() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

func TestAnalyzeTransactionPatternsMixing(t *testing.T) {
	s := New()
	txs := []sanctions.Tx{
		{TxHash: "0x1", From: "0xsender", To: "0x098B716B8Aaf21512996dC57EB0615e2383E2f96", Amount: "100", Timestamp: baseTime()},
	}
	flags := s.AnalyzeTransactionPatterns(txs)
	require.Len(t, flags, 1)
	assert.Equal(t, sanctions.PatternMixing, flags[0].Kind)
}

func TestAnalyzeTransactionPatternsChainHopping(t *testing.T) {
	s := New()
	t0 := baseTime()
	txs := []sanctions.Tx{
		{TxHash: "0x1", Chain: "ethereum", From: "0xsender", To: "0xa", Amount: "1000", Timestamp: t0},
		{TxHash: "0x2", Chain: "polygon", From: "0xsender", To: "0xb", Amount: "1005", Timestamp: t0.Add(time.Minute)},
		{TxHash: "0x3", Chain: "arbitrum", From: "0xsender", To: "0xc", Amount: "995", Timestamp: t0.Add(2 * time.Minute)},
	}
	flags := s.AnalyzeTransactionPatterns(txs)
	require.NotEmpty(t, flags)
	assert.Equal(t, sanctions.PatternChainHopping, flags[0].Kind)
}

func TestAnalyzeTransactionPatternsStructuring(t *testing.T) {
	s := New()
	t0 := baseTime()
	txs := []sanctions.Tx{
		{TxHash: "0x1", From: "0xsender", To: "0xa", Amount: "9500", Timestamp: t0},
		{TxHash: "0x2", From: "0xsender", To: "0xb", Amount: "9200", Timestamp: t0.Add(time.Hour)},
		{TxHash: "0x3", From: "0xsender", To: "0xc", Amount: "8800", Timestamp: t0.Add(2 * time.Hour)},
	}
	flags := s.AnalyzeTransactionPatterns(txs)
	var found bool
	for _, f := range flags {
		if f.Kind == sanctions.PatternStructuring {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyzeTransactionPatternsStructuringFlagsDisjointEpisodes(t *testing.T) {
	s := New()
	t0 := baseTime()
	var txs []sanctions.Tx
	for i := 0; i < 3; i++ {
		txs = append(txs, sanctions.Tx{
			TxHash: "0xfirst" + string(rune('a'+i)), From: "0xsender", To: "0xa", Amount: "9400",
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
		})
	}
	for i := 0; i < 3; i++ {
		txs = append(txs, sanctions.Tx{
			TxHash: "0xsecond" + string(rune('a'+i)), From: "0xsender", To: "0xb", Amount: "9600",
			Timestamp: t0.Add(120*time.Hour + time.Duration(i)*time.Hour),
		})
	}

	flags := s.AnalyzeTransactionPatterns(txs)
	var structuring int
	for _, f := range flags {
		if f.Kind == sanctions.PatternStructuring {
			structuring++
		}
	}
	assert.Equal(t, 2, structuring)
}

func TestAnalyzeTransactionPatternsRapidMovement(t *testing.T) {
	s := New()
	t0 := baseTime()
	var txs []sanctions.Tx
	for i := 0; i < 5; i++ {
		txs = append(txs, sanctions.Tx{
			TxHash: "0x" + string(rune('a'+i)), From: "0xsender", To: "0xdest", Amount: "10",
			Timestamp: t0.Add(time.Duration(i) * 10 * time.Second),
		})
	}
	flags := s.AnalyzeTransactionPatterns(txs)
	var found bool
	for _, f := range flags {
		if f.Kind == sanctions.PatternRapidMovement {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyzeTransactionPatternsPeelingChain(t *testing.T) {
	s := New()
	t0 := baseTime()
	txs := []sanctions.Tx{
		{TxHash: "0x1", From: "0xa", To: "0xb", Amount: "1000", Timestamp: t0},
		{TxHash: "0x2", From: "0xb", To: "0xc", Amount: "950", Timestamp: t0.Add(time.Minute)},
		{TxHash: "0x3", From: "0xc", To: "0xd", Amount: "900", Timestamp: t0.Add(2 * time.Minute)},
		{TxHash: "0x4", From: "0xd", To: "0xe", Amount: "850", Timestamp: t0.Add(3 * time.Minute)},
	}
	flags := s.AnalyzeTransactionPatterns(txs)
	var found bool
	for _, f := range flags {
		if f.Kind == sanctions.PatternPeelingChain {
			found = true
		}
	}
	assert.True(t, found)
}
