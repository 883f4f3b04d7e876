package incentive_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func ladder(t *testing.T, thresholds ...incentive.Money) incentive.Table {
	t.Helper()
	tiers := make([]incentive.Tier, len(thresholds))
	for i, th := range thresholds {
		tiers[i] = incentive.Tier{Level: i + 1, Threshold: th, Prize: "prize"}
	}
	table, err := incentive.NewTable(tiers)
	require.NoError(t, err)
	return table
}

func tier(t *testing.T, table incentive.Table, level int) incentive.Tier {
	t.Helper()
	tr, ok := table.ByLevel(level)
	require.True(t, ok, "level %d missing", level)
	return tr
}

// =============================================================================
// TABLE
// =============================================================================

func TestNewTable_RejectsBrokenLadders(t *testing.T) {
	cases := map[string][]incentive.Tier{
		"empty":              nil,
		"level gap":          {{Level: 1, Threshold: 10}, {Level: 3, Threshold: 20}},
		"starts at zero":     {{Level: 0, Threshold: 10}},
		"equal thresholds":   {{Level: 1, Threshold: 10}, {Level: 2, Threshold: 10}},
		"falling thresholds": {{Level: 1, Threshold: 20}, {Level: 2, Threshold: 10}},
		"negative threshold": {{Level: 1, Threshold: -1}},
	}
	for name, tiers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := incentive.NewTable(tiers)
			require.Error(t, err)
			assert.True(t, errors.Is(err, incentive.ErrInvalidTable))

			var tableErr *incentive.TableError
			assert.ErrorAs(t, err, &tableErr)
		})
	}
}

func TestNewTable_CopiesInput(t *testing.T) {
	tiers := []incentive.Tier{{Level: 1, Threshold: 10, Prize: "a"}, {Level: 2, Threshold: 20, Prize: "b"}}
	table, err := incentive.NewTable(tiers)
	require.NoError(t, err)

	tiers[0].Prize = "mutated"
	got := table.Tiers()
	got[1].Prize = "mutated too"

	assert.Equal(t, "a", table.First().Prize)
	assert.Equal(t, "b", table.Last().Prize)
}

func TestDefaultTable_MatchesDashboardLadder(t *testing.T) {
	table := incentive.DefaultTable()

	assert.Equal(t, incentive.Money(1_000_000), table.First().Threshold)
	assert.Equal(t, incentive.Money(3_000_000), tier(t, table, 2).Threshold)
	assert.Equal(t, incentive.Money(2_000_000_000), table.Last().Threshold)
	assert.LessOrEqual(t, table.Len(), 20)

	_, ok := table.ByLevel(0)
	assert.False(t, ok)
	_, ok = table.ByLevel(table.Len() + 1)
	assert.False(t, ok)
}

// =============================================================================
// LOCATOR / RESOLVER
// =============================================================================

func TestFindNextTier(t *testing.T) {
	table := ladder(t, 100, 200, 300)

	assert.Equal(t, 1, table.FindNextTier(0).Level)
	assert.Equal(t, 1, table.FindNextTier(99).Level)
	assert.Equal(t, 2, table.FindNextTier(100).Level, "threshold must be strictly exceeded")
	assert.Equal(t, 3, table.FindNextTier(299).Level)
	assert.Equal(t, 3, table.FindNextTier(300).Level, "past the top falls back to the last tier")
	assert.Equal(t, 3, table.FindNextTier(1_000_000).Level)
}

func TestFindPreviousTier(t *testing.T) {
	table := ladder(t, 100, 200, 300)

	assert.Equal(t, 1, table.FindPreviousTier(tier(t, table, 1)).Level, "first tier resolves to itself")
	assert.Equal(t, 1, table.FindPreviousTier(tier(t, table, 2)).Level)
	assert.Equal(t, 2, table.FindPreviousTier(tier(t, table, 3)).Level)

	stranger := incentive.Tier{Level: 9, Threshold: 999}
	assert.Equal(t, 1, table.FindPreviousTier(stranger).Level)
}

func TestCrossed(t *testing.T) {
	table := ladder(t, 100, 200, 300)

	levels := func(ts []incentive.Tier) []int {
		var out []int
		for _, tr := range ts {
			out = append(out, tr.Level)
		}
		return out
	}

	assert.Equal(t, []int{1}, levels(table.Crossed(0, 100)))
	assert.Equal(t, []int{1, 2, 3}, levels(table.Crossed(0, 5_000)))
	assert.Equal(t, []int{2}, levels(table.Crossed(100, 250)))
	assert.Empty(t, table.Crossed(100, 150))
	assert.Empty(t, table.Crossed(250, 150), "decrease unlocks nothing")
	assert.Empty(t, table.Crossed(300, 900))
}

func TestReached(t *testing.T) {
	table := ladder(t, 100, 200, 300)

	assert.Empty(t, table.Reached(99))
	assert.Len(t, table.Reached(100), 1)
	assert.Len(t, table.Reached(299), 2)
	assert.Len(t, table.Reached(10_000), 3)
}

// =============================================================================
// NORMALIZER
// =============================================================================

func TestComputeProgress_ZeroWidthInterval(t *testing.T) {
	// GIVEN: previous and next are the same tier
	// WHEN:  computing progress
	// THEN:  the result is exactly 0, never NaN
	tr := incentive.Tier{Level: 1, Threshold: 1_000_000}

	for _, spend := range []incentive.Money{0, 500_000, 1_000_000, 9_000_000} {
		got := incentive.ComputeProgress(spend, tr, tr)
		assert.False(t, math.IsNaN(got))
		assert.Equal(t, 0.0, got)
	}
}

func TestComputeProgress_Clamps(t *testing.T) {
	prev := incentive.Tier{Level: 1, Threshold: 100}
	next := incentive.Tier{Level: 2, Threshold: 200}

	assert.Equal(t, 0.0, incentive.ComputeProgress(0, prev, next))
	assert.Equal(t, 25.0, incentive.ComputeProgress(125, prev, next))
	assert.Equal(t, 100.0, incentive.ComputeProgress(200, prev, next))
	assert.Equal(t, 100.0, incentive.ComputeProgress(5_000, prev, next))
	assert.Equal(t, 0.0, incentive.ComputeProgress(150, next, prev), "inverted interval")
}

// =============================================================================
// SCENARIOS (legacy composite)
// =============================================================================

func TestProgress_Scenarios(t *testing.T) {
	table := incentive.DefaultTable()
	tier1, tier2, tier3 := tier(t, table, 1), tier(t, table, 2), tier(t, table, 3)

	tests := []struct {
		name     string
		spend    incentive.Money
		next     incentive.Tier
		previous incentive.Tier
		want     float64
	}{
		{"no spend", 0, tier1, tier1, 0},
		{"half way to tier 1", 500_000, tier1, tier1, 0},
		{"mid tier 1 to 2", 2_000_000, tier2, tier1, 50},
		{"exactly tier 2", 3_000_000, tier3, tier2, 0},
		{"far past the top", 5_000_000_000, table.Last(), tier(t, table, table.Len()-1), 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := table.Progress(tc.spend)
			assert.Equal(t, tc.next, got.Next)
			assert.Equal(t, tc.previous, got.Previous)
			assert.Equal(t, tc.want, got.Percentage)
		})
	}
}

// =============================================================================
// STANDING (tagged)
// =============================================================================

func TestEvaluate_BelowFirst(t *testing.T) {
	// GIVEN: a customer who has not reached tier 1
	// WHEN:  evaluating their standing
	// THEN:  progress is measured from zero towards tier 1
	table := incentive.DefaultTable()

	s := table.Evaluate(500_000)
	assert.Equal(t, incentive.KindBelowFirst, s.Kind)
	assert.Nil(t, s.Current)
	require.NotNil(t, s.Next)
	assert.Equal(t, 1, s.Next.Level)
	assert.Equal(t, 50.0, s.Percentage)
	assert.Equal(t, 0, s.Level())
	assert.Equal(t, incentive.Money(500_000), s.Remaining())

	zero := table.Evaluate(0)
	assert.Equal(t, incentive.KindBelowFirst, zero.Kind)
	assert.Equal(t, 0.0, zero.Percentage)
}

func TestEvaluate_WithinRange(t *testing.T) {
	table := incentive.DefaultTable()

	s := table.Evaluate(2_000_000)
	assert.Equal(t, incentive.KindWithinRange, s.Kind)
	require.NotNil(t, s.Current)
	require.NotNil(t, s.Next)
	assert.Equal(t, 1, s.Current.Level)
	assert.Equal(t, 2, s.Next.Level)
	assert.Equal(t, 50.0, s.Percentage)
	assert.Equal(t, incentive.Money(1_000_000), s.Remaining())

	exact := table.Evaluate(3_000_000)
	assert.Equal(t, 2, exact.Level())
	assert.Equal(t, 0.0, exact.Percentage)
}

func TestEvaluate_AtOrAboveMax(t *testing.T) {
	table := incentive.DefaultTable()

	for _, spend := range []incentive.Money{2_000_000_000, 5_000_000_000} {
		s := table.Evaluate(spend)
		assert.Equal(t, incentive.KindAtOrAboveMax, s.Kind)
		assert.Nil(t, s.Next)
		require.NotNil(t, s.Current)
		assert.Equal(t, table.Last(), *s.Current)
		assert.Equal(t, 100.0, s.Percentage)
		assert.Equal(t, incentive.Money(0), s.Remaining())
	}
}

func TestEvaluate_SingleTierTable(t *testing.T) {
	table := ladder(t, 1_000)

	assert.Equal(t, incentive.KindBelowFirst, table.Evaluate(999).Kind)
	top := table.Evaluate(1_000)
	assert.Equal(t, incentive.KindAtOrAboveMax, top.Kind)
	assert.Equal(t, 100.0, top.Percentage)
}

func TestEvaluate_NegativeSpendCountsAsZero(t *testing.T) {
	s := incentive.DefaultTable().Evaluate(-42)
	assert.Equal(t, incentive.Money(0), s.Spend)
	assert.Equal(t, 0.0, s.Percentage)
}

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range []incentive.Kind{incentive.KindBelowFirst, incentive.KindWithinRange, incentive.KindAtOrAboveMax} {
		b, err := k.MarshalText()
		require.NoError(t, err)

		var back incentive.Kind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}

	var k incentive.Kind
	assert.Error(t, k.UnmarshalText([]byte("platinum")))
}

// =============================================================================
// PROPERTIES
// =============================================================================

// spends walks the default ladder densely around every threshold.
func spends(table incentive.Table) []incentive.Money {
	out := []incentive.Money{0, 1, 5_000_000_000}
	for _, tr := range table.Tiers() {
		for _, d := range []incentive.Money{-1_000, -1, 0, 1, 1_000} {
			if v := tr.Threshold + d; v >= 0 {
				out = append(out, v)
			}
		}
	}
	return out
}

func TestProperty_MonotonicLevel(t *testing.T) {
	table := incentive.DefaultTable()
	all := spends(table)

	for _, a := range all {
		for _, b := range all {
			if a >= b {
				continue
			}
			assert.LessOrEqual(t, table.FindNextTier(a).Level, table.FindNextTier(b).Level, "next tier a=%d b=%d", a, b)
			assert.LessOrEqual(t, table.Evaluate(a).Level(), table.Evaluate(b).Level(), "level a=%d b=%d", a, b)
		}
	}
}

func TestProperty_BoundedAndIdempotent(t *testing.T) {
	table := incentive.DefaultTable()

	for _, spend := range spends(table) {
		p := table.Progress(spend)
		assert.False(t, math.IsNaN(p.Percentage))
		assert.GreaterOrEqual(t, p.Percentage, 0.0)
		assert.LessOrEqual(t, p.Percentage, 100.0)
		assert.Equal(t, p, table.Progress(spend))

		s := table.Evaluate(spend)
		assert.GreaterOrEqual(t, s.Percentage, 0.0)
		assert.LessOrEqual(t, s.Percentage, 100.0)
		assert.Equal(t, s, table.Evaluate(spend))
	}
}

func TestProperty_MaxSaturation(t *testing.T) {
	table := incentive.DefaultTable()

	for _, spend := range []incentive.Money{table.Last().Threshold, table.Last().Threshold * 3, math.MaxInt64} {
		p := table.Progress(spend)
		assert.Equal(t, table.Last(), p.Next)
		assert.Equal(t, 100.0, p.Percentage)
	}
}

func TestProperty_ZeroWidthGuard(t *testing.T) {
	table := incentive.DefaultTable()

	for spend := incentive.Money(0); spend < table.First().Threshold; spend += 125_000 {
		p := table.Progress(spend)
		assert.Equal(t, table.First(), p.Next)
		assert.Equal(t, table.First(), p.Previous)
		assert.False(t, math.IsNaN(p.Percentage))
		assert.Equal(t, 0.0, p.Percentage)
	}
}
