package incentive

import "sort"

// indexAbove returns the index of the first tier whose threshold strictly
// exceeds spend, or Len() when none does.
func (t Table) indexAbove(spend Money) int {
	return sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].Threshold > spend
	})
}

// FindNextTier returns the first tier whose threshold strictly exceeds spend.
//
// When spend is at or beyond the last threshold there is no such tier and
// the last tier is returned, so a maxed-out customer looks like one who is
// still approaching the top. Evaluate reports that case explicitly.
func (t Table) FindNextTier(spend Money) Tier {
	i := t.indexAbove(spend)
	if i == len(t.tiers) {
		return t.Last()
	}
	return t.tiers[i]
}

// FindPreviousTier returns the tier immediately before next. The first
// tier, and any tier not in the table, resolve to the first tier.
func (t Table) FindPreviousTier(next Tier) Tier {
	for i := 1; i < len(t.tiers); i++ {
		if t.tiers[i] == next {
			return t.tiers[i-1]
		}
	}
	return t.First()
}

// Reached returns every tier whose threshold is at or below spend.
func (t Table) Reached(spend Money) []Tier {
	n := t.indexAbove(spend)
	if n == 0 {
		return nil
	}
	out := make([]Tier, n)
	copy(out, t.tiers[:n])
	return out
}

// Crossed returns the tiers unlocked when spend moves from before to after:
// those with before < threshold <= after. A decrease unlocks nothing.
func (t Table) Crossed(before, after Money) []Tier {
	if after <= before {
		return nil
	}
	lo, hi := t.indexAbove(before), t.indexAbove(after)
	if lo >= hi {
		return nil
	}
	out := make([]Tier, hi-lo)
	copy(out, t.tiers[lo:hi])
	return out
}
