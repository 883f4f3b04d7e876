package incentive

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Progress is the legacy composite: the tier being approached, the tier
// anchoring the interval, and the clamped percentage between them.
type Progress struct {
	Next       Tier
	Previous   Tier
	Percentage float64
}

// Progress runs FindNextTier, FindPreviousTier and ComputeProgress in
// sequence, exactly as the customer list always has.
//
// Below tier 1 the interval collapses onto tier 1 and the result is 0.
// Past the last tier the result is the last interval clamped to 100.
func (t Table) Progress(spend Money) Progress {
	next := t.FindNextTier(spend)
	prev := t.FindPreviousTier(next)
	return Progress{
		Next:       next,
		Previous:   prev,
		Percentage: ComputeProgress(spend, prev, next),
	}
}

// ComputeProgress returns where spend sits inside [previous, next) as a
// percentage clamped to [0, 100]. A zero-width (or inverted) interval
// yields 0.
func ComputeProgress(spend Money, previous, next Tier) float64 {
	return percentBetween(spend, previous.Threshold, next.Threshold)
}

func percentBetween(spend, lo, hi Money) float64 {
	if hi <= lo {
		return 0
	}
	width := decimal.NewFromInt(int64(hi)).Sub(decimal.NewFromInt(int64(lo)))
	pct := decimal.NewFromInt(int64(spend)).
		Sub(decimal.NewFromInt(int64(lo))).
		Mul(hundred).
		Div(width)

	switch {
	case pct.IsNegative():
		return 0
	case pct.GreaterThan(hundred):
		return 100
	}
	return pct.InexactFloat64()
}
