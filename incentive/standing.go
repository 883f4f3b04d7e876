package incentive

import "fmt"

// =============================================================================
// STANDING KIND
// =============================================================================

// Kind tags where a spend falls on the ladder.
type Kind int

const (
	KindBelowFirst   Kind = iota // spend below tier 1
	KindWithinRange              // between two tiers
	KindAtOrAboveMax             // at or past the last tier
)

var kindNames = [...]string{"below_first", "within_range", "at_or_above_max"}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown standing kind %q", b)
}

// =============================================================================
// STANDING
// =============================================================================

// Standing is the explicit form of a customer's position on the ladder.
//
//	KindBelowFirst:   Current nil, Next = tier 1, Percentage measured from zero
//	KindWithinRange:  Current = last reached, Next = the one after
//	KindAtOrAboveMax: Current = last tier, Next nil, Percentage 100
type Standing struct {
	Kind       Kind
	Spend      Money
	Current    *Tier
	Next       *Tier
	Percentage float64
}

// Level is the highest reached level, 0 when no tier is reached yet.
func (s Standing) Level() int {
	if s.Current == nil {
		return 0
	}
	return s.Current.Level
}

// Remaining is the spend still missing to unlock Next, 0 when maxed out.
func (s Standing) Remaining() Money {
	if s.Next == nil {
		return 0
	}
	if d := s.Next.Threshold - s.Spend; d > 0 {
		return d
	}
	return 0
}

// Evaluate places spend on the ladder. Negative spend counts as zero.
func (t Table) Evaluate(spend Money) Standing {
	if spend < 0 {
		spend = 0
	}

	first, last := t.First(), t.Last()
	switch {
	case spend < first.Threshold:
		return Standing{
			Kind:       KindBelowFirst,
			Spend:      spend,
			Next:       &first,
			Percentage: percentBetween(spend, 0, first.Threshold),
		}
	case spend >= last.Threshold:
		return Standing{
			Kind:       KindAtOrAboveMax,
			Spend:      spend,
			Current:    &last,
			Percentage: 100,
		}
	}

	i := t.indexAbove(spend)
	current, next := t.tiers[i-1], t.tiers[i]
	return Standing{
		Kind:       KindWithinRange,
		Spend:      spend,
		Current:    &current,
		Next:       &next,
		Percentage: ComputeProgress(spend, current, next),
	}
}
