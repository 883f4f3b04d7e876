/*
Package incentive implements the customer incentive tier ladder.

PURPOSE:
  Given a customer's cumulative spend, determine the reward tier they are
  working towards, the tier they last reached, and how far along the
  interval between the two they are. The dashboard renders the result as
  the reward card and the progress bar on the customer list and drawer.

KEY CONCEPTS:
  - Money: an amount in the smallest currency unit (no fractions)
  - Tier:  a level, the spend threshold that unlocks it, and its prize
  - Table: the ordered, immutable ladder of tiers

OPERATIONS:
  Table.FindNextTier(spend)      first tier whose threshold exceeds spend
  Table.FindPreviousTier(next)   tier immediately before next
  ComputeProgress(spend, p, n)   clamped 0..100 position inside [p, n)
  Table.Progress(spend)          the three steps above, composed
  Table.Evaluate(spend)          tagged standing (below first / in range / maxed)
  Table.Crossed(before, after)   tiers unlocked by a change in spend

CONCURRENCY:
  Everything here is pure. A Table never changes after construction, so it
  can be shared by any number of goroutines without locking.

SEE ALSO:
  - locate.go:   locator and resolver
  - progress.go: normalizer and the legacy composite
  - standing.go: tagged standing
  - factory/:    tier tables from JSON/YAML documents
*/
package incentive

import "fmt"

// =============================================================================
// MONEY
// =============================================================================

// Money is an amount in the smallest currency unit.
type Money int64

// =============================================================================
// TIER
// =============================================================================

// Tier is one rung of the incentive ladder.
type Tier struct {
	Level     int
	Threshold Money
	Prize     string
}

func (t Tier) String() string {
	return fmt.Sprintf("tier %d (%d): %s", t.Level, t.Threshold, t.Prize)
}

// =============================================================================
// TABLE
// =============================================================================

// Table is an ordered, non-empty, immutable list of tiers.
//
// INVARIANTS (checked by NewTable):
//   - at least one tier
//   - levels are 1..N in order
//   - thresholds are non-negative and strictly increasing
//
// The zero Table is not usable; build one with NewTable or MustTable.
type Table struct {
	tiers []Tier
}

// NewTable validates tiers and returns a Table holding its own copy.
func NewTable(tiers []Tier) (Table, error) {
	if len(tiers) == 0 {
		return Table{}, &TableError{Index: -1, Reason: "no tiers"}
	}
	for i, t := range tiers {
		if t.Level != i+1 {
			return Table{}, &TableError{Index: i, Reason: fmt.Sprintf("level %d out of sequence, want %d", t.Level, i+1)}
		}
		if t.Threshold < 0 {
			return Table{}, &TableError{Index: i, Reason: "negative threshold"}
		}
		if i > 0 && t.Threshold <= tiers[i-1].Threshold {
			return Table{}, &TableError{Index: i, Reason: fmt.Sprintf("threshold %d not above previous %d", t.Threshold, tiers[i-1].Threshold)}
		}
	}
	owned := make([]Tier, len(tiers))
	copy(owned, tiers)
	return Table{tiers: owned}, nil
}

// MustTable is NewTable for compiled-in ladders. It panics on invalid input.
func MustTable(tiers []Tier) Table {
	t, err := NewTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTable returns the compiled-in ladder used when no tier document
// is configured.
func DefaultTable() Table {
	return MustTable([]Tier{
		{Level: 1, Threshold: 1_000_000, Prize: "Gift card"},
		{Level: 2, Threshold: 3_000_000, Prize: "Sterling silver bracelet"},
		{Level: 3, Threshold: 5_000_000, Prize: "Freshwater pearl earrings"},
		{Level: 4, Threshold: 10_000_000, Prize: "18k gold pendant"},
		{Level: 5, Threshold: 25_000_000, Prize: "Weekend getaway for two"},
		{Level: 6, Threshold: 50_000_000, Prize: "Diamond stud earrings"},
		{Level: 7, Threshold: 100_000_000, Prize: "Luxury watch"},
		{Level: 8, Threshold: 250_000_000, Prize: "International trip for two"},
		{Level: 9, Threshold: 500_000_000, Prize: "Motorcycle"},
		{Level: 10, Threshold: 1_000_000_000, Prize: "Compact car"},
		{Level: 11, Threshold: 2_000_000_000, Prize: "Apartment down payment"},
	})
}

func (t Table) Len() int      { return len(t.tiers) }
func (t Table) At(i int) Tier { return t.tiers[i] }
func (t Table) First() Tier   { return t.tiers[0] }
func (t Table) Last() Tier    { return t.tiers[len(t.tiers)-1] }

// Tiers returns a copy of the ladder.
func (t Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// ByLevel looks up a tier by its level.
func (t Table) ByLevel(level int) (Tier, bool) {
	if level < 1 || level > len(t.tiers) {
		return Tier{}, false
	}
	return t.tiers[level-1], true
}
