// Package position computes fractional sort keys for drag-and-drop
// reordering. Moving an item writes only that item's position; the rest of
// the list keeps its stored keys and is re-sorted on read.
package position

import "github.com/shopspring/decimal"

var (
	two = decimal.NewFromInt(2)

	// Step is the spacing used when assigning fresh positions to a list.
	Step = decimal.NewFromInt(1000)

	// MinGap is the threshold below which a list should be renumbered.
	// Repeated insertion between the same neighbors halves the gap each
	// time; numeric(65,30) storage runs out of fractional digits
	// eventually, so lists are rebalanced well before that.
	MinGap = decimal.New(1, -9)
)

// First returns the position for an item dropped at the head of a list.
// next is the current first item's position, or nil for an empty list.
func First(next *decimal.Decimal) decimal.Decimal {
	if next == nil {
		return decimal.NewFromInt(-1)
	}
	return next.Floor().Sub(decimal.NewFromInt(1))
}

// Last returns the position for an item dropped at the tail of a list.
// prev is the current last item's position, or nil for an empty list.
func Last(prev *decimal.Decimal) decimal.Decimal {
	if prev == nil {
		return decimal.NewFromInt(1)
	}
	return prev.Ceil().Add(decimal.NewFromInt(1))
}

// Between returns a position strictly between prev and next. When at least
// two whole numbers fit in the gap the result is kept whole, preserving room
// for future inserts; otherwise it is the exact arithmetic mean, which may be
// fractional.
func Between(prev, next decimal.Decimal) decimal.Decimal {
	mid := prev.Add(next).Div(two)
	gap := next.Floor().Sub(prev.Ceil())
	if gap.GreaterThanOrEqual(two) {
		return mid.Floor()
	}
	return mid
}

// Compute dispatches on which neighbors exist at the drop index.
func Compute(prev, next *decimal.Decimal) decimal.Decimal {
	switch {
	case prev == nil:
		return First(next)
	case next == nil:
		return Last(prev)
	default:
		return Between(*prev, *next)
	}
}

// NeedsRebalance reports whether any adjacent pair in an ascending position
// list is closer than MinGap.
func NeedsRebalance(positions []decimal.Decimal) bool {
	for i := 1; i < len(positions); i++ {
		if positions[i].Sub(positions[i-1]).LessThan(MinGap) {
			return true
		}
	}
	return false
}

// Renumber returns fresh positions for a list of n items: Step, 2*Step, ...
// Relative order is preserved when the new keys are applied in current
// position order.
func Renumber(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	pos := decimal.Zero
	for i := range out {
		pos = pos.Add(Step)
		out[i] = pos
	}
	return out
}
