// Package money centralizes the fixed-precision decimal arithmetic used for
// prices, costs, and realized P&L throughout the engine. Kalshi quotes
// contract prices as integer cents; everywhere else in the engine a price is
// a fraction in [0,1]. Both representations round-trip through here so
// thousands of adds/subtracts across a session never drift the way repeated
// float64 arithmetic would.
package money

import (
	"github.com/shopspring/decimal"
)

// Hundred is used throughout for cents<->fraction conversion.
var Hundred = decimal.NewFromInt(100)

// FromCents converts an integer-cent price (Kalshi's wire format) to a
// fraction in [0,1].
func FromCents(cents int) decimal.Decimal {
	return decimal.NewFromInt(int64(cents)).Div(Hundred)
}

// ToCents converts a fraction in [0,1] back to integer cents, rounded to the
// nearest cent.
func ToCents(frac decimal.Decimal) int {
	return int(frac.Mul(Hundred).Round(0).IntPart())
}

// FromFloat wraps a float64 fraction (used by feeds that only ever produce
// float64, e.g. underlying spot prices) into a decimal.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// PnL computes (exit-entry)*size in the side's own frame of reference. Both
// YES and NO fills are normalized into "price paid for the side actually
// held" by the fill simulator before this ever runs, so this formula never
// branches on side — see internal/fill.
func PnL(entry, exit decimal.Decimal, size int) decimal.Decimal {
	return exit.Sub(entry).Mul(decimal.NewFromInt(int64(size)))
}

// Cost is the cash debited to open a position of size contracts at price.
func Cost(price decimal.Decimal, size int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(size)))
}
