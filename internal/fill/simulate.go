// Package fill simulates order fills: walking an order-book
// depth snapshot level by level to produce a VWAP fill with partial-fill
// semantics, rather than assuming the quoted price fills instantly at full
// size.
package fill

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// Level is one order-book price level.
type Level struct {
	Price decimal.Decimal // fraction in [0,1], already in the traded side's frame
	Size  int
}

// Result is the outcome of walking depth for a desired size.
type Result struct {
	VWAP         decimal.Decimal
	FilledSize   int
	LevelsWalked int
	Slippage     decimal.Decimal // vwap - quoteReference
	Partial      bool
}

// Simulate walks levels in the order given (EntryLevels and ExitLevels put
// the best price for the trader first), consuming size until desiredSize contracts
// are filled or the book is exhausted. quoteReference is the top-of-book
// price used to compute slippage.
func Simulate(levels []Level, desiredSize int, quoteReference decimal.Decimal) Result {
	if len(levels) == 0 || desiredSize <= 0 {
		return Result{VWAP: quoteReference, FilledSize: 0, Partial: desiredSize > 0}
	}

	remaining := desiredSize
	var totalCost decimal.Decimal
	var filled int
	var walked int

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		totalCost = totalCost.Add(lvl.Price.Mul(decimal.NewFromInt(int64(take))))
		filled += take
		remaining -= take
		walked++
	}

	if filled == 0 {
		return Result{VWAP: quoteReference, FilledSize: 0, Partial: true}
	}

	vwap := totalCost.Div(decimal.NewFromInt(int64(filled)))
	return Result{
		VWAP:         vwap,
		FilledSize:   filled,
		LevelsWalked: walked,
		Slippage:     vwap.Sub(quoteReference),
		Partial:      remaining > 0,
	}
}

// EntryLevels builds the level list for a buy of side, oriented best-price
// first (ascending): buying YES walks the NO-side levels (which are YES
// asks once mirrored to 1-price); buying NO walks the YES-side levels
// (mirrored the same way). Levels are re-sorted here rather than assumed
// pre-sorted, since mirroring a price reverses whatever order the source
// side was originally held in.
func EntryLevels(depth strategy.Depth, side strategy.Side) []Level {
	var source []strategy.DepthLevel
	if side == strategy.YES {
		source = depth.NoLevels
	} else {
		source = depth.YesLevels
	}

	out := make([]Level, 0, len(source))
	for _, l := range source {
		out = append(out, Level{Price: decimal.NewFromInt(1).Sub(l.Price), Size: l.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// ExitLevels builds the level list for selling an open side position,
// oriented best-price first (descending, since a seller wants the highest
// bid): a YES holder sells into the YES-bid levels and a NO holder into the
// NO-bid levels, both taken directly since each side's bids are already
// priced in that side's own frame.
func ExitLevels(depth strategy.Depth, side strategy.Side) []Level {
	var out []Level
	if side == strategy.YES {
		out = make([]Level, 0, len(depth.YesLevels))
		for _, l := range depth.YesLevels {
			out = append(out, Level{Price: l.Price, Size: l.Size})
		}
	} else {
		out = make([]Level, 0, len(depth.NoLevels))
		for _, l := range depth.NoLevels {
			out = append(out, Level{Price: l.Price, Size: l.Size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}
