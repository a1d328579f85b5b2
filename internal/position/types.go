// Package position is the sole mutator of cash balance, open positions,
// trade history, and cooldown state. Nothing outside this package writes
// to any of it; strategies and the risk gate only ever read a Cooldowns
// snapshot handed back to them.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// FlashMeta carries the entry-time context flash-sniper needs for its own
// exit rules, captured once at Open and never touched again.
type FlashMeta struct {
	RecoveryTarget    decimal.Decimal
	PreCrashPrice     decimal.Decimal
	UnderlyingAtEntry decimal.Decimal
}

// Position is one open contract position.
type Position struct {
	ID               int
	Ticker           string
	MarketClass      strategy.MarketClass
	Side             strategy.Side
	StrategyTag      strategy.StrategyTag
	Size             int
	EntryPrice       decimal.Decimal
	TheoreticalEntry decimal.Decimal
	SlippageEntry    decimal.Decimal
	SizingMethod     strategy.SizingMethod
	OpenedAt         time.Time

	MaxFavorablePrice decimal.Decimal
	TrailingArmed     bool

	Flash *FlashMeta
}

// ClosedTrade is a Position after it has been closed, with exit fields
// appended. Stored both in the session trade tail and per-strategy history.
type ClosedTrade struct {
	Position

	ExitPrice          decimal.Decimal
	TheoreticalExit    decimal.Decimal
	SlippageExit       decimal.Decimal
	PnL                decimal.Decimal
	ClosedAt           time.Time
	ExitReason         strategy.ExitReason
	SettlementEstimate *decimal.Decimal
	// ExitFill is the simulated exit fill when the close walked live depth;
	// nil for settlement closes, which price at fair value instead.
	ExitFill *fill.Result
}

// Won reports whether the trade closed with positive PnL.
func (c ClosedTrade) Won() bool { return c.PnL.IsPositive() }

// Stats is the session-wide win/loss tally.
type Stats struct {
	Wins            int
	Losses          int
	Total           int
	ConsecutiveWins int
}

// StrategyStats is the per-strategy Kelly input: win/loss counts and dollar
// totals, used by Sizer once a strategy has closed enough trades.
type StrategyStats struct {
	Wins            int
	Losses          int
	TotalWinAmount  decimal.Decimal
	TotalLossAmount decimal.Decimal // stored as a negative or zero sum
	TradeCount      int
}

// CLVSample records a closing-line-value observation: how much better or
// worse our entry was versus the settlement estimate.
type CLVSample struct {
	StrategyTag strategy.StrategyTag
	Side        strategy.Side
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Settlement  decimal.Decimal
	CLV         decimal.Decimal
	PnL         decimal.Decimal
	ClosedAt    time.Time
}
