// Package strategy holds the strategy catalog, the risk gate, and the
// shared vocabulary (sides, market classes, strategy tags) that the rest
// of the engine is built around.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome side of a binary contract.
type Side string

const (
	YES Side = "yes"
	NO  Side = "no"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == YES {
		return NO
	}
	return YES
}

// MarketClass identifies a series of contracts that share one "focus"
// ticker at a time. The four built-in classes cover BTC/ETH short-window
// and daily contracts; Asset, IsShortWindow and IsETH recognise only these
// four.
type MarketClass string

const (
	BTCShort MarketClass = "btc_short"
	BTCDaily MarketClass = "btc_daily"
	ETHShort MarketClass = "eth_short"
	ETHDaily MarketClass = "eth_daily"
)

// Asset returns the underlying asset symbol for a market class.
func (m MarketClass) Asset() string {
	switch m {
	case BTCShort, BTCDaily:
		return "BTC"
	case ETHShort, ETHDaily:
		return "ETH"
	default:
		return ""
	}
}

// IsShortWindow reports whether the class is a short-window (e.g. 15m)
// series as opposed to a daily series.
func (m MarketClass) IsShortWindow() bool {
	return m == BTCShort || m == ETHShort
}

// IsETH reports whether the class trades the ETH underlying; used by the
// risk gate's tighter ETH spread cap and the steam default stop.
func (m MarketClass) IsETH() bool {
	return m == ETHShort || m == ETHDaily
}

// StrategyTag names one entry in the strategy catalog. Used for per-strategy
// statistics, position keys, and cooldown/size overrides.
type StrategyTag string

const (
	TagFlash          StrategyTag = "flash"
	TagCrossVenue     StrategyTag = "cross_venue"
	TagSettlementRush StrategyTag = "settlement_rush"
	TagSteam          StrategyTag = "steam"
	TagTickBurst      StrategyTag = "tick_burst"
	TagCluster        StrategyTag = "cluster"
	TagImbalance      StrategyTag = "imbalance"
	TagDelayArb       StrategyTag = "delay_arb"
)

// ExitReason records why the position manager closed a position.
type ExitReason string

const (
	ExitTrailingStop     ExitReason = "trailing_stop"
	ExitHardStop         ExitReason = "hard_stop"
	ExitTimeout          ExitReason = "timeout"
	ExitTarget           ExitReason = "target"
	ExitTransitionSettle ExitReason = "transition_settlement"
	ExitFlashRecovery    ExitReason = "flash_recovery"
	ExitFlashDrop        ExitReason = "flash_drop"
	ExitFlashAdverseMove ExitReason = "flash_adverse_move"
	ExitFinalSettlement  ExitReason = "final_settlement"
)

// SizingMethod records how a position's size was determined.
type SizingMethod string

const (
	SizingFixed SizingMethod = "fixed"
	SizingKelly SizingMethod = "kelly"
)

// RejectReason is a stable tag logged whenever the risk gate or a strategy
// declines to enter. Stable across releases so logs/dashboards built on top
// of them don't break.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectWarmup          RejectReason = "WARMUP"
	RejectTimeToClose     RejectReason = "TIME_TO_CLOSE"
	RejectOpenCloseWindow RejectReason = "OPEN_CLOSE_WINDOW"
	RejectMidPrice        RejectReason = "MID_PRICE"
	RejectSpread          RejectReason = "SPREAD"
	RejectVolume          RejectReason = "VOLUME"
	RejectVolRegime       RejectReason = "VOL_REGIME"
	RejectRSIFilter       RejectReason = "RSI_FILTER"
	RejectLSRatio         RejectReason = "LS_RATIO"
	RejectCooldownWin     RejectReason = "COOLDOWN_WIN"
	RejectCooldownLoss    RejectReason = "COOLDOWN_LOSS"
	RejectCooldownBreaker RejectReason = "COOLDOWN_BREAKER"
	RejectCooldownGlobal  RejectReason = "COOLDOWN_GLOBAL"
	RejectMTFConfirm      RejectReason = "MTF_CONFIRM"
	RejectNoData          RejectReason = "NO_DATA"
	RejectPostTransition  RejectReason = "POST_TRANSITION"
)

// Trend is the EMA-fast-vs-slow relationship reported by the indicator
// engine.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendNeutral Trend = "neutral"
	TrendBearish Trend = "bearish"
)

// Intent is an entry candidate produced by one strategy. Confidence is the
// divergence confidence for cross-venue lead, the settlement probability for
// settlement rush, and 1.0 for the other strategies. Position sizing does
// not read it; partial MTF agreement halves size through the risk gate's
// size scale instead.
type Intent struct {
	Ticker      string
	MarketClass MarketClass
	Side        Side
	LimitPrice  decimal.Decimal // fraction in [0,1]
	StrategyTag StrategyTag
	Confidence  float64
}

// BookTop is the minimal view every strategy and the risk gate need of the
// focus contract, independent of which transport (real-time stream or REST
// fallback) produced it; consumers never branch on transport.
type BookTop struct {
	Ticker           string
	YesBid           decimal.Decimal
	YesAsk           decimal.Decimal
	VolumeCumulative int
	CloseTime        time.Time
	SeriesTag        string
	Strike           float64 // 0 when the venue reported none
	CapturedAt       time.Time
}

// NoBid and NoAsk mirror the book top into the NO side's frame.
func (b BookTop) NoBid() decimal.Decimal { return decimal.NewFromInt(1).Sub(b.YesAsk) }
func (b BookTop) NoAsk() decimal.Decimal { return decimal.NewFromInt(1).Sub(b.YesBid) }

// Mid returns the mid price as a float64 fraction.
func (b BookTop) Mid() float64 {
	mid := b.YesBid.Add(b.YesAsk).Div(decimal.NewFromInt(2))
	f, _ := mid.Float64()
	return f
}

// Spread returns yes_ask - yes_bid as a float64 fraction.
func (b BookTop) Spread() float64 {
	f, _ := b.YesAsk.Sub(b.YesBid).Float64()
	return f
}

// DepthLevel is one order-book price level, priced in the frame of the side
// it belongs to.
type DepthLevel struct {
	Price decimal.Decimal // fraction in [0,1]
	Size  int
}

// Depth is an order-book snapshot: YES levels are YES bids and NO levels are
// NO bids, each in its own side's frame. Levels keep the order of the source
// they were converted from; the fill simulator sorts them itself.
type Depth struct {
	YesLevels []DepthLevel
	NoLevels  []DepthLevel
	FetchedAt time.Time
}

// AskFor returns the ask price a buyer of side would pay.
func (b BookTop) AskFor(side Side) decimal.Decimal {
	if side == YES {
		return b.YesAsk
	}
	return b.NoAsk()
}

// BidFor returns the current mark-to-market price for a holder of side,
// i.e. what they could currently sell at.
func (b BookTop) BidFor(side Side) decimal.Decimal {
	if side == YES {
		return b.YesBid
	}
	return b.NoBid()
}
