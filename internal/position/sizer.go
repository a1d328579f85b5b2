package position

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// Sizer computes trade size: a fixed base size until a strategy has closed
// at least warmupTrades trades, then half-Kelly clamped to [5, 50], halved
// again (floored at 5) for the ETH short-window class.
type Sizer struct {
	base         int
	warmupTrades int
}

// NewSizer returns a Sizer using base as both the fixed pre-warmup size and
// the floor Kelly falls back to when average win/loss data is unusable.
func NewSizer(base int) *Sizer {
	if base <= 0 {
		base = 10
	}
	return &Sizer{base: base, warmupTrades: 20}
}

// Size returns the contract count and the method used to reach it. For the
// ETH short-window class, the raw (unclamped) Kelly contract count is
// halved before the floor/ceiling clamp is applied: halve first, then
// floor at 5.
func (s *Sizer) Size(stats StrategyStats, class strategy.MarketClass) (int, strategy.SizingMethod) {
	raw, method := s.kellyRaw(stats)
	if method == strategy.SizingFixed {
		if class == strategy.ETHShort {
			size := raw / 2
			if size < 5 {
				size = 5
			}
			return size, method
		}
		return raw, method
	}

	if class == strategy.ETHShort {
		raw = raw / 2
	}
	return clampInt(raw, 5, 50), method
}

// kellyRaw returns the half-Kelly contract count with no clamp applied yet
// (or the fixed base size pre-warmup), plus the sizing method used.
func (s *Sizer) kellyRaw(stats StrategyStats) (int, strategy.SizingMethod) {
	if stats.TradeCount < s.warmupTrades {
		return s.base, strategy.SizingFixed
	}

	losses := stats.TradeCount - stats.Wins
	if stats.Wins == 0 || losses == 0 {
		return s.base, strategy.SizingFixed
	}

	winRate := float64(stats.Wins) / float64(stats.TradeCount)
	avgWin, _ := stats.TotalWinAmount.Div(decimal.NewFromInt(int64(stats.Wins))).Float64()
	totalLoss := stats.TotalLossAmount.Abs()
	avgLoss, _ := totalLoss.Div(decimal.NewFromInt(int64(losses))).Float64()
	if avgLoss <= 0 || avgWin <= 0 {
		return s.base, strategy.SizingFixed
	}

	b := avgWin / avgLoss
	kelly := (winRate - (1-winRate)/b) / 2 // half-Kelly
	return int(math.Round(kelly * 100)), strategy.SizingKelly
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
