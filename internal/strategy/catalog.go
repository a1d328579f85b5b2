package strategy

import (
	"math"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// Strategy is one entry in the priority-ordered catalog. Evaluate returns
// an intent candidate and whether it fired at all; the caller still runs
// the result through the risk gate unless the strategy is in the exempt
// set (flash, settlement rush).
type Strategy interface {
	Tag() StrategyTag
	Evaluate(snap Snapshot) (Intent, bool)
}

// Catalog returns the full strategy list in strict priority order. The
// post-transition lockout isn't a strategy itself; callers apply it before
// consulting the catalog at all (see internal/engine).
func Catalog() []Strategy {
	return []Strategy{
		flashSniper{},
		crossVenueLead{},
		settlementRush{},
		steamFollow{},
		tickBurstFollow{},
		clusterFollow{},
		imbalance{},
		delayArb{},
	}
}

// --- 2. Flash sniper ---

type flashSniper struct{}

func (flashSniper) Tag() StrategyTag { return TagFlash }

func (flashSniper) Evaluate(s Snapshot) (Intent, bool) {
	if !s.FlashActive || s.HasFlashOpen || s.FlashCooldownActive {
		return Intent{}, false
	}
	// Flash bypasses the general gate, so the vol-regime and RSI filters it
	// is still subject to are applied here.
	if s.ATRPct != nil && *s.ATRPct >= 0.0025 {
		return Intent{}, false
	}
	if s.RSI != nil && (*s.RSI <= 20 || *s.RSI >= 80) {
		return Intent{}, false
	}
	if s.Momentum5s != nil && math.Abs(*s.Momentum5s) >= 0.3 {
		return Intent{}, false
	}
	ask := s.Focus.YesAsk
	askF, _ := ask.Float64()
	if askF < 0.10 || askF > 0.90 {
		return Intent{}, false
	}

	return Intent{
		Ticker:      s.Focus.Ticker,
		MarketClass: s.MarketClass,
		Side:        YES,
		LimitPrice:  ask,
		StrategyTag: TagFlash,
		Confidence:  1.0,
	}, true
}

// --- 3. Cross-venue lead ---

type crossVenueLead struct{}

func (crossVenueLead) Tag() StrategyTag { return TagCrossVenue }

func (crossVenueLead) Evaluate(s Snapshot) (Intent, bool) {
	if s.MarketClass.IsShortWindow() || s.TimeUntilClose <= 3600 {
		return Intent{}, false
	}
	dv := s.CrossVenue
	if dv == nil {
		return Intent{}, false
	}

	var side Side
	var price decimal.Decimal
	if dv.Side == YES {
		side = YES
		price = s.Focus.YesAsk
	} else if dv.Side == NO {
		side = NO
		price = s.Focus.NoAsk()
	} else {
		return Intent{}, false
	}

	return Intent{
		Ticker:      s.Focus.Ticker,
		MarketClass: s.MarketClass,
		Side:        side,
		LimitPrice:  price,
		StrategyTag: TagCrossVenue,
		Confidence:  dv.Confidence,
	}, true
}

// --- 4. Settlement rush ---

type settlementRush struct{}

func (settlementRush) Tag() StrategyTag { return TagSettlementRush }

var strikeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

func (settlementRush) Evaluate(s Snapshot) (Intent, bool) {
	threshold := 300.0
	if !s.MarketClass.IsShortWindow() {
		threshold = 3600.0
	}
	if s.TimeUntilClose > threshold {
		return Intent{}, false
	}

	strike := StrikeOf(s.Focus)
	if strike <= 0 {
		return Intent{}, false
	}

	if s.Focus.Spread() >= 0.05 {
		return Intent{}, false
	}

	p := clamp(0.5+25*(s.UnderlyingPrice-strike)/strike, 0.1, 0.9)

	if s.UnderlyingPrice > strike && p > 0.6 {
		return Intent{
			Ticker:      s.Focus.Ticker,
			MarketClass: s.MarketClass,
			Side:        YES,
			LimitPrice:  s.Focus.YesAsk,
			StrategyTag: TagSettlementRush,
			Confidence:  p,
		}, true
	}
	if s.UnderlyingPrice < strike && (1-p) > 0.6 {
		return Intent{
			Ticker:      s.Focus.Ticker,
			MarketClass: s.MarketClass,
			Side:        NO,
			LimitPrice:  s.Focus.NoAsk(),
			StrategyTag: TagSettlementRush,
			Confidence:  1 - p,
		}, true
	}
	return Intent{}, false
}

// StrikeOf returns the strike for a focus contract: the venue-reported one
// when the poller resolved it (cap/floor strike or rules text), otherwise
// parsed out of the ticker string. Used by the settlement-rush strategy,
// cross-venue divergence detection, and transition settlement alike.
func StrikeOf(b BookTop) float64 {
	if b.Strike > 0 {
		return b.Strike
	}
	return parseStrike(b.Ticker)
}

// parseStrike extracts the strike price encoded in a Kalshi ticker string,
// e.g. "KXBTC15M-25JUL3112-B95250" -> 95250. Falls back to 0 when no numeric
// suffix is present.
func parseStrike(ticker string) float64 {
	matches := strikeRe.FindAllString(ticker, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	f, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0
	}
	return f
}

// --- 5. Steam follow ---

type steamFollow struct{}

func (steamFollow) Tag() StrategyTag { return TagSteam }

func (steamFollow) Evaluate(s Snapshot) (Intent, bool) {
	threshold := 300.0
	if !s.MarketClass.IsShortWindow() {
		threshold = 3600.0
	}
	if s.TimeUntilClose <= threshold {
		return Intent{}, false // inside settlement window, settlement rush owns it
	}
	if !s.SteamActive {
		return Intent{}, false
	}

	if s.Momentum5m != nil {
		m := *s.Momentum5m
		if math.Abs(m) > 0.05 {
			wantPositive := s.SteamDirection == YES
			if (m > 0) != wantPositive {
				return Intent{}, false // counter-trend, reject
			}
		}
	}

	price := s.Focus.AskFor(s.SteamDirection)
	return Intent{
		Ticker:      s.Focus.Ticker,
		MarketClass: s.MarketClass,
		Side:        s.SteamDirection,
		LimitPrice:  price,
		StrategyTag: TagSteam,
		Confidence:  1.0,
	}, true
}

// --- 6. Tick-burst follow ---

type tickBurstFollow struct{}

func (tickBurstFollow) Tag() StrategyTag { return TagTickBurst }

func (tickBurstFollow) Evaluate(s Snapshot) (Intent, bool) {
	if !s.TickBurstActive || s.TickBurstLength < 4 || math.Abs(s.TickBurstCumPct) <= 0.10 {
		return Intent{}, false
	}
	price := s.Focus.AskFor(s.TickBurstDirection)
	return Intent{
		Ticker:      s.Focus.Ticker,
		MarketClass: s.MarketClass,
		Side:        s.TickBurstDirection,
		LimitPrice:  price,
		StrategyTag: TagTickBurst,
		Confidence:  1.0,
	}, true
}

// --- 7. Cross-exchange cluster follow ---

type clusterFollow struct{}

func (clusterFollow) Tag() StrategyTag { return TagCluster }

func (clusterFollow) Evaluate(s Snapshot) (Intent, bool) {
	if !s.ClusterHasSignal || s.ClusterAgreeCount < 3 || s.ClusterAvgMagPct <= 0.08 {
		return Intent{}, false
	}
	// Skip to avoid doubling with delay-arb: if delay-arb would also fire
	// (same momentum-driven condition), let delay-arb own it.
	if s.Momentum1m != nil && math.Abs(*s.Momentum1m) > 0.20 {
		return Intent{}, false
	}
	price := s.Focus.AskFor(s.ClusterDirection)
	return Intent{
		Ticker:      s.Focus.Ticker,
		MarketClass: s.MarketClass,
		Side:        s.ClusterDirection,
		LimitPrice:  price,
		StrategyTag: TagCluster,
		Confidence:  1.0,
	}, true
}

// --- 8. Order-book imbalance ---

type imbalance struct{}

func (imbalance) Tag() StrategyTag { return TagImbalance }

func (imbalance) Evaluate(s Snapshot) (Intent, bool) {
	if s.DepthFetcher == nil {
		return Intent{}, false
	}
	bidVol, askVol, total, ok := s.DepthFetcher()
	if !ok || total <= 100 {
		return Intent{}, false
	}
	score := (bidVol - askVol) / (bidVol + askVol)
	if score > 0.3 {
		return Intent{
			Ticker:      s.Focus.Ticker,
			MarketClass: s.MarketClass,
			Side:        YES,
			LimitPrice:  s.Focus.YesAsk,
			StrategyTag: TagImbalance,
			Confidence:  1.0,
		}, true
	}
	if score < -0.3 {
		return Intent{
			Ticker:      s.Focus.Ticker,
			MarketClass: s.MarketClass,
			Side:        NO,
			LimitPrice:  s.Focus.NoAsk(),
			StrategyTag: TagImbalance,
			Confidence:  1.0,
		}, true
	}
	return Intent{}, false
}

// --- 9. Delay arbitrage ---

type delayArb struct{}

func (delayArb) Tag() StrategyTag { return TagDelayArb }

func (delayArb) Evaluate(s Snapshot) (Intent, bool) {
	if s.Momentum1m == nil || s.PrevFocusBid == nil || *s.PrevFocusBid == 0 {
		return Intent{}, false
	}
	m := *s.Momentum1m
	if math.Abs(m) <= 0.20 {
		return Intent{}, false
	}

	currentBid, _ := s.Focus.YesBid.Float64()
	deltaRatio := math.Abs(currentBid-*s.PrevFocusBid) / *s.PrevFocusBid
	if deltaRatio >= 0.05 {
		return Intent{}, false
	}

	side := NO
	if m > 0 {
		side = YES
	}
	return Intent{
		Ticker:      s.Focus.Ticker,
		MarketClass: s.MarketClass,
		Side:        side,
		LimitPrice:  s.Focus.AskFor(side),
		StrategyTag: TagDelayArb,
		Confidence:  1.0,
	}, true
}

// IsFollowStrategy reports whether tag belongs to the set subjected to the
// risk gate's RSI follow-filter.
func IsFollowStrategy(tag StrategyTag) bool {
	switch tag {
	case TagSteam, TagTickBurst, TagCluster, TagImbalance, TagDelayArb:
		return true
	default:
		return false
	}
}

// IsSentimentSensitive reports whether tag is subject to the long/short
// ratio gate.
func IsSentimentSensitive(tag StrategyTag) bool {
	switch tag {
	case TagSteam, TagTickBurst, TagCluster, TagDelayArb:
		return true
	default:
		return false
	}
}
