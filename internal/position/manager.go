package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

const tradeTailCap = 50

// cooldownState tracks per-market cooldown inputs for the risk gate.
type cooldownState struct {
	lastExit   time.Time
	lastWasWin bool
	lossStreak int
}

// ExitPricer turns a quoted mark into the post-slippage price an exit of
// size contracts would actually achieve by walking live depth, plus the
// fill detail for the journal. The quote itself is the fallback when no
// depth is available.
type ExitPricer func(ticker string, side strategy.Side, size int, quote decimal.Decimal) (decimal.Decimal, fill.Result)

// TickInput is everything Manager.Tick needs to evaluate every open
// position in one market class for one 1Hz tick.
type TickInput struct {
	Top              strategy.BookTop
	Now              time.Time
	ATRPercent       *float64 // nil if unavailable; triggers the ATR-based stop
	HighVolRegime    bool
	RecentVolatility float64         // fallback scale when ATRPercent is nil
	Underlying       decimal.Decimal // current spot price of the class's asset
	PriceExit        ExitPricer      // nil means close at the quoted mark
}

// Manager is the sole mutator of cash, open positions, trade history, and
// cooldown state. Every other package only ever reads a snapshot it
// returns.
type Manager struct {
	mu sync.Mutex

	cash  decimal.Decimal
	sizer *Sizer

	nextID    int
	positions []*Position

	trades []ClosedTrade
	stats  Stats

	strategyStats  map[strategy.StrategyTag]*StrategyStats
	cooldowns      map[strategy.MarketClass]*cooldownState
	lastExitGlobal time.Time

	clv []CLVSample
}

// NewManager returns a Manager seeded with startingCash and a Sizer built
// from baseTradeSize.
func NewManager(startingCash decimal.Decimal, baseTradeSize int) *Manager {
	return &Manager{
		cash:          startingCash,
		sizer:         NewSizer(baseTradeSize),
		strategyStats: make(map[strategy.StrategyTag]*StrategyStats),
		cooldowns:     make(map[strategy.MarketClass]*cooldownState),
	}
}

// Cash returns the current cash balance.
func (m *Manager) Cash() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cash
}

// Stats returns a copy of the session-wide win/loss tally.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Trades returns a copy of the trade history tail (most recent tradeTailCap).
func (m *Manager) Trades() []ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClosedTrade, len(m.trades))
	copy(out, m.trades)
	return out
}

// OpenPositions returns every currently open position across all classes.
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, len(m.positions))
	for i, p := range m.positions {
		out[i] = *p
	}
	return out
}

// CLVSamples returns a copy of the recorded CLV samples.
func (m *Manager) CLVSamples() []CLVSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CLVSample, len(m.clv))
	copy(out, m.clv)
	return out
}

// Cooldowns builds the snapshot the risk gate needs. Safe to call on every
// tick before consulting the strategy catalog.
func (m *Manager) Cooldowns() strategy.Cooldowns {
	m.mu.Lock()
	defer m.mu.Unlock()

	byMarket := make(map[strategy.MarketClass]time.Time, len(m.cooldowns))
	lastWin := make(map[strategy.MarketClass]bool, len(m.cooldowns))
	streak := make(map[strategy.MarketClass]int, len(m.cooldowns))
	for class, st := range m.cooldowns {
		byMarket[class] = st.lastExit
		lastWin[class] = st.lastWasWin
		streak[class] = st.lossStreak
	}

	return strategy.Cooldowns{
		LastExitGlobal:   m.lastExitGlobal,
		LastExitByMarket: byMarket,
		LastWinByMarket:  lastWin,
		LossStreak:       streak,
	}
}

// StrategyStatsFor returns a copy of the Kelly input tallied so far for tag,
// zero-valued if the strategy has never closed a trade. Read-only: the
// engine uses this to preview a size before running the fill simulation that
// Open's actualEntry argument depends on.
func (m *Manager) StrategyStatsFor(tag strategy.StrategyTag) StrategyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.strategyStats[tag]; st != nil {
		return *st
	}
	return StrategyStats{}
}

// SizeFor previews the contract count Open would charge for a new position
// of tag in class, without mutating any state. The engine calls this before
// walking order-book depth, since the fill simulator needs a desired size.
func (m *Manager) SizeFor(tag strategy.StrategyTag, class strategy.MarketClass) (int, strategy.SizingMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.strategyStats[tag]
	if st == nil {
		st = &StrategyStats{}
	}
	return m.sizer.Size(*st, class)
}

// Open debits cash for a new position and records it as open. size and
// method come from a prior SizeFor call, possibly scaled down by the
// caller (partial MTF confirmation, per-strategy size multipliers) before
// the fill was simulated, so the size charged always matches the size
// filled. actualEntry is the post-fill-simulation price (or the quote
// itself when no depth was available); theoreticalEntry is the pre-fill
// quoted price, used only to compute entry slippage.
func (m *Manager) Open(intent strategy.Intent, size int, method strategy.SizingMethod, actualEntry, theoreticalEntry decimal.Decimal, flash *FlashMeta, now time.Time) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size <= 0 {
		return nil, fmt.Errorf("invalid size %d", size)
	}

	cost := actualEntry.Mul(decimal.NewFromInt(int64(size)))
	if cost.GreaterThan(m.cash) {
		return nil, fmt.Errorf("insufficient cash: need %s, have %s", cost, m.cash)
	}

	m.nextID++
	pos := &Position{
		ID:                m.nextID,
		Ticker:            intent.Ticker,
		MarketClass:       intent.MarketClass,
		Side:              intent.Side,
		StrategyTag:       intent.StrategyTag,
		Size:              size,
		EntryPrice:        actualEntry,
		TheoreticalEntry:  theoreticalEntry,
		SlippageEntry:     actualEntry.Sub(theoreticalEntry),
		SizingMethod:      method,
		OpenedAt:          now,
		MaxFavorablePrice: actualEntry,
		Flash:             flash,
	}
	m.positions = append(m.positions, pos)
	m.cash = m.cash.Sub(cost)
	return pos, nil
}

// Tick evaluates every open position in class against the current focus
// book and closes whichever ones meet an exit condition, returning the
// resulting closed trades.
func (m *Manager) Tick(class strategy.MarketClass, in TickInput) []ClosedTrade {
	m.mu.Lock()
	var open []*Position
	for _, p := range m.positions {
		if p.MarketClass == class && p.Ticker == in.Top.Ticker {
			open = append(open, p)
		}
	}
	m.mu.Unlock()

	var closed []ClosedTrade
	for _, p := range open {
		current := in.Top.BidFor(p.Side)
		if reason, shouldClose := m.evaluateExit(p, current, in); shouldClose {
			exit := current
			var fr *fill.Result
			if in.PriceExit != nil {
				px, r := in.PriceExit(p.Ticker, p.Side, p.Size, current)
				exit = px
				fr = &r
			}
			settlement := in.Top.YesBid
			if ct, err := m.close(p.ID, exit, current, reason, &settlement, fr, in.Now); err == nil {
				closed = append(closed, *ct)
			}
		}
	}
	return closed
}

// evaluateExit picks flash-sniper's own exit set, or the standard
// trailing-stop/hard-stop/timeout set for everyone else. current is the
// position's mark-to-market price in its own side's frame (yes_bid for
// YES, 1-yes_ask for NO).
func (m *Manager) evaluateExit(p *Position, current decimal.Decimal, in TickInput) (strategy.ExitReason, bool) {
	holdTime := in.Now.Sub(p.OpenedAt)

	if p.Flash != nil {
		return m.evaluateFlashExit(p, current, holdTime, in)
	}

	m.mu.Lock()
	if current.GreaterThan(p.MaxFavorablePrice) {
		p.MaxFavorablePrice = current
	}
	peak := p.MaxFavorablePrice
	m.mu.Unlock()

	profit, _ := current.Sub(p.EntryPrice).Float64()
	maxProfit, _ := peak.Sub(p.EntryPrice).Float64()

	trailThreshold, trailDistance := 0.03, 0.03
	if p.StrategyTag == strategy.TagSteam {
		trailThreshold, trailDistance = 0.05, 0.04
	}
	if maxProfit >= trailThreshold {
		pullback := maxProfit - profit
		if pullback >= trailDistance {
			return strategy.ExitTrailingStop, true
		}
	}

	stopDollar := strategy.AdaptiveStop(in.ATRPercent, in.HighVolRegime, in.RecentVolatility, defaultStopFor(p.StrategyTag, p.MarketClass))
	loss := -profit
	if loss >= stopDollar {
		return strategy.ExitHardStop, true
	}

	timeout := 180 * time.Second
	if p.StrategyTag == strategy.TagSettlementRush {
		timeout = 60 * time.Second
	}
	if holdTime > timeout {
		return strategy.ExitTimeout, true
	}

	return strategy.ExitReason(""), false
}

// defaultStopFor is the fixed-stop fallback table used when ATR is
// unavailable: wider for steam (it needs room to survive noise), tighter
// for settlement-rush (expected to resolve fast).
func defaultStopFor(tag strategy.StrategyTag, class strategy.MarketClass) float64 {
	switch tag {
	case strategy.TagSteam:
		if class.IsETH() {
			return 0.12
		}
		return 0.15
	case strategy.TagSettlementRush:
		return 0.05
	default:
		return 0.08
	}
}

func (m *Manager) evaluateFlashExit(p *Position, current decimal.Decimal, holdTime time.Duration, in TickInput) (strategy.ExitReason, bool) {
	f := p.Flash
	if current.GreaterThanOrEqual(f.RecoveryTarget) {
		return strategy.ExitFlashRecovery, true
	}

	entryDrop := p.EntryPrice.Mul(decimal.NewFromFloat(0.10))
	if p.EntryPrice.Sub(current).GreaterThanOrEqual(entryDrop) {
		return strategy.ExitFlashDrop, true
	}

	if !f.UnderlyingAtEntry.IsZero() && !in.Underlying.IsZero() {
		move, _ := in.Underlying.Sub(f.UnderlyingAtEntry).Div(f.UnderlyingAtEntry).Float64()
		if move < -0.005 {
			return strategy.ExitFlashAdverseMove, true
		}
	}

	if holdTime > 120*time.Second {
		return strategy.ExitTimeout, true
	}

	return strategy.ExitReason(""), false
}

// SettleOnTransition closes every open position in class when its focus
// ticker changes, tagged as a transition settlement. fairValue is the
// outgoing contract's estimated settlement value in the YES frame (the
// engine's best estimate: settled result, last trade, cross-venue price or
// book mid); NO positions settle at its complement so the
// exit lands in each position's own side frame.
func (m *Manager) SettleOnTransition(class strategy.MarketClass, fairValue decimal.Decimal, now time.Time) []ClosedTrade {
	type target struct {
		id   int
		side strategy.Side
	}
	m.mu.Lock()
	var targets []target
	for _, p := range m.positions {
		if p.MarketClass == class {
			targets = append(targets, target{id: p.ID, side: p.Side})
		}
	}
	m.mu.Unlock()

	var closed []ClosedTrade
	for _, t := range targets {
		exit := fairValue
		if t.side == strategy.NO {
			exit = decimal.NewFromInt(1).Sub(fairValue)
		}
		if ct, err := m.close(t.id, exit, exit, strategy.ExitTransitionSettle, &fairValue, nil, now); err == nil {
			closed = append(closed, *ct)
		}
	}
	return closed
}

// close removes the open position with id, credits cash, and updates
// every piece of state this package owns: session/strategy stats,
// cooldowns, and (when settlement is known) a CLV sample. It is the only
// path by which a position stops being open. theoreticalExit is the
// pre-fill quoted price; exitPrice is what actually filled.
func (m *Manager) close(id int, exitPrice, theoreticalExit decimal.Decimal, reason strategy.ExitReason, settlement *decimal.Decimal, exitFill *fill.Result, now time.Time) (*ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, p := range m.positions {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("position %d not open", id)
	}

	p := m.positions[idx]
	m.positions = append(m.positions[:idx], m.positions[idx+1:]...)

	pnl := exitPrice.Sub(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Size)))
	proceeds := exitPrice.Mul(decimal.NewFromInt(int64(p.Size)))
	m.cash = m.cash.Add(proceeds)

	ct := ClosedTrade{
		Position:        *p,
		ExitPrice:       exitPrice,
		TheoreticalExit: theoreticalExit,
		SlippageExit:    exitPrice.Sub(theoreticalExit),
		PnL:             pnl,
		ClosedAt:        now,
		ExitReason:      reason,
		ExitFill:        exitFill,
	}
	if settlement != nil {
		ct.SettlementEstimate = settlement
	}

	m.trades = append(m.trades, ct)
	if len(m.trades) > tradeTailCap {
		m.trades = m.trades[len(m.trades)-tradeTailCap:]
	}

	m.stats.Total++
	won := ct.Won()
	if won {
		m.stats.Wins++
		m.stats.ConsecutiveWins++
	} else {
		m.stats.Losses++
		m.stats.ConsecutiveWins = 0
	}

	st := m.strategyStats[p.StrategyTag]
	if st == nil {
		st = &StrategyStats{}
		m.strategyStats[p.StrategyTag] = st
	}
	st.TradeCount++
	if won {
		st.Wins++
		st.TotalWinAmount = st.TotalWinAmount.Add(pnl)
	} else {
		st.Losses++
		st.TotalLossAmount = st.TotalLossAmount.Add(pnl)
	}

	cd := m.cooldowns[p.MarketClass]
	if cd == nil {
		cd = &cooldownState{}
		m.cooldowns[p.MarketClass] = cd
	}
	cd.lastExit = now
	cd.lastWasWin = won
	if won {
		cd.lossStreak = 0
	} else {
		cd.lossStreak++
	}
	m.lastExitGlobal = now

	if settlement != nil {
		clv := settlement.Sub(p.EntryPrice)
		if p.Side == strategy.NO {
			clv = decimal.NewFromInt(1).Sub(*settlement).Sub(p.EntryPrice)
		}
		m.clv = append(m.clv, CLVSample{
			StrategyTag: p.StrategyTag,
			Side:        p.Side,
			EntryPrice:  p.EntryPrice,
			ExitPrice:   exitPrice,
			Settlement:  *settlement,
			CLV:         clv,
			PnL:         pnl,
			ClosedAt:    now,
		})
	}

	return &ct, nil
}

// Close closes an open position directly at the given exit price, outside
// the normal Tick exit-rule evaluation.
func (m *Manager) Close(id int, exitPrice, theoreticalExit decimal.Decimal, reason strategy.ExitReason, settlement *decimal.Decimal, now time.Time) (*ClosedTrade, error) {
	return m.close(id, exitPrice, theoreticalExit, reason, settlement, nil, now)
}
