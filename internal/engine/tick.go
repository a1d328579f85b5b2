package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/journal"
	"github.com/sdibella/kalshi-btc-engine/internal/kalshi"
	"github.com/sdibella/kalshi-btc-engine/internal/money"
	"github.com/sdibella/kalshi-btc-engine/internal/position"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// allStrategyTags lists every catalog tag, used to build the checkpoint's
// per-strategy stats map without reaching into the catalog itself.
var allStrategyTags = []strategy.StrategyTag{
	strategy.TagFlash, strategy.TagCrossVenue, strategy.TagSettlementRush,
	strategy.TagSteam, strategy.TagTickBurst, strategy.TagCluster,
	strategy.TagImbalance, strategy.TagDelayArb,
}

// updateAssetSignals feeds the latest consensus price into the per-asset
// detectors and the candle builder, exactly once per tick per asset. (Doing
// this per class would feed the same price twice for assets with two tracked
// classes, and a zero-delta duplicate resets a tick-burst run.)
func (e *Engine) updateAssetSignals(now time.Time) {
	for _, asset := range []string{"BTC", "ETH"} {
		if price, ok := e.aggregator.Latest(asset); ok {
			e.tickBurst[asset].Update(price)
			e.indicators.OnTick(asset, price, 0, now)
			e.metrics.UnderlyingVolatility.WithLabelValues(asset).Set(e.aggregator.Volatility(asset, 5*time.Minute))
		}
	}
}

// tickClass runs one 1Hz tick of the pipeline for a single market class:
// refresh detectors from the current focus contract, build a feature
// snapshot, dispatch the strategy catalog, evaluate exits on every open
// position, and record whatever closed.
func (e *Engine) tickClass(ctx context.Context, cb classBinding, now time.Time) {
	top, ok := e.poller.Focus(cb.Class)
	if !ok {
		return
	}

	e.mu.Lock()
	prevTicker := e.lastFocusTicker[cb.Class]
	e.lastFocusTicker[cb.Class] = top.Ticker
	e.mu.Unlock()
	if prevTicker != "" && prevTicker != top.Ticker {
		e.handleTransition(ctx, cb, prevTicker, top, now)
	}

	asset := cb.Class.Asset()
	yesBidF, _ := top.YesBid.Float64()

	e.steam.Update(top.Ticker, yesBidF, float64(top.VolumeCumulative), now)
	if cb.Class.IsShortWindow() {
		e.flashCrash.Update(cb.Class, yesBidF, now)
	}

	underlying, _ := e.aggregator.Latest(asset)

	snap := e.buildSnapshot(ctx, cb, top, now, underlying)

	locked := e.inPostTransitionLockout(cb.Class, now)
	if locked {
		e.recordSignal(journal.Signal{
			At: now, Ticker: top.Ticker, MarketClass: string(cb.Class),
			StrategyTag: "", Allowed: false, Reason: string(strategy.RejectPostTransition),
		})
	} else {
		e.dispatch(ctx, cb, snap, now)
	}

	highVol := snap.ATRPct != nil && *snap.ATRPct > 0.0025
	closed := e.posMgr.Tick(cb.Class, position.TickInput{
		Top:              top,
		Now:              now,
		ATRPercent:       snap.ATRPct,
		HighVolRegime:    highVol,
		RecentVolatility: e.poller.KVolatility(cb.Class, 60),
		Underlying:       money.FromFloat(underlying),
		PriceExit:        e.exitPricer(ctx),
	})
	e.recordClosedTrades(ctx, closed, now)

	e.mu.Lock()
	e.prevFocusBid[cb.Class] = yesBidF
	e.mu.Unlock()

	e.metrics.OpenPositions.Set(float64(len(e.posMgr.OpenPositions())))
	e.metrics.CashBalance.Set(mustFloat(e.posMgr.Cash()))
}

// buildSnapshot assembles a strategy.Snapshot from every feed and detector
// for one market class's current focus contract.
func (e *Engine) buildSnapshot(ctx context.Context, cb classBinding, top strategy.BookTop, now time.Time, underlying float64) strategy.Snapshot {
	asset := cb.Class.Asset()
	ind := e.indicators.Snapshot(asset)
	sent := e.sentiment.Get(asset)

	snap := strategy.Snapshot{
		Now:            now,
		MarketClass:    cb.Class,
		Focus:          top,
		TimeUntilClose: e.poller.TimeUntilClose(cb.Class).Seconds(),

		UnderlyingPrice: underlying,

		EMATrend: strategy.Trend(string(ind.EMATrend())),

		EngineAge: now.Sub(e.startedAt),
	}

	if m, ok := e.aggregator.Momentum(asset, 5*time.Second); ok {
		snap.Momentum5s = &m
	}
	if m, ok := e.aggregator.Momentum(asset, time.Minute); ok {
		snap.Momentum1m = &m
	}
	if m, ok := e.aggregator.Momentum(asset, 5*time.Minute); ok {
		snap.Momentum5m = &m
	}
	if m, ok := e.aggregator.Momentum(asset, 15*time.Minute); ok {
		snap.Momentum15m = &m
	}

	if ind.Ready {
		atr := ind.ATR14
		rsi := ind.RSI14
		snap.ATRPct = &atr
		snap.RSI = &rsi
		snap.BBSqueeze = ind.BBSqueeze
	}

	if sent.Valid {
		fr, oi, ls := sent.FundingRate, sent.OpenInterest, sent.LongShortRatio
		snap.FundingRate = &fr
		snap.OpenInterest = &oi
		snap.LongShortRatio = &ls
	}

	if active, dir, length, cumPct := e.tickBurst[asset].Status(); active {
		snap.TickBurstActive = true
		snap.TickBurstDirection = dir
		snap.TickBurstLength = length
		snap.TickBurstCumPct = cumPct
	}

	if active, dir := e.steam.Detect(top.Ticker, now); active {
		snap.SteamActive = true
		snap.SteamDirection = dir
	}

	if cb.Class.IsShortWindow() {
		if ev, active := e.flashCrash.Detect(cb.Class, now); active {
			snap.FlashActive = true
			snap.FlashMaxBid = ev.Max
			snap.FlashCurrent = ev.Current
			snap.FlashDropPct = ev.DropPct
			snap.FlashAt = ev.At
			snap.FlashPreCrash = ev.PreCrash
		}
		e.mu.Lock()
		if last, ok := e.lastFlashEntryAt[cb.Class]; ok {
			snap.FlashCooldownActive = now.Sub(last) < 60*time.Second
		}
		e.mu.Unlock()
	}

	if dir, avgMag, agree, ok := e.aggregator.ClusterSignal(asset, time.Minute); ok {
		snap.ClusterHasSignal = true
		snap.ClusterDirection = dir
		snap.ClusterAvgMagPct = avgMag
		snap.ClusterAgreeCount = agree
	}

	if !cb.Class.IsShortWindow() {
		kalshiStrike := strategy.StrikeOf(top)
		if dv, ok := e.crossVenue.DetectDivergence(asset, yesBidFloat(top), kalshiStrike); ok {
			snap.CrossVenue = &strategy.CrossVenueDivergence{
				Side:          dv.Direction,
				VenuePrice:    dv.PMPrice,
				VenueStrike:   dv.PMStrike,
				OurPrice:      dv.KalshiPrice,
				OurStrike:     dv.KalshiStrike,
				Divergence:    dv.Divergence,
				VenueMomentum: dv.PMMomentum,
				Confidence:    dv.Confidence,
			}
		}
	}

	ticker := top.Ticker
	snap.DepthFetcher = func() (bidVol, askVol, total float64, ok bool) {
		_, bidVolume, askVolume, ok := e.obCache.Imbalance(ctx, ticker)
		if !ok {
			return 0, 0, 0, false
		}
		return float64(bidVolume), float64(askVolume), float64(bidVolume + askVolume), true
	}

	e.mu.Lock()
	if prev, ok := e.prevFocusBid[cb.Class]; ok {
		p := prev
		snap.PrevFocusBid = &p
	}
	e.mu.Unlock()

	for _, p := range e.posMgr.OpenPositions() {
		if p.MarketClass != cb.Class {
			continue
		}
		if p.Flash != nil {
			snap.HasFlashOpen = true
		} else {
			snap.HasNonFlashOpen = true
		}
	}

	return snap
}

func yesBidFloat(top strategy.BookTop) float64 {
	f, _ := top.YesBid.Float64()
	return f
}

// dispatch walks the strategy catalog in priority order and opens the first
// candidate that both fires and clears the risk gate: first match wins, at
// most one open per class per tick.
func (e *Engine) dispatch(ctx context.Context, cb classBinding, snap strategy.Snapshot, now time.Time) {
	cooldowns := e.posMgr.Cooldowns()
	engineAge := now.Sub(e.startedAt)

	for _, strat := range e.catalog {
		intent, fired := strat.Evaluate(snap)
		if !fired {
			continue
		}
		// One open position per market class; only flash may coexist with
		// it (and flash caps itself at one via HasFlashOpen).
		if intent.StrategyTag != strategy.TagFlash && snap.HasNonFlashOpen {
			continue
		}

		follow := strategy.IsFollowStrategy(intent.StrategyTag)
		sentimentSensitive := strategy.IsSentimentSensitive(intent.StrategyTag)
		allowed, reason, scale := e.gate.Check(snap, intent, cooldowns, engineAge, follow, sentimentSensitive)

		e.recordSignal(journal.Signal{
			At: now, Ticker: intent.Ticker, MarketClass: string(cb.Class),
			StrategyTag: string(intent.StrategyTag), Allowed: allowed, Reason: string(reason),
		})

		if !allowed {
			e.metrics.GateRejections.WithLabelValues(string(reason)).Inc()
			continue
		}

		e.metrics.StrategyFired.WithLabelValues(string(intent.StrategyTag), string(cb.Class)).Inc()
		e.openPosition(ctx, intent, snap, scale, now)
		return
	}
}

// scaledSize applies the risk gate's partial-MTF-confirmation half-size
// rule to a previewed contract count, never going below one contract.
func scaledSize(size int, scale float64) int {
	if scale >= 1.0 || scale <= 0 {
		return size
	}
	scaled := int(float64(size) * scale)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// openPosition previews the Kelly-sized contract count, walks live depth to
// simulate a realistic fill, and hands the result to the position manager.
// The previewed size and the size Open actually charges must agree, so
// nothing between SizeFor and Open may mutate position-manager state.
func (e *Engine) openPosition(ctx context.Context, intent strategy.Intent, snap strategy.Snapshot, scale float64, now time.Time) {
	previewSize, method := e.posMgr.SizeFor(intent.StrategyTag, intent.MarketClass)
	if mult, ok := e.cfg.StrategySizeMult[string(intent.StrategyTag)]; ok && mult > 0 {
		previewSize = int(float64(previewSize) * mult)
		if previewSize < 1 {
			previewSize = 1
		}
	}
	desired := scaledSize(previewSize, scale)

	actualEntry := intent.LimitPrice
	fr := fill.Result{VWAP: intent.LimitPrice, FilledSize: desired}
	if depth, ok := kalshi.DepthFor(ctx, e.ws, e.obCache, intent.Ticker); ok {
		levels := fill.EntryLevels(depth, intent.Side)
		fr = fill.Simulate(levels, desired, intent.LimitPrice)
		if fr.FilledSize > 0 {
			actualEntry = fr.VWAP
		}
	}

	var flashMeta *position.FlashMeta
	if intent.StrategyTag == strategy.TagFlash {
		// Take-profit target recovers 80% of the crash, measured from what
		// the entry actually cost: entry + 0.80 * (pre_crash - entry).
		entryF, _ := actualEntry.Float64()
		target := entryF + 0.80*(snap.FlashPreCrash-entryF)
		flashMeta = &position.FlashMeta{
			RecoveryTarget:    decimal.NewFromFloat(target),
			PreCrashPrice:     decimal.NewFromFloat(snap.FlashPreCrash),
			UnderlyingAtEntry: money.FromFloat(snap.UnderlyingPrice),
		}
	}

	pos, err := e.posMgr.Open(intent, desired, method, actualEntry, intent.LimitPrice, flashMeta, now)
	if err != nil {
		e.log.Debug().Err(err).Str("ticker", intent.Ticker).Msg("position open rejected")
		return
	}

	e.mu.Lock()
	e.entryFills[pos.ID] = fr
	if intent.StrategyTag == strategy.TagFlash {
		e.lastFlashEntryAt[intent.MarketClass] = now
	}
	e.mu.Unlock()
}

// exitPricer walks live depth to price an exit, so the cash the position
// manager credits on close already reflects exit slippage; the quoted mark
// is the fallback when no depth is available.
func (e *Engine) exitPricer(ctx context.Context) position.ExitPricer {
	return func(ticker string, side strategy.Side, size int, quote decimal.Decimal) (decimal.Decimal, fill.Result) {
		if depth, ok := kalshi.DepthFor(ctx, e.ws, e.obCache, ticker); ok {
			levels := fill.ExitLevels(depth, side)
			if r := fill.Simulate(levels, size, quote); r.FilledSize > 0 {
				return r.VWAP, r
			}
		}
		return quote, fill.Result{VWAP: quote, FilledSize: size}
	}
}

// takeEntryFill retrieves and clears the stashed entry-fill simulation for a
// position, so recordClosedTrades can pair it with the exit fill at close.
func (e *Engine) takeEntryFill(id int) fill.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	fr, ok := e.entryFills[id]
	if !ok {
		return fill.Result{}
	}
	delete(e.entryFills, id)
	return fr
}

// recordClosedTrades journals every closed trade, pairing the stashed entry
// fill with the exit fill the close produced, and updates the engine's
// running cumulative P&L and per-strategy stats index.
func (e *Engine) recordClosedTrades(ctx context.Context, closed []position.ClosedTrade, now time.Time) {
	for _, ct := range closed {
		entryFill := e.takeEntryFill(ct.ID)

		exitFill := fill.Result{VWAP: ct.ExitPrice, FilledSize: ct.Size}
		if ct.ExitFill != nil {
			exitFill = *ct.ExitFill
		}

		e.mu.Lock()
		e.cumulativePnL = e.cumulativePnL.Add(ct.PnL)
		cum := e.cumulativePnL
		e.mu.Unlock()

		rec := journal.NewTradeRecord(ct, entryFill, exitFill, cum.String())
		if err := e.journal.LogTrade(rec); err != nil {
			e.log.Error().Err(err).Str("ticker", ct.Ticker).Msg("journal write failed")
		}
		if err := e.journal.UpsertStrategyStats(ct.StrategyTag, e.posMgr.StrategyStatsFor(ct.StrategyTag)); err != nil {
			e.log.Warn().Err(err).Msg("strategy stats index update failed")
		}

		e.metrics.CumulativePnL.Set(mustFloat(cum))
		e.metrics.TradesTotal.WithLabelValues(string(ct.MarketClass), string(ct.ExitReason)).Inc()
	}
}

// handleTransition settles every open position in cb.Class at the best
// available fair-value estimate when its focus ticker changes from
// prevTicker, then starts the post-transition lockout window and flushes
// the per-ticker detector state that belonged to the contract that just
// closed.
func (e *Engine) handleTransition(ctx context.Context, cb classBinding, prevTicker string, top strategy.BookTop, now time.Time) {
	fair := e.transitionFairValue(ctx, cb, prevTicker, top)
	closed := e.posMgr.SettleOnTransition(cb.Class, fair, now)
	e.recordClosedTrades(ctx, closed, now)

	e.steam.Flush(prevTicker)
	if tb, ok := e.tickBurst[cb.Class.Asset()]; ok {
		tb.Reset()
	}

	e.mu.Lock()
	e.postTransitionUntil[cb.Class] = now.Add(postTransitionQuiet)
	delete(e.prevFocusBid, cb.Class)
	e.mu.Unlock()
}

// transitionFairValue estimates what the outgoing contract settled at, best
// source first: the contract's own final state (settled result, else its
// last traded price), the cross-venue price at the same strike for daily
// classes, and finally the new focus book's mid.
func (e *Engine) transitionFairValue(ctx context.Context, cb classBinding, prevTicker string, top strategy.BookTop) decimal.Decimal {
	if m, err := e.client.GetMarket(ctx, prevTicker); err == nil {
		switch m.Result {
		case "yes":
			return decimal.NewFromInt(1)
		case "no":
			return decimal.Zero
		}
		if m.LastPrice > 0 {
			return money.FromCents(m.LastPrice)
		}
	}
	if !cb.Class.IsShortWindow() {
		strike := strategy.StrikeOf(top)
		if price, _, ok := e.crossVenue.NearestStrike(cb.Class.Asset(), strike); ok && price > 0 {
			return decimal.NewFromFloat(price)
		}
	}
	return decimal.NewFromFloat(top.Mid())
}

// inPostTransitionLockout reports whether class is still inside its
// post-transition quiet window.
func (e *Engine) inPostTransitionLockout(class strategy.MarketClass, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.postTransitionUntil[class]
	return ok && now.Before(until)
}

// recordSignal appends sig to the engine's recent-signals ring, kept to the
// checkpoint's last-20 cap.
func (e *Engine) recordSignal(sig journal.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if len(e.recentSignals) > 20 {
		e.recentSignals = e.recentSignals[len(e.recentSignals)-20:]
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// snapshotState builds the Checkpointer's periodic engine.State dump from
// every component's current read-only view.
func (e *Engine) snapshotState() journal.State {
	stats := e.posMgr.Stats()

	e.mu.Lock()
	cum := e.cumulativePnL.String()
	signals := append([]journal.Signal(nil), e.recentSignals...)
	e.mu.Unlock()

	trades := e.posMgr.Trades()
	start := 0
	if len(trades) > 50 {
		start = len(trades) - 50
	}
	recent := make([]journal.TradeRecord, 0, len(trades)-start)
	for _, ct := range trades[start:] {
		placeholder := fill.Result{VWAP: ct.EntryPrice, FilledSize: ct.Size}
		exitPlaceholder := fill.Result{VWAP: ct.ExitPrice, FilledSize: ct.Size}
		recent = append(recent, journal.NewTradeRecord(ct, placeholder, exitPlaceholder, ct.PnL.String()))
	}

	strategyStats := make(map[string]journal.StrategyStatSummary)
	for _, tag := range allStrategyTags {
		st := e.posMgr.StrategyStatsFor(tag)
		if st.TradeCount == 0 {
			continue
		}
		strategyStats[string(tag)] = journal.StrategyStatSummary{
			Wins: st.Wins, Losses: st.Losses,
			TotalWinAmount: st.TotalWinAmount.String(), TotalLossAmount: st.TotalLossAmount.String(),
		}
	}

	return journal.State{
		Time:           time.Now(),
		Config:         map[string]any{"session_id": e.sessionID, "env": e.cfg.KalshiEnv, "dry_run": e.cfg.DryRun},
		CashBalance:    e.posMgr.Cash().String(),
		InitialBalance: decimal.NewFromInt(startingCash).String(),
		RealizedPnL:    cum,
		SessionWins:    stats.Wins,
		SessionLosses:  stats.Losses,
		SessionTotal:   stats.Total,
		OpenPositions:  journal.BuildPositionSummaries(e.posMgr.OpenPositions()),
		RecentTrades:   recent,
		StrategyStats:  strategyStats,
		RecentSignals:  signals,
	}
}
