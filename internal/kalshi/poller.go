package kalshi

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// ClassConfig binds a market class to the Kalshi series ticker that feeds
// it.
type ClassConfig struct {
	Class  strategy.MarketClass
	Series string
}

const historyCap = 200
const wsStaleAfter = 30 * time.Second

type classState struct {
	focus   *strategy.BookTop
	history []strategy.BookTop

	wsTicker    string // ticker currently subscribed on the WS transport
	lastWSMsgAt time.Time
}

// Poller tracks the current "focus" contract for each configured market
// class: for short-window classes, the single open contract in the series;
// for daily classes, whichever strike is nearest at-the-money among
// contracts with a spread of at most 10c. It prefers live WebSocket
// ticker quotes when available and falls back to periodic REST polling
// when a class's WS feed has gone stale for more than 30s.
type Poller struct {
	client   *Client
	ws       *WSClient
	interval time.Duration
	classes  []ClassConfig

	mu     sync.RWMutex
	states map[strategy.MarketClass]*classState
}

// NewPoller returns a poller for the given classes, using client for REST
// fallback/focus discovery and ws (optional, may be nil) for live book-top
// updates.
func NewPoller(client *Client, ws *WSClient, interval time.Duration, classes []ClassConfig) *Poller {
	states := make(map[strategy.MarketClass]*classState, len(classes))
	for _, c := range classes {
		states[c.Class] = &classState{}
	}
	return &Poller{client: client, ws: ws, interval: interval, classes: classes, states: states}
}

// Run polls every Poller.interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, cfg := range p.classes {
		top, err := p.fetchFocus(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Str("class", string(cfg.Class)).Msg("focus contract poll failed")
			continue
		}
		if top == nil {
			continue
		}
		p.ensureSubscribed(cfg.Class, top.Ticker)
		p.applyLiveOverride(cfg.Class, top)
		p.recordFocus(cfg.Class, *top)
	}
}

// ensureSubscribed switches the WS real-time subscription to ticker when the
// focus contract for class has changed, unsubscribing the stale one so the
// transport doesn't keep streaming updates for a settled market.
func (p *Poller) ensureSubscribed(class strategy.MarketClass, ticker string) {
	if p.ws == nil {
		return
	}
	p.mu.Lock()
	st := p.states[class]
	prev := st.wsTicker
	if prev == ticker {
		p.mu.Unlock()
		return
	}
	st.wsTicker = ticker
	p.mu.Unlock()

	if prev != "" {
		p.ws.Unsubscribe([]string{prev})
	}
	if err := p.ws.Subscribe([]string{ticker}); err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("ws subscribe failed")
	}
}

// applyLiveOverride replaces top's REST-derived fields with the real-time
// transport's when it has delivered a message for this ticker within the
// last 30s; a transport silent for longer than that is considered down and
// the REST fallback's numbers stand. The ticker channel is
// preferred (it carries volume too); the live orderbook's best bid/ask is
// the second choice. Consumers only ever see the merged BookTop; they never
// branch on which transport produced it.
func (p *Poller) applyLiveOverride(class strategy.MarketClass, top *strategy.BookTop) {
	if p.ws == nil {
		return
	}

	if q, ok := p.ws.LatestQuote(top.Ticker); ok && time.Since(q.At) <= wsStaleAfter {
		p.mu.Lock()
		p.states[class].lastWSMsgAt = q.At
		p.mu.Unlock()

		top.YesBid = centsToFraction(q.YesBid)
		top.YesAsk = centsToFraction(q.YesAsk)
		if q.Volume > top.VolumeCumulative {
			top.VolumeCumulative = q.Volume
		}
		return
	}

	ob := p.ws.GetOrderbook(top.Ticker)
	if ob == nil || time.Since(ob.LastUpdate) > wsStaleAfter {
		return
	}

	p.mu.Lock()
	p.states[class].lastWSMsgAt = ob.LastUpdate
	p.mu.Unlock()

	top.YesBid = centsToFraction(ob.BestYesBid())
	top.YesAsk = centsToFraction(ob.BestYesAsk())
}

// fetchFocus selects the focus contract for a class: short-window classes
// use the single open market in the series; daily classes group by close
// time (nearest settlement first) and within that group pick the market
// whose mid price is closest to 0.50 among those with spread <= 10c.
func (p *Poller) fetchFocus(ctx context.Context, cfg ClassConfig) (*strategy.BookTop, error) {
	markets, err := p.client.GetMarkets(ctx, cfg.Series, "open")
	if err != nil {
		return nil, fmt.Errorf("fetching %s markets: %w", cfg.Series, err)
	}
	if len(markets) == 0 {
		return nil, nil
	}

	var chosen *Market
	if cfg.Class.IsShortWindow() {
		chosen = &markets[0]
	} else {
		chosen = nearestATMByEarliestClose(markets)
	}
	if chosen == nil {
		return nil, nil
	}

	closeTime, _ := chosen.CloseTimeParsed()
	if closeTime.IsZero() {
		// Short-window series sometimes omit close_time; the expected
		// expiration is the actual resolution time there.
		closeTime, _ = chosen.ExpirationParsed()
	}
	return &strategy.BookTop{
		Ticker:           chosen.Ticker,
		YesBid:           centsToFraction(chosen.YesBid),
		YesAsk:           centsToFraction(chosen.YesAsk),
		VolumeCumulative: chosen.Volume,
		CloseTime:        closeTime,
		SeriesTag:        cfg.Series,
		Strike:           chosen.StrikePrice(),
		CapturedAt:       time.Now(),
	}, nil
}

func nearestATMByEarliestClose(markets []Market) *Market {
	byClose := make(map[string][]*Market)
	for i := range markets {
		byClose[markets[i].CloseTime] = append(byClose[markets[i].CloseTime], &markets[i])
	}

	closes := make([]string, 0, len(byClose))
	for ct := range byClose {
		closes = append(closes, ct)
	}
	sort.Strings(closes) // ISO-8601 strings sort chronologically

	for _, ct := range closes {
		group := byClose[ct]
		var best *Market
		bestDistance := math.Inf(1)
		for _, m := range group {
			yesBid := float64(m.YesBid) / 100
			yesAsk := float64(m.YesAsk) / 100
			if yesAsk-yesBid > 0.10 {
				continue
			}
			mid := (yesBid + yesAsk) / 2
			d := math.Abs(mid - 0.50)
			if d < bestDistance {
				bestDistance = d
				best = m
			}
		}
		if best != nil {
			return best
		}
	}
	return nil
}

func centsToFraction(cents int) decimal.Decimal {
	return decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(100))
}

// recordFocus updates the class's focus contract and appends it to its
// rolling history. Detecting and handling a focus-ticker transition is the
// engine's job; the poller only ever reports the current view.
func (p *Poller) recordFocus(class strategy.MarketClass, top strategy.BookTop) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.states[class]
	st.focus = &top
	st.history = append(st.history, top)
	if len(st.history) > historyCap {
		st.history = st.history[len(st.history)-historyCap:]
	}
}

// Focus returns the current focus contract for class.
func (p *Poller) Focus(class strategy.MarketClass) (strategy.BookTop, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := p.states[class]
	if st == nil || st.focus == nil {
		return strategy.BookTop{}, false
	}
	return *st.focus, true
}

// TimeUntilClose returns the duration until class's focus contract closes,
// or a 999s sentinel when no focus contract is known.
func (p *Poller) TimeUntilClose(class strategy.MarketClass) time.Duration {
	top, ok := p.Focus(class)
	if !ok || top.CloseTime.IsZero() {
		return 999 * time.Second
	}
	return time.Until(top.CloseTime)
}

// KVolatility computes the standard deviation of the last lookback yes_bid
// values in class's history, defaulting to 0.05 when fewer than 5 samples
// are available.
func (p *Poller) KVolatility(class strategy.MarketClass, lookback int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := p.states[class]
	if st == nil || len(st.history) == 0 {
		return 0.05
	}

	h := st.history
	if len(h) > lookback {
		h = h[len(h)-lookback:]
	}
	if len(h) < 5 {
		return 0.05
	}

	var sum float64
	for _, top := range h {
		f, _ := top.YesBid.Float64()
		sum += f
	}
	mean := sum / float64(len(h))

	var variance float64
	for _, top := range h {
		f, _ := top.YesBid.Float64()
		d := f - mean
		variance += d * d
	}
	variance /= float64(len(h))
	return math.Sqrt(variance)
}
