// Package crossvenue implements cross-venue divergence detection:
// Polymarket's BTC/ETH daily prediction markets lead Kalshi's by a small
// lag because Polymarket carries roughly 20x the volume, so a price move
// there that Kalshi hasn't caught up to is itself a tradeable signal.
package crossvenue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

const gammaBaseURL = "https://gamma-api.polymarket.com"

// Divergence mirrors strategy.CrossVenueDivergence; it is converted at the
// engine boundary so this package never imports strategy's snapshot type
// and strategy never imports this package.
type Divergence struct {
	Direction    strategy.Side
	PMPrice      float64
	PMStrike     float64
	KalshiPrice  float64
	KalshiStrike float64
	Divergence   float64
	PMMomentum   float64
	Confidence   float64
	At           time.Time
}

type strikeSnapshot struct {
	at     time.Time
	prices map[float64]float64
}

type marketEntry struct {
	yesPrice    float64
	volume24hr  float64
	liquidity   float64
	lastUpdated time.Time
}

const historyCap = 200

// Feed polls Polymarket's Gamma API for BTC and ETH daily-strike markets,
// discovering the live event slug on first use and refreshing prices on a
// fixed interval.
type Feed struct {
	httpClient *http.Client
	interval   time.Duration

	mu             sync.RWMutex
	slugs          map[string]string // asset -> event slug
	slugDiscovered bool
	markets        map[string]map[float64]marketEntry // asset -> strike -> entry
	history        map[string][]strikeSnapshot
	lastUpdate     time.Time
}

// NewFeed returns a feed polling at the given interval (30s default).
func NewFeed(interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Feed{
		httpClient: &http.Client{Timeout: 8 * time.Second},
		interval:   interval,
		slugs:      make(map[string]string),
		markets:    map[string]map[float64]marketEntry{"BTC": {}, "ETH": {}},
		history:    make(map[string][]strikeSnapshot),
	}
}

// Run discovers event slugs once and then refreshes prices every interval
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.update(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.update(ctx)
		}
	}
}

func (f *Feed) update(ctx context.Context) {
	f.discoverSlugs(ctx)

	for _, asset := range []string{"BTC", "ETH"} {
		slug := f.slugFor(asset)
		if slug == "" {
			continue
		}
		if err := f.refreshAsset(ctx, asset, slug); err != nil {
			continue
		}
	}
	f.mu.Lock()
	f.lastUpdate = time.Now()
	f.mu.Unlock()
}

func (f *Feed) slugFor(asset string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.slugs[asset]
}

// discoverSlugs finds today's highest-24h-volume BTC/ETH "above" event by
// title substring with a volume floor. Once found, slugs are never
// rediscovered within a process lifetime.
func (f *Feed) discoverSlugs(ctx context.Context) {
	f.mu.RLock()
	done := f.slugDiscovered
	f.mu.RUnlock()
	if done {
		return
	}

	url := gammaBaseURL + "/events?closed=false&limit=200&order=volume24hr&ascending=false"
	body, err := f.fetchJSON(ctx, url)
	if err != nil {
		return
	}

	var events []struct {
		Title      string  `json:"title"`
		Slug       string  `json:"slug"`
		Volume24hr float64 `json:"volume24hr"`
	}
	if err := json.Unmarshal(body, &events); err != nil {
		return
	}

	var bestBTC, bestETH struct {
		slug   string
		volume float64
	}
	for _, e := range events {
		title := strings.ToLower(e.Title)
		switch {
		case strings.Contains(title, "bitcoin above") && e.Volume24hr > 50000:
			if e.Volume24hr > bestBTC.volume {
				bestBTC.slug, bestBTC.volume = e.Slug, e.Volume24hr
			}
		case strings.Contains(title, "ethereum above") && e.Volume24hr > 10000:
			if e.Volume24hr > bestETH.volume {
				bestETH.slug, bestETH.volume = e.Slug, e.Volume24hr
			}
		}
	}

	f.mu.Lock()
	if bestBTC.slug != "" {
		f.slugs["BTC"] = bestBTC.slug
	}
	if bestETH.slug != "" {
		f.slugs["ETH"] = bestETH.slug
	}
	f.slugDiscovered = true
	f.mu.Unlock()
}

type gammaMarket struct {
	GroupItemTitle string          `json:"groupItemTitle"`
	OutcomePrices  json.RawMessage `json:"outcomePrices"`
	Volume24hr     float64         `json:"volume24hr"`
	LiquidityNum   float64         `json:"liquidityNum"`
}

type gammaEvent struct {
	Markets []gammaMarket `json:"markets"`
}

func (f *Feed) refreshAsset(ctx context.Context, asset, slug string) error {
	url := fmt.Sprintf("%s/events?slug=%s&_include=markets", gammaBaseURL, slug)
	body, err := f.fetchJSON(ctx, url)
	if err != nil {
		return err
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil || len(events) == 0 {
		return fmt.Errorf("no events for slug %s", slug)
	}

	now := time.Now()
	snapshot := make(map[float64]float64)
	entries := make(map[float64]marketEntry)

	for _, m := range events[0].Markets {
		if m.GroupItemTitle == "" {
			continue
		}
		strike, err := strconv.ParseFloat(strings.ReplaceAll(m.GroupItemTitle, ",", ""), 64)
		if err != nil {
			continue
		}

		yesPrice := parseFirstOutcomePrice(m.OutcomePrices)
		entries[strike] = marketEntry{
			yesPrice:    yesPrice,
			volume24hr:  m.Volume24hr,
			liquidity:   m.LiquidityNum,
			lastUpdated: now,
		}
		snapshot[strike] = yesPrice
	}

	f.mu.Lock()
	f.markets[asset] = entries
	if len(snapshot) > 0 {
		h := append(f.history[asset], strikeSnapshot{at: now, prices: snapshot})
		if len(h) > historyCap {
			h = h[len(h)-historyCap:]
		}
		f.history[asset] = h
	}
	f.mu.Unlock()
	return nil
}

// parseFirstOutcomePrice handles outcomePrices arriving either as a JSON
// array of strings or as a JSON-encoded string containing that array.
func parseFirstOutcomePrice(raw json.RawMessage) float64 {
	var prices []string
	if err := json.Unmarshal(raw, &prices); err != nil {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return 0
		}
		if err := json.Unmarshal([]byte(encoded), &prices); err != nil {
			return 0
		}
	}
	if len(prices) == 0 {
		return 0
	}
	p, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0
	}
	return p
}

func (f *Feed) fetchJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// NearestStrike returns the YES price of the market whose strike is
// nearest to target, and that strike, for asset.
func (f *Feed) NearestStrike(asset string, target float64) (price, strike float64, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries := f.markets[asset]
	if len(entries) == 0 {
		return 0, 0, false
	}

	bestDistance := math.Inf(1)
	for s, e := range entries {
		d := math.Abs(s - target)
		if d < bestDistance {
			bestDistance = d
			strike = s
			price = e.yesPrice
			ok = true
		}
	}
	return price, strike, ok
}

const (
	minPMMomentum   = 0.02
	minDivergence   = 0.03
	strikeTolerance = 0.05
)

// DetectDivergence compares the current Polymarket price for the strike
// nearest kalshiStrike against kalshiYesBid, and reports a divergence
// signal when PM has moved at least 2c in the last update and Kalshi
// hasn't caught up by at least 3c in the same direction.
func (f *Feed) DetectDivergence(asset string, kalshiYesBid, kalshiStrike float64) (Divergence, bool) {
	pmPrice, pmStrike, ok := f.NearestStrike(asset, kalshiStrike)
	if !ok {
		return Divergence{}, false
	}
	if kalshiStrike != 0 && math.Abs(pmStrike-kalshiStrike)/kalshiStrike > strikeTolerance {
		return Divergence{}, false
	}

	divergence := pmPrice - kalshiYesBid
	momentum := f.momentum(asset, pmStrike)

	if math.Abs(momentum) < minPMMomentum || math.Abs(divergence) < minDivergence {
		return Divergence{}, false
	}

	switch {
	case momentum > 0 && divergence > 0:
		return Divergence{
			Direction:    strategy.YES,
			PMPrice:      pmPrice,
			PMStrike:     pmStrike,
			KalshiPrice:  kalshiYesBid,
			KalshiStrike: kalshiStrike,
			Divergence:   divergence,
			PMMomentum:   momentum,
			Confidence:   math.Min(1.0, divergence/0.10),
			At:           time.Now(),
		}, true
	case momentum < 0 && divergence < 0:
		return Divergence{
			Direction:    strategy.NO,
			PMPrice:      pmPrice,
			PMStrike:     pmStrike,
			KalshiPrice:  kalshiYesBid,
			KalshiStrike: kalshiStrike,
			Divergence:   divergence,
			PMMomentum:   momentum,
			Confidence:   math.Min(1.0, math.Abs(divergence)/0.10),
			At:           time.Now(),
		}, true
	default:
		return Divergence{}, false
	}
}

// momentum is the change in PM price for strike between the last two
// history snapshots.
func (f *Feed) momentum(asset string, strike float64) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h := f.history[asset]
	if len(h) < 2 {
		return 0
	}
	prev, curr := h[len(h)-2].prices, h[len(h)-1].prices
	prevP, okPrev := prev[strike]
	currP, okCurr := curr[strike]
	if !okPrev || !okCurr {
		return 0
	}
	return currP - prevP
}
