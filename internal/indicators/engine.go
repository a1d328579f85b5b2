package indicators

import (
	"sync"
	"time"
)

// Trend mirrors the strategy package's bullish/bearish/neutral vocabulary
// without importing it, avoiding an import cycle since strategy reads
// indicator output.
type Trend string

const (
	Bullish Trend = "bullish"
	Bearish Trend = "bearish"
	Neutral Trend = "neutral"
)

// Values is a snapshot of the current indicator readings for one asset.
// Fields are zero-valued and Ready is false until enough candles (20) have
// accumulated.
type Values struct {
	Ready       bool
	ATR14       float64
	RSI14       float64
	EMA5        float64
	EMA20       float64
	BBMiddle    float64
	BBUpper     float64
	BBLower     float64
	BBBandwidth float64
	BBSqueeze   bool
}

// Engine tracks candles and derived indicators per asset.
type Engine struct {
	mu       sync.RWMutex
	builders map[string]*candleBuilder
	values   map[string]Values
	bwHist   map[string][]float64
}

const bandwidthHistoryCap = 100

// NewEngine returns an empty multi-asset indicator engine.
func NewEngine() *Engine {
	return &Engine{
		builders: make(map[string]*candleBuilder),
		values:   make(map[string]Values),
		bwHist:   make(map[string][]float64),
	}
}

func (e *Engine) builderFor(asset string) *candleBuilder {
	b, ok := e.builders[asset]
	if !ok {
		b = newCandleBuilder()
		e.builders[asset] = b
	}
	return b
}

// Bootstrap seeds asset's candle history from historical OHLCV candles in
// newest-first order (as returned by most exchange REST candle endpoints)
// and computes an initial indicator snapshot.
func (e *Engine) Bootstrap(asset string, newestFirst []Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.builderFor(asset)
	b.bootstrap(newestFirst)
	e.recompute(asset, b)
}

// OnTick feeds a raw price tick for asset. Indicators only recompute when a
// 1-minute candle closes, not on every tick.
func (e *Engine) OnTick(asset string, price, volume float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.builderFor(asset)
	if closed := b.add(price, volume, at); closed != nil {
		e.recompute(asset, b)
	}
}

func (e *Engine) recompute(asset string, b *candleBuilder) {
	if len(b.candles) < 20 {
		return
	}

	closes := b.closes()
	highs, lows := b.highsLows()

	v := Values{Ready: true}
	if a, ok := atr(highs, lows, closes, 14); ok {
		v.ATR14 = a
	}
	if r, ok := rsi(closes, 14); ok {
		v.RSI14 = r
	}
	if e5, ok := ema(closes, 5); ok {
		v.EMA5 = e5
	}
	if e20, ok := ema(closes, 20); ok {
		v.EMA20 = e20
	}
	if mid, up, low, bw, ok := bollinger(closes, 20, 2); ok {
		v.BBMiddle, v.BBUpper, v.BBLower, v.BBBandwidth = mid, up, low, bw

		hist := append(e.bwHist[asset], bw)
		if len(hist) > bandwidthHistoryCap {
			hist = hist[len(hist)-bandwidthHistoryCap:]
		}
		e.bwHist[asset] = hist
		if len(hist) >= 20 {
			v.BBSqueeze = bw < percentile20(hist)
		}
	}

	e.values[asset] = v
}

// Snapshot returns the latest indicator values for asset. Ready is false
// until 20 candles have accumulated.
func (e *Engine) Snapshot(asset string) Values {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.values[asset]
}

// EMATrend reports the EMA(5) vs EMA(20) crossover direction.
func (v Values) EMATrend() Trend {
	if !v.Ready {
		return Neutral
	}
	switch {
	case v.EMA5 > v.EMA20:
		return Bullish
	case v.EMA5 < v.EMA20:
		return Bearish
	default:
		return Neutral
	}
}
