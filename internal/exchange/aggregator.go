package exchange

import (
	"math"
	"sync"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// Aggregator maintains, per asset, the last price from each live exchange
// and the resulting weighted consensus history. Each exchange stream task
// calls OnPrice for its own exchange only; the weighted recompute happens
// inline so every sample in the ring already reflects the consensus at that
// instant.
type Aggregator struct {
	weights map[string]float64

	mu    sync.RWMutex
	last  map[string]map[string]float64 // asset -> exchange -> price
	rings map[string]*ring              // asset -> price history
}

// NewAggregator builds an aggregator with the given static per-exchange
// weights; unknown exchanges default to 0.1 at lookup.
func NewAggregator(weights map[string]float64) *Aggregator {
	return &Aggregator{
		weights: weights,
		last:    make(map[string]map[string]float64),
		rings:   make(map[string]*ring),
	}
}

func (a *Aggregator) weightOf(exchange string) float64 {
	if w, ok := a.weights[exchange]; ok {
		return w
	}
	return 0.1
}

// OnPrice records a new tick from exchange for asset and recomputes the
// weighted consensus across all currently-live exchanges for that asset. A
// stream failure on one exchange never touches another exchange's last
// price; a missing exchange is simply absent from the sum.
func (a *Aggregator) OnPrice(asset, exchangeName string, price float64, at time.Time) {
	a.mu.Lock()
	if a.last[asset] == nil {
		a.last[asset] = make(map[string]float64)
	}
	a.last[asset][exchangeName] = price

	var weightedSum, weightSum float64
	perExchange := make(map[string]float64, len(a.last[asset]))
	for ex, p := range a.last[asset] {
		w := a.weightOf(ex)
		weightedSum += w * p
		weightSum += w
		perExchange[ex] = p
	}
	r, ok := a.rings[asset]
	if !ok {
		r = newRing()
		a.rings[asset] = r
	}
	a.mu.Unlock()

	if weightSum == 0 {
		return
	}
	r.append(Sample{
		Timestamp:     at,
		WeightedPrice: weightedSum / weightSum,
		PerExchange:   perExchange,
	})
}

// Latest returns the most recent weighted consensus price for asset.
func (a *Aggregator) Latest(asset string) (float64, bool) {
	r := a.ringFor(asset)
	if r == nil {
		return 0, false
	}
	s := r.snapshot()
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].WeightedPrice, true
}

func (a *Aggregator) ringFor(asset string) *ring {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rings[asset]
}

// Momentum returns the percent change from the sample at-or-after
// now-lookback to the latest sample.
func (a *Aggregator) Momentum(asset string, lookback time.Duration) (float64, bool) {
	r := a.ringFor(asset)
	if r == nil {
		return 0, false
	}
	samples := r.snapshot()
	if len(samples) == 0 {
		return 0, false
	}
	latest := samples[len(samples)-1]
	cutoff := latest.Timestamp.Add(-lookback)

	var ref *Sample
	for i := range samples {
		if !samples[i].Timestamp.Before(cutoff) {
			ref = &samples[i]
			break
		}
	}
	if ref == nil || ref.WeightedPrice == 0 {
		return 0, false
	}
	return (latest.WeightedPrice - ref.WeightedPrice) / ref.WeightedPrice * 100, true
}

// Volatility returns the coefficient of variation (stddev/mean) of samples
// within lookback, defaulting to 0.01 when fewer than 10 samples are
// present.
func (a *Aggregator) Volatility(asset string, lookback time.Duration) float64 {
	r := a.ringFor(asset)
	if r == nil {
		return 0.01
	}
	samples := r.snapshot()
	if len(samples) == 0 {
		return 0.01
	}
	cutoff := samples[len(samples)-1].Timestamp.Add(-lookback)

	var windowed []float64
	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			windowed = append(windowed, s.WeightedPrice)
		}
	}
	if len(windowed) < 10 {
		return 0.01
	}

	var sum float64
	for _, p := range windowed {
		sum += p
	}
	mean := sum / float64(len(windowed))
	if mean == 0 {
		return 0.01
	}

	var variance float64
	for _, p := range windowed {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(windowed))
	return math.Sqrt(variance) / mean
}

// ClusterSignal reports a direction iff >=3 exchanges moved >0.05% in the
// same direction over lookback.
func (a *Aggregator) ClusterSignal(asset string, lookback time.Duration) (dir strategy.Side, avgMagPct float64, agreeing int, ok bool) {
	r := a.ringFor(asset)
	if r == nil {
		return "", 0, 0, false
	}
	samples := r.snapshot()
	if len(samples) < 2 {
		return "", 0, 0, false
	}

	latest := samples[len(samples)-1]
	cutoff := latest.Timestamp.Add(-lookback)

	// Each exchange is measured from its own earliest price inside the
	// window, so an exchange that started reporting mid-window still counts.
	refs := make(map[string]float64)
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		for ex, p := range s.PerExchange {
			if _, seen := refs[ex]; !seen {
				refs[ex] = p
			}
		}
	}

	upMoves, downMoves := 0, 0
	var upMag, downMag float64
	for ex, p := range latest.PerExchange {
		refP, present := refs[ex]
		if !present || refP == 0 {
			continue
		}
		pctMove := (p - refP) / refP * 100
		if pctMove > 0.05 {
			upMoves++
			upMag += pctMove
		} else if pctMove < -0.05 {
			downMoves++
			downMag += -pctMove
		}
	}

	if upMoves >= 3 && upMoves >= downMoves {
		return strategy.YES, upMag / float64(upMoves), upMoves, true
	}
	if downMoves >= 3 {
		return strategy.NO, downMag / float64(downMoves), downMoves, true
	}
	return "", 0, 0, false
}
