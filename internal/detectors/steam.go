package detectors

import (
	"sync"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

type steamSample struct {
	at     time.Time
	price  float64
	volume float64 // cumulative volume at sample time
}

// Steam watches a contract's book-top price and cumulative volume over a
// 5-minute history and declares a steam move when the price jumped >3c in
// 60s AND last-minute volume ran >3x the average per-minute volume, or the
// price alone moved >=6c in 60s.
type Steam struct {
	mu      sync.Mutex
	history map[string][]steamSample
}

// NewSteam returns an empty per-ticker steam detector.
func NewSteam() *Steam {
	return &Steam{history: make(map[string][]steamSample)}
}

// Update records a new book-top sample for ticker.
func (d *Steam) Update(ticker string, yesBid float64, cumVolume float64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := append(d.history[ticker], steamSample{at: now, price: yesBid, volume: cumVolume})
	cutoff := now.Add(-5 * time.Minute)
	i := 0
	for i < len(h) && h[i].at.Before(cutoff) {
		i++
	}
	d.history[ticker] = h[i:]
}

// Flush clears history for ticker (used on market transition).
func (d *Steam) Flush(ticker string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, ticker)
}

// Detect reports whether a steam move is active for ticker right now, and
// its direction (sign of the price move).
func (d *Steam) Detect(ticker string, now time.Time) (active bool, direction strategy.Side) {
	d.mu.Lock()
	h := append([]steamSample(nil), d.history[ticker]...)
	d.mu.Unlock()

	if len(h) < 2 {
		return false, ""
	}

	cur := h[len(h)-1]
	var minuteAgo *steamSample
	for i := len(h) - 1; i >= 0; i-- {
		if cur.at.Sub(h[i].at) >= 60*time.Second {
			minuteAgo = &h[i]
			break
		}
	}
	if minuteAgo == nil {
		return false, ""
	}

	priceDelta := cur.price - minuteAgo.price
	if absF(priceDelta) >= 0.06 {
		return true, directionOf(priceDelta)
	}
	if absF(priceDelta) <= 0.03 {
		return false, ""
	}

	lastMinuteVolume := cur.volume - minuteAgo.volume

	// Average per-minute volume over the full 5-minute history.
	oldest := h[0]
	windowMinutes := cur.at.Sub(oldest.at).Minutes()
	if windowMinutes < 1 {
		return false, ""
	}
	avgPerMinute := (cur.volume - oldest.volume) / windowMinutes

	if avgPerMinute > 0 && lastMinuteVolume > 3*avgPerMinute {
		return true, directionOf(priceDelta)
	}
	return false, ""
}

func directionOf(delta float64) strategy.Side {
	if delta >= 0 {
		return strategy.YES
	}
	return strategy.NO
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
