// Package detectors holds the raw-stream signal detectors: tick-burst,
// steam, and flash-crash. Each detector is fed only its own raw stream and
// owns only its own history.
package detectors

import (
	"math"
	"sync"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// TickBurst tracks directional runs in the underlying price and reports a
// burst active once the run length reaches 3.
type TickBurst struct {
	mu sync.Mutex

	lastPrice float64
	hasLast   bool
	direction strategy.Side
	length    int
	cumPct    float64
}

// NewTickBurst returns an empty detector.
func NewTickBurst() *TickBurst { return &TickBurst{} }

// Update feeds a new underlying price tick. A move qualifies as a burst tick
// when it exceeds $10 or 0.01% vs the previous tick.
func (d *TickBurst) Update(price float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasLast {
		d.lastPrice = price
		d.hasLast = true
		return
	}

	delta := price - d.lastPrice
	pctDelta := 0.0
	if d.lastPrice != 0 {
		pctDelta = delta / d.lastPrice * 100
	}
	d.lastPrice = price

	qualifies := math.Abs(delta) > 10 || math.Abs(pctDelta) > 0.01
	if !qualifies {
		d.length = 0
		d.cumPct = 0
		return
	}

	dir := strategy.YES
	if delta < 0 {
		dir = strategy.NO
	}

	if d.length > 0 && dir == d.direction {
		d.length++
		d.cumPct += pctDelta
	} else {
		d.direction = dir
		d.length = 1
		d.cumPct = pctDelta
	}
}

// Status reports whether a burst of length >= 3 is currently active, its
// direction, length, and cumulative percent move.
func (d *TickBurst) Status() (active bool, direction strategy.Side, length int, cumPct float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.length >= 3 {
		return true, d.direction, d.length, d.cumPct
	}
	return false, "", d.length, d.cumPct
}

// Reset clears the run, used when a market transitions.
func (d *TickBurst) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.length = 0
	d.cumPct = 0
	d.hasLast = false
}
