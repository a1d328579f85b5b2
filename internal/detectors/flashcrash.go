package detectors

import (
	"sync"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

type bidSample struct {
	at  time.Time
	bid float64
}

// FlashEvent records a detected flash crash.
type FlashEvent struct {
	Max      float64
	Current  float64
	DropPct  float64
	At       time.Time
	PreCrash float64 // estimated price level before the crash began
}

// FlashCrash watches a short-window class's focus contract bid over a
// 30-sample ring and declares a flash crash when the bid has dropped >15%
// from its 10-second-window max. Only meaningful for short-window
// classes; daily classes swap their at-the-money contract often enough to
// produce false positives, so the engine never feeds it daily-class bids.
type FlashCrash struct {
	mu      sync.Mutex
	history map[strategy.MarketClass][]bidSample
}

const flashRingSize = 30

// NewFlashCrash returns an empty detector.
func NewFlashCrash() *FlashCrash {
	return &FlashCrash{history: make(map[strategy.MarketClass][]bidSample)}
}

// Update records a new bid sample for a short-window market class.
func (d *FlashCrash) Update(class strategy.MarketClass, bid float64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := append(d.history[class], bidSample{at: now, bid: bid})
	if len(h) > flashRingSize {
		h = h[len(h)-flashRingSize:]
	}
	d.history[class] = h
}

// Detect reports whether a flash crash is currently in effect for class.
func (d *FlashCrash) Detect(class strategy.MarketClass, now time.Time) (*FlashEvent, bool) {
	d.mu.Lock()
	h := append([]bidSample(nil), d.history[class]...)
	d.mu.Unlock()

	if len(h) == 0 {
		return nil, false
	}

	windowStart := now.Add(-10 * time.Second)
	var maxBid float64
	var currentBid float64
	found := false
	for _, s := range h {
		if s.at.Before(windowStart) {
			continue
		}
		if !found || s.bid > maxBid {
			maxBid = s.bid
			found = true
		}
		currentBid = s.bid
	}
	if !found || maxBid <= 0 {
		return nil, false
	}

	dropPct := (maxBid - currentBid) / maxBid
	if dropPct <= 0.15 {
		return nil, false
	}

	preCrash := d.preCrashEstimate(h, now, dropPct, maxBid)
	return &FlashEvent{
		Max:      maxBid,
		Current:  currentBid,
		DropPct:  dropPct,
		At:       now,
		PreCrash: preCrash,
	}, true
}

// preCrashEstimate takes the oldest sample at or after now-10s. Not the max
// nor the median: an empirical choice that held up in live sessions. When
// the window holds no sample that old, the 10s max itself is the best
// available estimate of the pre-crash level.
func (d *FlashCrash) preCrashEstimate(h []bidSample, now time.Time, dropPct, maxBid float64) float64 {
	windowStart := now.Add(-10 * time.Second)
	for _, s := range h {
		if !s.at.Before(windowStart) {
			return s.bid
		}
	}
	return maxBid
}
