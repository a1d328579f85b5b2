package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func fptr(f float64) *float64 { return &f }

// passingSnapshot builds a snapshot that clears every gate filter, so each
// test can break exactly one condition.
func passingSnapshot(class MarketClass) Snapshot {
	return Snapshot{
		Now:         time.Now(),
		MarketClass: class,
		Focus: BookTop{
			Ticker:           "T-1",
			YesBid:           dec(0.48),
			YesAsk:           dec(0.50),
			VolumeCumulative: 500,
		},
		TimeUntilClose: 600,
		ATRPct:         fptr(0.001),
	}
}

func passingIntent(class MarketClass) Intent {
	return Intent{Ticker: "T-1", MarketClass: class, Side: YES, LimitPrice: dec(0.50), StrategyTag: TagDelayArb, Confidence: 1}
}

func check(t *testing.T, snap Snapshot, intent Intent, cd Cooldowns) (bool, RejectReason, float64) {
	t.Helper()
	g := NewGate()
	return g.Check(snap, intent, cd, time.Minute, true, true)
}

func TestGateAllowsCleanEntry(t *testing.T) {
	ok, reason, scale := check(t, passingSnapshot(BTCShort), passingIntent(BTCShort), Cooldowns{})
	if !ok {
		t.Fatalf("expected entry allowed, rejected with %s", reason)
	}
	if scale != 1.0 {
		t.Errorf("scale = %v, want 1.0 with no MTF signals present", scale)
	}
}

func TestGateWarmup(t *testing.T) {
	g := NewGate()
	ok, reason, _ := g.Check(passingSnapshot(BTCShort), passingIntent(BTCShort), Cooldowns{}, 29*time.Second, false, false)
	if ok || reason != RejectWarmup {
		t.Errorf("expected WARMUP rejection under 30s engine age, got (%v, %s)", ok, reason)
	}
}

func TestGateVolRegimeBoundary(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.ATRPct = fptr(0.0025)
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if ok || reason != RejectVolRegime {
		t.Errorf("ATR exactly 0.0025 must block, got (%v, %s)", ok, reason)
	}

	snap.ATRPct = fptr(0.0024)
	if ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{}); !ok {
		t.Errorf("ATR 0.0024 must admit, rejected with %s", reason)
	}
}

func TestGateSpreadBoundaryETH(t *testing.T) {
	snap := passingSnapshot(ETHShort)
	snap.Focus.YesBid = dec(0.46)
	snap.Focus.YesAsk = dec(0.50) // spread exactly 0.04
	ok, reason, _ := check(t, snap, passingIntent(ETHShort), Cooldowns{})
	if ok || reason != RejectSpread {
		t.Errorf("ETH spread exactly 0.04 must block, got (%v, %s)", ok, reason)
	}

	snap.Focus.YesBid = dec(0.461) // spread 0.039
	if ok, reason, _ := check(t, snap, passingIntent(ETHShort), Cooldowns{}); !ok {
		t.Errorf("ETH spread 0.039 must admit, rejected with %s", reason)
	}
}

func TestGateMidPriceBoundary(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.Focus.YesBid = dec(0.14)
	snap.Focus.YesAsk = dec(0.16) // mid exactly 0.15
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if ok || reason != RejectMidPrice {
		t.Errorf("mid exactly 0.15 must block, got (%v, %s)", ok, reason)
	}

	snap.Focus.YesBid = dec(0.1402)
	snap.Focus.YesAsk = dec(0.16) // mid 0.1501
	if ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{}); !ok {
		t.Errorf("mid 0.1501 must admit, rejected with %s", reason)
	}
}

func TestGateVolumeFloor(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.Focus.VolumeCumulative = 49
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if ok || reason != RejectVolume {
		t.Errorf("volume 49 must block, got (%v, %s)", ok, reason)
	}
}

func TestGateRSIFollowFilter(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.RSI = fptr(76)
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if ok || reason != RejectRSIFilter {
		t.Errorf("RSI 76 on a YES follow entry must block, got (%v, %s)", ok, reason)
	}

	intent := passingIntent(BTCShort)
	intent.Side = NO
	snap.RSI = fptr(24)
	// passingSnapshot sets no momentum or EMA trend, so the MTF check
	// abstains and only the RSI filter decides.
	ok, reason, _ = check(t, snap, intent, Cooldowns{})
	if ok || reason != RejectRSIFilter {
		t.Errorf("RSI 24 on a NO follow entry must block, got (%v, %s)", ok, reason)
	}
}

func TestGateLongShortRatio(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.LongShortRatio = fptr(4.1)
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if ok || reason != RejectLSRatio {
		t.Errorf("L/S ratio 4.1 must block, got (%v, %s)", ok, reason)
	}
}

func TestGateCooldownAfterWinBoundary(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	lastExit := snap.Now.Add(-59 * time.Second)
	cd := Cooldowns{
		LastExitByMarket: map[MarketClass]time.Time{BTCShort: lastExit},
		LastWinByMarket:  map[MarketClass]bool{BTCShort: true},
		LossStreak:       map[MarketClass]int{},
	}
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), cd)
	if ok || reason != RejectCooldownWin {
		t.Errorf("59s after a win must block, got (%v, %s)", ok, reason)
	}

	cd.LastExitByMarket[BTCShort] = snap.Now.Add(-60 * time.Second)
	if ok, reason, _ := check(t, snap, passingIntent(BTCShort), cd); !ok {
		t.Errorf("60s after a win must admit, rejected with %s", reason)
	}
}

func TestGateCircuitBreakerBoundary(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	cd := Cooldowns{
		LastExitByMarket: map[MarketClass]time.Time{BTCShort: snap.Now.Add(-299 * time.Second)},
		LastWinByMarket:  map[MarketClass]bool{BTCShort: false},
		LossStreak:       map[MarketClass]int{BTCShort: 3},
	}
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), cd)
	if ok || reason != RejectCooldownBreaker {
		t.Errorf("299s after a 3-loss streak must block, got (%v, %s)", ok, reason)
	}

	cd.LastExitByMarket[BTCShort] = snap.Now.Add(-301 * time.Second)
	if ok, reason, _ := check(t, snap, passingIntent(BTCShort), cd); !ok {
		t.Errorf("301s after a 3-loss streak must admit, rejected with %s", reason)
	}
}

func TestGateGlobalCooldown(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	cd := Cooldowns{LastExitGlobal: snap.Now.Add(-29 * time.Second)}
	ok, reason, _ := check(t, snap, passingIntent(BTCShort), cd)
	if ok || reason != RejectCooldownGlobal {
		t.Errorf("29s after any exit must block globally, got (%v, %s)", ok, reason)
	}
}

func TestGateMTFPartialAgreementHalvesSize(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.Momentum5m = fptr(0.2)
	snap.Momentum15m = fptr(0.3)
	snap.EMATrend = TrendBearish // 2 of 3 agree for YES

	ok, reason, scale := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if !ok {
		t.Fatalf("2/3 MTF agreement must still admit, rejected with %s", reason)
	}
	if scale != 0.5 {
		t.Errorf("scale = %v, want 0.5 on partial confirmation", scale)
	}
}

func TestGateMTFRejectsMinorityAgreement(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.Momentum5m = fptr(-0.2)
	snap.Momentum15m = fptr(-0.3)
	snap.EMATrend = TrendBullish // only 1 of 3 agrees for YES

	ok, reason, _ := check(t, snap, passingIntent(BTCShort), Cooldowns{})
	if ok || reason != RejectMTFConfirm {
		t.Errorf("1/3 MTF agreement must block, got (%v, %s)", ok, reason)
	}
}

func TestGateHalfSpreadOverride(t *testing.T) {
	g := NewGateWithOverrides(map[string]float64{"delay_arb": 0.01})
	snap := passingSnapshot(BTCShort)
	snap.Focus.YesBid = dec(0.48)
	snap.Focus.YesAsk = dec(0.50) // spread 0.02 = 2x the configured half-spread
	ok, reason, _ := g.Check(snap, passingIntent(BTCShort), Cooldowns{}, time.Minute, true, true)
	if ok || reason != RejectSpread {
		t.Errorf("configured half-spread 0.01 must cap spread at 0.02, got (%v, %s)", ok, reason)
	}

	snap.Focus.YesBid = dec(0.485) // spread 0.015, under the override cap
	if ok, reason, _ := g.Check(snap, passingIntent(BTCShort), Cooldowns{}, time.Minute, true, true); !ok {
		t.Errorf("spread under the override cap must admit, rejected with %s", reason)
	}
}

func TestGateExemptStrategiesBypass(t *testing.T) {
	snap := passingSnapshot(BTCShort)
	snap.ATRPct = fptr(0.01) // would block anything else
	intent := passingIntent(BTCShort)
	intent.StrategyTag = TagFlash

	g := NewGate()
	ok, _, _ := g.Check(snap, intent, Cooldowns{}, time.Second, false, false)
	if !ok {
		t.Errorf("flash must bypass the general gate entirely")
	}
}

func TestAdaptiveStopClampsATR(t *testing.T) {
	// 1.5 * 0.002 = 0.003, clamped up to the $0.05 floor.
	if got := AdaptiveStop(fptr(0.002), false, 0, 0.08); got != 0.05 {
		t.Errorf("AdaptiveStop = %v, want 0.05 floor", got)
	}
	// 2.0 * 0.15 = 0.30, clamped down to the $0.20 ceiling.
	if got := AdaptiveStop(fptr(0.15), true, 0, 0.08); got != 0.20 {
		t.Errorf("AdaptiveStop = %v, want 0.20 ceiling", got)
	}
}

func TestAdaptiveStopFallbackScalesWithVolatility(t *testing.T) {
	// No ATR: default 0.08 scaled by +50% = 0.12, inside [0.04, 0.15].
	if got := AdaptiveStop(nil, false, 0.5, 0.08); got != 0.12 {
		t.Errorf("AdaptiveStop fallback = %v, want 0.12", got)
	}
}
