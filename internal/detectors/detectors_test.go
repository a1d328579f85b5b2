package detectors

import (
	"testing"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

func TestTickBurstActivatesAfterThreeDirectionalMoves(t *testing.T) {
	d := NewTickBurst()
	d.Update(95000)
	d.Update(95020) // +$20
	d.Update(95045) // +$25
	if active, _, _, _ := d.Status(); active {
		t.Errorf("two qualifying moves must not be a burst yet")
	}

	d.Update(95070) // +$25, run length 3
	active, dir, length, cumPct := d.Status()
	if !active {
		t.Fatalf("expected an active burst after three same-direction moves")
	}
	if dir != strategy.YES || length != 3 {
		t.Errorf("got (%v, %d), want (yes, 3)", dir, length)
	}
	if cumPct <= 0 {
		t.Errorf("cumPct = %v, want positive", cumPct)
	}
}

func TestTickBurstResetsOnSmallMove(t *testing.T) {
	d := NewTickBurst()
	d.Update(95000)
	d.Update(95020)
	d.Update(95040)
	d.Update(95060)
	d.Update(95060.5) // sub-threshold move breaks the run
	if active, _, _, _ := d.Status(); active {
		t.Errorf("a non-qualifying tick must reset the run")
	}
}

func TestTickBurstDirectionFlipRestartsRun(t *testing.T) {
	d := NewTickBurst()
	d.Update(95000)
	d.Update(95020)
	d.Update(95040)
	d.Update(95020) // reversal
	if _, _, length, _ := d.Status(); length != 1 {
		t.Errorf("length = %d, want 1 after a direction flip", length)
	}
}

func TestSteamDetectsPriceJumpAlone(t *testing.T) {
	d := NewSteam()
	base := time.Now().Add(-2 * time.Minute)
	d.Update("T", 0.50, 100, base)
	d.Update("T", 0.57, 110, base.Add(90*time.Second)) // +7c in over a minute

	active, dir := d.Detect("T", base.Add(90*time.Second))
	if !active {
		t.Fatalf("a 7c move must trigger steam on price alone")
	}
	if dir != strategy.YES {
		t.Errorf("dir = %v, want yes", dir)
	}
}

func TestSteamRequiresVolumeForSmallJump(t *testing.T) {
	d := NewSteam()
	base := time.Now().Add(-5 * time.Minute)
	// Flat volume drip, then a 4c move with no volume spike: no steam.
	for i := 0; i < 5; i++ {
		d.Update("T", 0.50, float64(100+i*10), base.Add(time.Duration(i)*time.Minute))
	}
	now := base.Add(5 * time.Minute)
	d.Update("T", 0.54, 150, now)
	if active, _ := d.Detect("T", now); active {
		t.Errorf("a 4c move without a volume spike must not be steam")
	}

	// Same move with 10x the per-minute volume: steam.
	d2 := NewSteam()
	for i := 0; i < 5; i++ {
		d2.Update("T", 0.50, float64(100+i*10), base.Add(time.Duration(i)*time.Minute))
	}
	d2.Update("T", 0.54, 640, now)
	if active, _ := d2.Detect("T", now); !active {
		t.Errorf("a 4c move with a 10x volume spike must be steam")
	}
}

func TestSteamFlushClearsHistory(t *testing.T) {
	d := NewSteam()
	base := time.Now().Add(-2 * time.Minute)
	d.Update("T", 0.50, 100, base)
	d.Update("T", 0.58, 500, base.Add(90*time.Second))
	d.Flush("T")
	if active, _ := d.Detect("T", base.Add(91*time.Second)); active {
		t.Errorf("flushed ticker must have no steam state")
	}
}

func TestFlashCrashTriggersAtFifteenPercentDrop(t *testing.T) {
	d := NewFlashCrash()
	now := time.Now()
	d.Update(strategy.BTCShort, 0.80, now.Add(-5*time.Second))
	d.Update(strategy.BTCShort, 0.65, now)

	ev, active := d.Detect(strategy.BTCShort, now)
	if !active {
		t.Fatalf("0.80 -> 0.65 is an 18.75%% drop, must trigger")
	}
	if ev.DropPct < 0.187 || ev.DropPct > 0.188 {
		t.Errorf("DropPct = %v, want 0.1875", ev.DropPct)
	}
	if ev.PreCrash != 0.80 {
		t.Errorf("PreCrash = %v, want the oldest in-window bid 0.80", ev.PreCrash)
	}
}

func TestFlashCrashIgnoresShallowDrop(t *testing.T) {
	d := NewFlashCrash()
	now := time.Now()
	d.Update(strategy.BTCShort, 0.80, now.Add(-5*time.Second))
	d.Update(strategy.BTCShort, 0.70, now) // 12.5%, under the 15% threshold

	if _, active := d.Detect(strategy.BTCShort, now); active {
		t.Errorf("a 12.5%% drop must not trigger")
	}
}

func TestFlashCrashWindowExcludesOldSamples(t *testing.T) {
	d := NewFlashCrash()
	now := time.Now()
	d.Update(strategy.BTCShort, 0.90, now.Add(-20*time.Second)) // outside the 10s window
	d.Update(strategy.BTCShort, 0.72, now.Add(-5*time.Second))
	d.Update(strategy.BTCShort, 0.70, now)

	if _, active := d.Detect(strategy.BTCShort, now); active {
		t.Errorf("the 0.90 print is older than 10s and must not count as the window max")
	}
}
