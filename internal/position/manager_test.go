package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func intentFor(class strategy.MarketClass, side strategy.Side, tag strategy.StrategyTag) strategy.Intent {
	return strategy.Intent{
		Ticker:      "TICKER-1",
		MarketClass: class,
		Side:        side,
		LimitPrice:  dec(0.50),
		StrategyTag: tag,
		Confidence:  1.0,
	}
}

func TestOpenDebitsCashAndTracksPosition(t *testing.T) {
	m := NewManager(dec(1000), 10)
	pos, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagSteam), 10, strategy.SizingFixed, dec(0.50), dec(0.49), nil, time.Now())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if pos.Size != 10 {
		t.Errorf("Size = %d, want fixed base 10 before warmup", pos.Size)
	}
	wantCash := dec(1000).Sub(dec(0.50).Mul(decimal.NewFromInt(10)))
	if !m.Cash().Equal(wantCash) {
		t.Errorf("Cash = %v, want %v", m.Cash(), wantCash)
	}
}

func TestOpenRejectsWhenCashInsufficient(t *testing.T) {
	m := NewManager(dec(1), 10)
	_, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagSteam), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, time.Now())
	if err == nil {
		t.Fatal("expected an error when cost exceeds cash")
	}
}

func TestTickClosesOnHardStop(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	pos, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = pos

	top := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.40), YesAsk: dec(0.41)}
	closed := m.Tick(strategy.BTCShort, TickInput{Top: top, Now: now.Add(1 * time.Second)})
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade on a $0.10 drop past the $0.08 default stop, got %d", len(closed))
	}
	if closed[0].ExitReason != strategy.ExitHardStop {
		t.Errorf("ExitReason = %v, want hard_stop", closed[0].ExitReason)
	}
	if len(m.OpenPositions()) != 0 {
		t.Errorf("expected no open positions remaining")
	}
}

func TestTickClosesOnTrailingStopAfterPullback(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	_, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Run up to peak profit of $0.05, arming the trailing stop.
	peakTop := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.55), YesAsk: dec(0.56)}
	closed := m.Tick(strategy.BTCShort, TickInput{Top: peakTop, Now: now.Add(1 * time.Second)})
	if len(closed) != 0 {
		t.Fatalf("should not close while still at peak profit, got %d closes", len(closed))
	}

	// Pull back by $0.03 from peak: should trigger the trailing stop.
	pullbackTop := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.52), YesAsk: dec(0.53)}
	closed = m.Tick(strategy.BTCShort, TickInput{Top: pullbackTop, Now: now.Add(2 * time.Second)})
	if len(closed) != 1 {
		t.Fatalf("expected the trailing stop to fire on pullback, got %d closes", len(closed))
	}
	if closed[0].ExitReason != strategy.ExitTrailingStop {
		t.Errorf("ExitReason = %v, want trailing_stop", closed[0].ExitReason)
	}
}

func TestTickClosesOnTimeout(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	_, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagSettlementRush), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	top := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.50), YesAsk: dec(0.51)}
	closed := m.Tick(strategy.BTCShort, TickInput{Top: top, Now: now.Add(61 * time.Second)})
	if len(closed) != 1 || closed[0].ExitReason != strategy.ExitTimeout {
		t.Fatalf("expected settlement-rush's 60s timeout to fire, got %+v", closed)
	}
}

func TestFlashExitOnRecoveryTarget(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	flash := &FlashMeta{RecoveryTarget: dec(0.60), PreCrashPrice: dec(0.65), UnderlyingAtEntry: dec(50000)}
	_, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagFlash), 10, strategy.SizingFixed, dec(0.45), dec(0.45), flash, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	top := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.61), YesAsk: dec(0.62)}
	closed := m.Tick(strategy.BTCShort, TickInput{Top: top, Now: now.Add(5 * time.Second)})
	if len(closed) != 1 || closed[0].ExitReason != strategy.ExitFlashRecovery {
		t.Fatalf("expected flash recovery exit, got %+v", closed)
	}
}

func TestSettleOnTransitionClosesAllPositionsInClass(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	_, _ = m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)
	_, _ = m.Open(intentFor(strategy.BTCDaily, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)

	closed := m.SettleOnTransition(strategy.BTCShort, dec(0.55), now.Add(1*time.Second))
	if len(closed) != 1 {
		t.Fatalf("expected only the btc_short position to settle, got %d", len(closed))
	}
	if len(m.OpenPositions()) != 1 {
		t.Errorf("expected the btc_daily position to remain open")
	}
}

func TestSettleOnTransitionUsesSideFrame(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	yes, _ := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)
	noIntent := intentFor(strategy.BTCShort, strategy.NO, strategy.TagSteam)
	no, _ := m.Open(noIntent, 10, strategy.SizingFixed, dec(0.40), dec(0.40), nil, now)

	closed := m.SettleOnTransition(strategy.BTCShort, dec(0.61), now.Add(1*time.Second))
	if len(closed) != 2 {
		t.Fatalf("expected both positions to settle, got %d", len(closed))
	}

	for _, ct := range closed {
		switch ct.ID {
		case yes.ID:
			if !ct.ExitPrice.Equal(dec(0.61)) {
				t.Errorf("YES exit = %v, want fair value 0.61", ct.ExitPrice)
			}
			want := dec(0.61).Sub(dec(0.50)).Mul(decimal.NewFromInt(10))
			if !ct.PnL.Equal(want) {
				t.Errorf("YES PnL = %v, want %v", ct.PnL, want)
			}
		case no.ID:
			// The NO holder settles at the complement of the YES fair value.
			if !ct.ExitPrice.Equal(decimal.NewFromInt(1).Sub(dec(0.61))) {
				t.Errorf("NO exit = %v, want 0.39", ct.ExitPrice)
			}
		}
	}
}

func TestTickUsesExitPricerForCash(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	_, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	cashAfterOpen := m.Cash()

	// Quote says 0.40, but walking depth only achieves 0.39.
	pricer := func(ticker string, side strategy.Side, size int, quote decimal.Decimal) (decimal.Decimal, fill.Result) {
		px := dec(0.39)
		return px, fill.Result{VWAP: px, FilledSize: size, Slippage: px.Sub(quote)}
	}

	top := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.40), YesAsk: dec(0.41)}
	closed := m.Tick(strategy.BTCShort, TickInput{Top: top, Now: now.Add(1 * time.Second), PriceExit: pricer})
	if len(closed) != 1 {
		t.Fatalf("expected the hard stop to close the position, got %d", len(closed))
	}

	ct := closed[0]
	if !ct.ExitPrice.Equal(dec(0.39)) {
		t.Errorf("ExitPrice = %v, want post-slippage 0.39", ct.ExitPrice)
	}
	if !ct.TheoreticalExit.Equal(dec(0.40)) {
		t.Errorf("TheoreticalExit = %v, want the 0.40 quote", ct.TheoreticalExit)
	}
	if ct.ExitFill == nil || ct.ExitFill.FilledSize != 10 {
		t.Errorf("ExitFill = %+v, want the pricer's fill detail", ct.ExitFill)
	}

	wantCash := cashAfterOpen.Add(dec(0.39).Mul(decimal.NewFromInt(10)))
	if !m.Cash().Equal(wantCash) {
		t.Errorf("Cash = %v, want %v (credited at the post-slippage exit)", m.Cash(), wantCash)
	}
}

func TestFlashTimeoutAtTwoMinutes(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	flash := &FlashMeta{RecoveryTarget: dec(0.90), PreCrashPrice: dec(0.75)}
	_, err := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagFlash), 10, strategy.SizingFixed, dec(0.62), dec(0.62), flash, now)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	top := strategy.BookTop{Ticker: "TICKER-1", YesBid: dec(0.62), YesAsk: dec(0.63)}
	if closed := m.Tick(strategy.BTCShort, TickInput{Top: top, Now: now.Add(119 * time.Second)}); len(closed) != 0 {
		t.Fatalf("flash must still be held at 119s, got %d closes", len(closed))
	}
	closed := m.Tick(strategy.BTCShort, TickInput{Top: top, Now: now.Add(121 * time.Second)})
	if len(closed) != 1 || closed[0].ExitReason != strategy.ExitTimeout {
		t.Fatalf("expected the flash 120s timeout, got %+v", closed)
	}
}

func TestCooldownsReflectLossStreak(t *testing.T) {
	m := NewManager(dec(1000), 10)
	now := time.Now()
	pos, _ := m.Open(intentFor(strategy.BTCShort, strategy.YES, strategy.TagDelayArb), 10, strategy.SizingFixed, dec(0.50), dec(0.50), nil, now)

	_, err := m.Close(pos.ID, dec(0.40), dec(0.40), strategy.ExitHardStop, nil, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	cd := m.Cooldowns()
	if cd.LossStreak[strategy.BTCShort] != 1 {
		t.Errorf("LossStreak = %d, want 1", cd.LossStreak[strategy.BTCShort])
	}
	if cd.LastWinByMarket[strategy.BTCShort] {
		t.Errorf("LastWinByMarket should be false after a loss")
	}
}
