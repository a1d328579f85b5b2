package kalshi

import (
	"testing"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

func TestNearestATMByEarliestClosePrefersTightSpreadNearFifty(t *testing.T) {
	markets := []Market{
		{Ticker: "A", CloseTime: "2026-01-01T00:00:00Z", YesBid: 70, YesAsk: 72}, // mid .71, tight spread
		{Ticker: "B", CloseTime: "2026-01-01T00:00:00Z", YesBid: 48, YesAsk: 52}, // mid .50, tight spread
		{Ticker: "C", CloseTime: "2026-01-01T00:00:00Z", YesBid: 40, YesAsk: 60}, // mid .50 but spread too wide
		{Ticker: "D", CloseTime: "2026-01-02T00:00:00Z", YesBid: 49, YesAsk: 51}, // later close, excluded
	}

	best := nearestATMByEarliestClose(markets)
	if best == nil {
		t.Fatalf("expected a market to be selected")
	}
	if best.Ticker != "B" {
		t.Errorf("Ticker = %v, want B (closest to .50 with spread <= .10)", best.Ticker)
	}
}

func TestNearestATMByEarliestCloseSkipsWideSpreadGroup(t *testing.T) {
	markets := []Market{
		{Ticker: "wide1", CloseTime: "2026-01-01T00:00:00Z", YesBid: 10, YesAsk: 90},
		{Ticker: "tight1", CloseTime: "2026-01-02T00:00:00Z", YesBid: 48, YesAsk: 52},
	}

	best := nearestATMByEarliestClose(markets)
	if best == nil || best.Ticker != "tight1" {
		t.Errorf("expected the poller to fall through to the next settlement group when the first has no tight-spread market")
	}
}

func TestKVolatilityDefaultsUnderMinSamples(t *testing.T) {
	p := NewPoller(nil, nil, 0, []ClassConfig{{Class: strategy.BTCShort, Series: "KXBTC15M"}})
	if got := p.KVolatility(strategy.BTCShort, 60); got != 0.05 {
		t.Errorf("KVolatility with no history = %v, want the 0.05 default", got)
	}
}

func TestKVolatilityComputesStdDev(t *testing.T) {
	p := NewPoller(nil, nil, 0, []ClassConfig{{Class: strategy.BTCShort, Series: "KXBTC15M"}})
	for _, bid := range []int{50, 50, 50, 50, 50} {
		p.recordFocus(strategy.BTCShort, strategy.BookTop{Ticker: "T", YesBid: centsToFraction(bid)})
	}
	if got := p.KVolatility(strategy.BTCShort, 60); got != 0 {
		t.Errorf("KVolatility of a flat series = %v, want 0", got)
	}

	p.recordFocus(strategy.BTCShort, strategy.BookTop{Ticker: "T", YesBid: centsToFraction(60)})
	if got := p.KVolatility(strategy.BTCShort, 60); got <= 0 {
		t.Errorf("KVolatility after a 10c move = %v, want positive", got)
	}
}

func TestCentsToFraction(t *testing.T) {
	f, _ := centsToFraction(55).Float64()
	if f != 0.55 {
		t.Errorf("centsToFraction(55) = %v, want 0.55", f)
	}
}
