package exchange

import (
	"testing"
	"time"
)

func TestAggregatorWeightedConsensus(t *testing.T) {
	agg := NewAggregator(map[string]float64{"binance": 0.5, "okx": 0.3})

	base := time.Now()
	agg.OnPrice("BTC", "binance", 100, base)
	agg.OnPrice("BTC", "okx", 102, base.Add(time.Millisecond))

	price, ok := agg.Latest("BTC")
	if !ok {
		t.Fatalf("expected a latest price")
	}
	want := (0.5*100 + 0.3*102) / 0.8
	if diff := price - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Latest() = %v, want %v", price, want)
	}
}

func TestAggregatorUnknownExchangeDefaultWeight(t *testing.T) {
	agg := NewAggregator(map[string]float64{"binance": 1.0})
	base := time.Now()
	agg.OnPrice("BTC", "binance", 100, base)
	agg.OnPrice("BTC", "someNewExchange", 200, base.Add(time.Millisecond))

	price, ok := agg.Latest("BTC")
	if !ok {
		t.Fatalf("expected a latest price")
	}
	want := (1.0*100 + 0.1*200) / 1.1
	if diff := price - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Latest() = %v, want %v", price, want)
	}
}

func TestAggregatorMomentum(t *testing.T) {
	agg := NewAggregator(map[string]float64{"binance": 1.0})
	base := time.Now().Add(-time.Minute)
	agg.OnPrice("BTC", "binance", 100, base)
	agg.OnPrice("BTC", "binance", 110, base.Add(30*time.Second))

	mom, ok := agg.Momentum("BTC", time.Minute)
	if !ok {
		t.Fatalf("expected momentum")
	}
	if mom <= 0 {
		t.Errorf("Momentum() = %v, want positive", mom)
	}
}

func TestAggregatorVolatilityDefaultsUnderMinSamples(t *testing.T) {
	agg := NewAggregator(nil)
	agg.OnPrice("BTC", "binance", 100, time.Now())

	if v := agg.Volatility("BTC", time.Minute); v != 0.01 {
		t.Errorf("Volatility() = %v, want 0.01 default", v)
	}
}

func TestAggregatorClusterSignalRequiresThreeExchanges(t *testing.T) {
	agg := NewAggregator(nil)
	base := time.Now().Add(-time.Minute)
	for _, ex := range []string{"binance", "okx"} {
		agg.OnPrice("BTC", ex, 100, base)
	}
	for _, ex := range []string{"binance", "okx"} {
		agg.OnPrice("BTC", ex, 101, base.Add(30*time.Second))
	}

	if _, _, _, ok := agg.ClusterSignal("BTC", time.Minute); ok {
		t.Errorf("ClusterSignal() should require >=3 agreeing exchanges")
	}

	agg.OnPrice("BTC", "bybit", 100, base)
	agg.OnPrice("BTC", "bybit", 101, base.Add(30*time.Second))

	dir, _, agreeing, ok := agg.ClusterSignal("BTC", time.Minute)
	if !ok {
		t.Fatalf("expected cluster signal with 3 agreeing exchanges")
	}
	if agreeing != 3 {
		t.Errorf("agreeing = %d, want 3", agreeing)
	}
	if dir != "yes" {
		t.Errorf("dir = %v, want yes", dir)
	}
}
