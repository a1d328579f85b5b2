package crossvenue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

func TestParseFirstOutcomePriceArray(t *testing.T) {
	raw := json.RawMessage(`["0.62", "0.38"]`)
	if got := parseFirstOutcomePrice(raw); got != 0.62 {
		t.Errorf("parseFirstOutcomePrice(array) = %v, want 0.62", got)
	}
}

func TestParseFirstOutcomePriceEncodedString(t *testing.T) {
	raw := json.RawMessage(`"[\"0.55\", \"0.45\"]"`)
	if got := parseFirstOutcomePrice(raw); got != 0.55 {
		t.Errorf("parseFirstOutcomePrice(encoded string) = %v, want 0.55", got)
	}
}

func TestDetectDivergenceYesSignal(t *testing.T) {
	f := NewFeed(0)
	now := time.Now()
	f.markets["BTC"] = map[float64]marketEntry{100000: {yesPrice: 0.60, lastUpdated: now}}
	f.history["BTC"] = []strikeSnapshot{
		{at: now.Add(-time.Minute), prices: map[float64]float64{100000: 0.55}},
		{at: now, prices: map[float64]float64{100000: 0.60}},
	}

	div, ok := f.DetectDivergence("BTC", 0.52, 100000)
	if !ok {
		t.Fatalf("expected a divergence signal")
	}
	if div.Direction != strategy.YES {
		t.Errorf("Direction = %v, want yes", div.Direction)
	}
	if div.Confidence <= 0 || div.Confidence > 1 {
		t.Errorf("Confidence = %v, out of [0,1]", div.Confidence)
	}
}

func TestDetectDivergenceRejectsStrikeMismatch(t *testing.T) {
	f := NewFeed(0)
	now := time.Now()
	f.markets["BTC"] = map[float64]marketEntry{50000: {yesPrice: 0.60, lastUpdated: now}}
	f.history["BTC"] = []strikeSnapshot{
		{at: now.Add(-time.Minute), prices: map[float64]float64{50000: 0.55}},
		{at: now, prices: map[float64]float64{50000: 0.60}},
	}

	if _, ok := f.DetectDivergence("BTC", 0.52, 100000); ok {
		t.Errorf("expected strike mismatch beyond 5%% to reject the signal")
	}
}

func TestDetectDivergenceRequiresMinimumMomentum(t *testing.T) {
	f := NewFeed(0)
	now := time.Now()
	f.markets["BTC"] = map[float64]marketEntry{100000: {yesPrice: 0.60, lastUpdated: now}}
	f.history["BTC"] = []strikeSnapshot{
		{at: now.Add(-time.Minute), prices: map[float64]float64{100000: 0.599}},
		{at: now, prices: map[float64]float64{100000: 0.60}},
	}

	if _, ok := f.DetectDivergence("BTC", 0.52, 100000); ok {
		t.Errorf("expected sub-threshold PM momentum to reject the signal")
	}
}
