package sentiment

import (
	"encoding/json"
	"testing"
)

func TestParseLongShortEntryArrayShape(t *testing.T) {
	raw := json.RawMessage(`["1700000000000", "1.234"]`)
	if got := parseLongShortEntry(raw); got != 1.234 {
		t.Errorf("parseLongShortEntry(array) = %v, want 1.234", got)
	}
}

func TestParseLongShortEntryObjectShape(t *testing.T) {
	raw := json.RawMessage(`{"longShortAccountRatio": 0.87}`)
	if got := parseLongShortEntry(raw); got != 0.87 {
		t.Errorf("parseLongShortEntry(object) = %v, want 0.87", got)
	}
}

func TestParseLongShortEntryFallsBackToNeutral(t *testing.T) {
	raw := json.RawMessage(`{}`)
	if got := parseLongShortEntry(raw); got != 1.0 {
		t.Errorf("parseLongShortEntry(empty) = %v, want neutral 1.0", got)
	}
}

func TestSnapshotZeroValueIsInvalid(t *testing.T) {
	f := NewFeed(0)
	s := f.Get("BTC")
	if s.Valid {
		t.Errorf("expected an unseen asset's snapshot to be invalid")
	}
}
