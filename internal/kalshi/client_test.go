package kalshi

import (
	"testing"
	"time"
)

func TestStrikePricePrefersExplicitFields(t *testing.T) {
	m := Market{CapStrike: 95000, RulesPrimary: "is at least 1, then"}
	if got := m.StrikePrice(); got != 95000 {
		t.Errorf("StrikePrice = %v, want the cap strike 95000", got)
	}

	m = Market{FloorStrike: 3400.5}
	if got := m.StrikePrice(); got != 3400.5 {
		t.Errorf("StrikePrice = %v, want the floor strike 3400.5", got)
	}
}

func TestStrikePriceParsesRulesText(t *testing.T) {
	m := Market{RulesPrimary: "If the price is at least 70382.44, then the market resolves to Yes."}
	if got := m.StrikePrice(); got != 70382.44 {
		t.Errorf("StrikePrice = %v, want 70382.44 from rules text", got)
	}

	m = Market{RulesPrimary: "no strike anywhere in here"}
	if got := m.StrikePrice(); got != 0 {
		t.Errorf("StrikePrice = %v, want 0 when nothing parses", got)
	}
}

func TestExpirationParsedPrefersExpectedTime(t *testing.T) {
	m := Market{
		ExpirationTime:         "2026-08-01T13:00:00Z",
		ExpectedExpirationTime: "2026-08-01T12:45:00Z",
	}
	got, err := m.ExpirationParsed()
	if err != nil {
		t.Fatalf("ExpirationParsed failed: %v", err)
	}
	want, _ := time.Parse(time.RFC3339, "2026-08-01T12:45:00Z")
	if !got.Equal(want) {
		t.Errorf("ExpirationParsed = %v, want the expected expiration %v", got, want)
	}
}
