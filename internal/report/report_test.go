package report

import (
	"testing"

	"github.com/sdibella/kalshi-btc-engine/internal/journal"
)

func trade(tag, class, reason, pnl string) journal.TradeRecord {
	return journal.TradeRecord{
		Type:        "trade",
		Ticker:      "T",
		MarketClass: class,
		StrategyTag: tag,
		ExitReason:  reason,
		RealizedPnL: pnl,
	}
}

func TestBuildSummaryCounts(t *testing.T) {
	trades := []journal.TradeRecord{
		trade("steam", "btc_short", "trailing_stop", "0.30"),
		trade("steam", "btc_short", "hard_stop", "-0.50"),
		trade("delay_arb", "eth_short", "timeout", "0.10"),
	}

	a := Build(trades, "1000")
	if a.Summary.Trades != 3 || a.Summary.Wins != 2 || a.Summary.Losses != 1 {
		t.Fatalf("summary counts = %+v, want 3 trades / 2 wins / 1 loss", a.Summary)
	}
	if a.Summary.TotalPnL.StringFixed(2) != "-0.10" {
		t.Errorf("TotalPnL = %s, want -0.10", a.Summary.TotalPnL)
	}
}

func TestBuildDrawdownTracksEquityTrough(t *testing.T) {
	trades := []journal.TradeRecord{
		trade("steam", "btc_short", "target", "1.00"),
		trade("steam", "btc_short", "hard_stop", "-0.60"),
		trade("steam", "btc_short", "hard_stop", "-0.30"),
		trade("steam", "btc_short", "target", "2.00"),
	}

	a := Build(trades, "")
	if a.Summary.MaxDrawdown.StringFixed(2) != "0.90" {
		t.Errorf("MaxDrawdown = %s, want 0.90 (peak 1.00 to trough 0.10)", a.Summary.MaxDrawdown)
	}
}

func TestBuildGroupsByStrategy(t *testing.T) {
	trades := []journal.TradeRecord{
		trade("steam", "btc_short", "target", "0.50"),
		trade("flash", "btc_short", "flash_recovery", "1.10"),
		trade("steam", "btc_short", "hard_stop", "-0.20"),
	}

	a := Build(trades, "")
	if len(a.ByStrategy) != 2 {
		t.Fatalf("expected 2 strategy buckets, got %d", len(a.ByStrategy))
	}
	// Sorted by pnl descending: flash (+1.10) first.
	if a.ByStrategy[0].Key != "flash" {
		t.Errorf("top bucket = %s, want flash", a.ByStrategy[0].Key)
	}
	if a.ByStrategy[1].Trades != 2 || a.ByStrategy[1].Wins != 1 {
		t.Errorf("steam bucket = %+v, want 2 trades / 1 win", a.ByStrategy[1])
	}
}

func TestBuildSkipsUnparsablePnL(t *testing.T) {
	trades := []journal.TradeRecord{
		trade("steam", "btc_short", "target", "not-a-number"),
		trade("steam", "btc_short", "target", "0.25"),
	}
	a := Build(trades, "")
	if a.Summary.Trades != 1 {
		t.Errorf("Trades = %d, want 1 (bad line skipped)", a.Summary.Trades)
	}
}
