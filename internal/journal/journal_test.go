package journal

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/position"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

func sampleTrade(t *testing.T) position.ClosedTrade {
	t.Helper()
	now := time.Now().UTC()
	return position.ClosedTrade{
		Position: position.Position{
			ID:               1,
			Ticker:           "KXBTC15M-TEST-B95000",
			MarketClass:      strategy.BTCShort,
			Side:             strategy.YES,
			StrategyTag:      strategy.TagDelayArb,
			Size:             10,
			EntryPrice:       decimal.NewFromFloat(0.42),
			TheoreticalEntry: decimal.NewFromFloat(0.42),
			SizingMethod:     strategy.SizingFixed,
			OpenedAt:         now.Add(-time.Minute),
		},
		ExitPrice:       decimal.NewFromFloat(0.45),
		TheoreticalExit: decimal.NewFromFloat(0.45),
		PnL:             decimal.NewFromFloat(0.30),
		ClosedAt:        now,
		ExitReason:      strategy.ExitTrailingStop,
	}
}

func TestJournalRoundTripsTradeLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")

	j, err := New(path, "")
	require.NoError(t, err)

	ct := sampleTrade(t)
	entryFill := fill.Result{VWAP: ct.EntryPrice, FilledSize: ct.Size}
	exitFill := fill.Result{VWAP: ct.ExitPrice, FilledSize: ct.Size, Slippage: decimal.Zero}
	require.NoError(t, j.LogTrade(NewTradeRecord(ct, entryFill, exitFill, "0.30")))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected one journal line")

	var rec TradeRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "trade", rec.Type)
	assert.Equal(t, ct.Ticker, rec.Ticker)
	assert.Equal(t, "0.45", rec.ExitPrice)
	assert.Equal(t, "0.3", rec.RealizedPnL)
	assert.Equal(t, string(strategy.ExitTrailingStop), rec.ExitReason)
	assert.False(t, scanner.Scan(), "each close must appear exactly once")
}

func TestJournalSQLiteIndexMirrorsTrades(t *testing.T) {
	dir := t.TempDir()
	j, err := New(filepath.Join(dir, "journal.jsonl"), filepath.Join(dir, "journal.db"))
	require.NoError(t, err)

	ct := sampleTrade(t)
	fr := fill.Result{VWAP: ct.EntryPrice, FilledSize: ct.Size}
	require.NoError(t, j.LogTrade(NewTradeRecord(ct, fr, fr, "0.30")))
	require.NoError(t, j.UpsertStrategyStats(ct.StrategyTag, position.StrategyStats{
		Wins: 1, TotalWinAmount: ct.PnL, TradeCount: 1,
	}))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite", filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM trades").Scan(&count))
	assert.Equal(t, 1, count)

	var wins int
	require.NoError(t, db.QueryRow("SELECT wins FROM strategy_stats WHERE strategy_tag = ?", string(ct.StrategyTag)).Scan(&wins))
	assert.Equal(t, 1, wins)
}

func TestCheckpointerWritesAtomicallyAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	state := State{
		Time:           time.Now().UTC(),
		CashBalance:    "995.80",
		InitialBalance: "1000",
		RealizedPnL:    "-4.2",
		SessionWins:    3,
		SessionLosses:  2,
		SessionTotal:   5,
	}
	c := NewCheckpointer(path, time.Hour, func() State { return state })
	require.NoError(t, c.WriteNow())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, state.CashBalance, got.CashBalance)
	assert.Equal(t, state.SessionWins, got.SessionWins)
	assert.Equal(t, state.RealizedPnL, got.RealizedPnL)

	// A second write must replace, not append: exactly one temp-free file.
	state.SessionTotal = 6
	require.NoError(t, c.WriteNow())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not survive the rename")

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 6, got.SessionTotal)
}
