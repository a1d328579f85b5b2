// Package journal persists trading activity: an append-only JSONL trade
// journal and a periodic atomic-rename state checkpoint. A
// modernc.org/sqlite side index additionally records each closed trade for
// ad-hoc querying; the JSONL file remains the source of truth.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/position"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// Journal is an append-only JSONL writer for closed trades, fsync'd on
// every write so a crash never loses an already-acknowledged close.
type Journal struct {
	f  *os.File
	mu sync.Mutex

	db *sql.DB
}

// New opens (or creates) the journal file in append mode and, if sqlitePath
// is non-empty, the supplementary query index.
func New(path, sqlitePath string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j := &Journal{f: f}

	if sqlitePath != "" {
		db, err := sql.Open("sqlite", sqlitePath)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening journal sqlite index: %w", err)
		}
		if _, err := db.Exec(tradesSchema); err != nil {
			db.Close()
			f.Close()
			return nil, fmt.Errorf("creating journal sqlite schema: %w", err)
		}
		j.db = db
	}

	return j, nil
}

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
	closed_at        TEXT NOT NULL,
	ticker            TEXT NOT NULL,
	market_class      TEXT NOT NULL,
	side              TEXT NOT NULL,
	strategy_tag      TEXT NOT NULL,
	sizing_method     TEXT NOT NULL,
	size              INTEGER NOT NULL,
	realized_pnl      REAL NOT NULL,
	cumulative_pnl    REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS strategy_stats (
	strategy_tag      TEXT PRIMARY KEY,
	wins              INTEGER NOT NULL,
	losses            INTEGER NOT NULL,
	total_win_amount  REAL NOT NULL,
	total_loss_amount REAL NOT NULL
);
`

// TradeRecord is one closed-trade journal line.
type TradeRecord struct {
	Type             string    `json:"type"`
	Ticker           string    `json:"ticker"`
	MarketClass      string    `json:"market_class"`
	Side             string    `json:"side"`
	Size             int       `json:"size"`
	EntryPrice       string    `json:"entry_price"`
	ExitPrice        string    `json:"exit_price"`
	TheoreticalEntry string    `json:"theoretical_entry"`
	TheoreticalExit  string    `json:"theoretical_exit"`
	EntryFill        FillInfo  `json:"entry_fill"`
	ExitFill         FillInfo  `json:"exit_fill"`
	OpenedAt         time.Time `json:"opened_at"`
	ClosedAt         time.Time `json:"closed_at"`
	StrategyTag      string    `json:"strategy_tag"`
	SizingMethod     string    `json:"sizing_method"`
	ExitReason       string    `json:"exit_reason"`
	RealizedPnL      string    `json:"realized_pnl"`
	CumulativePnL    string    `json:"cumulative_pnl"`
}

// FillInfo mirrors fill.Result for journal egress.
type FillInfo struct {
	VWAP         string `json:"vwap"`
	FilledSize   int    `json:"filled_size"`
	LevelsWalked int    `json:"levels_walked"`
	Slippage     string `json:"slippage"`
	Partial      bool   `json:"partial"`
}

func fillInfo(r fill.Result) FillInfo {
	return FillInfo{
		VWAP:         r.VWAP.String(),
		FilledSize:   r.FilledSize,
		LevelsWalked: r.LevelsWalked,
		Slippage:     r.Slippage.String(),
		Partial:      r.Partial,
	}
}

// NewTradeRecord builds a TradeRecord from a closed trade and the entry/exit
// fill simulation results, plus the running cumulative P&L after this trade.
func NewTradeRecord(ct position.ClosedTrade, entryFill, exitFill fill.Result, cumulativePnL string) TradeRecord {
	return TradeRecord{
		Type:             "trade",
		Ticker:           ct.Ticker,
		MarketClass:      string(ct.MarketClass),
		Side:             string(ct.Side),
		Size:             ct.Size,
		EntryPrice:       ct.EntryPrice.String(),
		ExitPrice:        ct.ExitPrice.String(),
		TheoreticalEntry: ct.TheoreticalEntry.String(),
		TheoreticalExit:  ct.TheoreticalExit.String(),
		EntryFill:        fillInfo(entryFill),
		ExitFill:         fillInfo(exitFill),
		OpenedAt:         ct.OpenedAt,
		ClosedAt:         ct.ClosedAt,
		StrategyTag:      string(ct.StrategyTag),
		SizingMethod:     string(ct.SizingMethod),
		ExitReason:       string(ct.ExitReason),
		RealizedPnL:      ct.PnL.String(),
		CumulativePnL:    cumulativePnL,
	}
}

// LogTrade appends one closed-trade record to the JSONL file and, if a
// sqlite index is open, mirrors it there too.
func (j *Journal) LogTrade(rec TradeRecord) error {
	if err := j.appendLine(rec); err != nil {
		return err
	}
	if j.db == nil {
		return nil
	}
	_, err := j.db.Exec(
		`INSERT INTO trades (closed_at, ticker, market_class, side, strategy_tag, sizing_method, size, realized_pnl, cumulative_pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClosedAt.UTC().Format(time.RFC3339Nano), rec.Ticker, rec.MarketClass, rec.Side,
		rec.StrategyTag, rec.SizingMethod, rec.Size, rec.RealizedPnL, rec.CumulativePnL,
	)
	return err
}

// UpsertStrategyStats mirrors a strategy's running Kelly inputs into the
// sqlite index so an operator can query performance without replaying the
// whole JSONL file.
func (j *Journal) UpsertStrategyStats(tag strategy.StrategyTag, st position.StrategyStats) error {
	if j.db == nil {
		return nil
	}
	_, err := j.db.Exec(
		`INSERT INTO strategy_stats (strategy_tag, wins, losses, total_win_amount, total_loss_amount)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(strategy_tag) DO UPDATE SET wins=excluded.wins, losses=excluded.losses,
		   total_win_amount=excluded.total_win_amount, total_loss_amount=excluded.total_loss_amount`,
		string(tag), st.Wins, st.Losses, mustFloat(st.TotalWinAmount.String()), mustFloat(st.TotalLossAmount.String()),
	)
	return err
}

func mustFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%g", &f)
	return f
}

func (j *Journal) appendLine(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err = j.f.Write(data); err != nil {
		return err
	}
	return j.f.Sync()
}

// SessionStart records the session's opening balance and mode.
type SessionStart struct {
	Type         string    `json:"type"`
	Time         time.Time `json:"time"`
	Env          string    `json:"env"`
	StartingCash string    `json:"starting_cash"`
}

// LogSessionStart appends a session_start record.
func (j *Journal) LogSessionStart(env, startingCash string) error {
	return j.appendLine(SessionStart{Type: "session_start", Time: time.Now().UTC(), Env: env, StartingCash: startingCash})
}

// Close flushes and closes the underlying file and sqlite handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db != nil {
		j.db.Close()
	}
	return j.f.Close()
}

// EnsureDir creates the parent directory of path if it doesn't exist, used
// by both the journal and checkpoint writers before their first open.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
