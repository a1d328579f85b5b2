package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sdibella/kalshi-btc-engine/internal/position"
)

// Signal is a recent gate/strategy decision kept for the checkpoint's
// recent-signals operator surface.
type Signal struct {
	At          time.Time `json:"at"`
	Ticker      string    `json:"ticker"`
	MarketClass string    `json:"market_class"`
	StrategyTag string    `json:"strategy_tag"`
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason"`
}

// PositionSummary is the checkpoint's view of one open position.
type PositionSummary struct {
	ID          int       `json:"id"`
	Ticker      string    `json:"ticker"`
	MarketClass string    `json:"market_class"`
	Side        string    `json:"side"`
	StrategyTag string    `json:"strategy_tag"`
	Size        int       `json:"size"`
	EntryPrice  string    `json:"entry_price"`
	OpenedAt    time.Time `json:"opened_at"`
}

// StrategyStatSummary is the checkpoint's view of one strategy's running
// Kelly input.
type StrategyStatSummary struct {
	Wins            int    `json:"wins"`
	Losses          int    `json:"losses"`
	TotalWinAmount  string `json:"total_win_amount"`
	TotalLossAmount string `json:"total_loss_amount"`
}

// State is the full engine state snapshot the checkpoint file carries.
type State struct {
	Time           time.Time                      `json:"time"`
	Config         map[string]any                 `json:"config"`
	CashBalance    string                         `json:"cash_balance"`
	InitialBalance string                         `json:"initial_balance"`
	RealizedPnL    string                         `json:"realized_pnl"`
	SessionWins    int                            `json:"session_wins"`
	SessionLosses  int                            `json:"session_losses"`
	SessionTotal   int                            `json:"session_total"`
	OpenPositions  []PositionSummary              `json:"open_positions"`
	RecentTrades   []TradeRecord                  `json:"recent_trades"`
	StrategyStats  map[string]StrategyStatSummary `json:"strategy_stats"`
	RecentSignals  []Signal                       `json:"recent_signals"`
}

// BuildPositionSummaries converts live positions into their checkpoint view.
func BuildPositionSummaries(positions []position.Position) []PositionSummary {
	out := make([]PositionSummary, len(positions))
	for i, p := range positions {
		out[i] = PositionSummary{
			ID: p.ID, Ticker: p.Ticker, MarketClass: string(p.MarketClass),
			Side: string(p.Side), StrategyTag: string(p.StrategyTag),
			Size: p.Size, EntryPrice: p.EntryPrice.String(), OpenedAt: p.OpenedAt,
		}
	}
	return out
}

// Checkpointer snapshots engine state to its target path atomically (write
// temp, fsync, rename) on a periodic cadence and on demand at shutdown.
type Checkpointer struct {
	path   string
	period time.Duration

	mu       sync.Mutex
	snapshot func() State
}

// NewCheckpointer returns a checkpointer writing to path every period,
// pulling its snapshot from snapshotFn on each write.
func NewCheckpointer(path string, period time.Duration, snapshotFn func() State) *Checkpointer {
	return &Checkpointer{path: path, period: period, snapshot: snapshotFn}
}

// Run writes a checkpoint every c.period until ctx is cancelled, then writes
// one final checkpoint before returning so a graceful shutdown never loses
// state.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.WriteNow(); err != nil {
				log.Error().Err(err).Msg("final checkpoint write failed")
			}
			return
		case <-ticker.C:
			if err := c.WriteNow(); err != nil {
				log.Warn().Err(err).Msg("checkpoint write failed")
			}
		}
	}
}

// WriteNow writes one checkpoint immediately, atomically: a temp file in
// the same directory, fsync'd, then renamed over the target path.
func (c *Checkpointer) WriteNow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.snapshot()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing checkpoint temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}
	return nil
}
