// Package report aggregates a session's trade journal into the summary an
// operator actually asks for after a run: overall P&L and win rate, plus
// breakdowns by strategy, market class, and exit reason, and the equity
// drawdown over the session.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc-engine/internal/journal"
)

// Summary is the session-level aggregate over every journaled trade.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPnL     decimal.Decimal
	AvgWin       decimal.Decimal
	AvgLoss      decimal.Decimal
	Expectancy   decimal.Decimal
	MaxDrawdown  decimal.Decimal
	StartingCash string
}

// Bucket is one row of a grouped breakdown (by strategy, class, or exit
// reason).
type Bucket struct {
	Key     string
	Trades  int
	Wins    int
	WinRate float64
	PnL     decimal.Decimal
}

// Analysis is everything Build derives from one journal file.
type Analysis struct {
	Summary      Summary
	ByStrategy   []Bucket
	ByClass      []Bucket
	ByExitReason []Bucket
}

// Load reads a JSONL journal and returns its trade records plus the
// starting cash from the session_start line, skipping lines of any other
// type. A malformed line is skipped rather than aborting the whole report.
func Load(path string) ([]journal.TradeRecord, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	var trades []journal.TradeRecord
	var startingCash string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			continue
		}

		switch head.Type {
		case "trade":
			var tr journal.TradeRecord
			if err := json.Unmarshal(line, &tr); err == nil {
				trades = append(trades, tr)
			}
		case "session_start":
			var ss journal.SessionStart
			if err := json.Unmarshal(line, &ss); err == nil {
				startingCash = ss.StartingCash
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("reading journal: %w", err)
	}
	return trades, startingCash, nil
}

// Build computes the full analysis over a trade list in journal order.
func Build(trades []journal.TradeRecord, startingCash string) Analysis {
	s := Summary{StartingCash: startingCash}

	byStrategy := make(map[string]*Bucket)
	byClass := make(map[string]*Bucket)
	byReason := make(map[string]*Bucket)

	var sumWins, sumLosses decimal.Decimal
	var equity, peak, maxDD decimal.Decimal

	for _, tr := range trades {
		pnl, err := decimal.NewFromString(tr.RealizedPnL)
		if err != nil {
			continue
		}

		s.Trades++
		s.TotalPnL = s.TotalPnL.Add(pnl)
		won := pnl.IsPositive()
		if won {
			s.Wins++
			sumWins = sumWins.Add(pnl)
		} else {
			s.Losses++
			sumLosses = sumLosses.Add(pnl)
		}

		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDD) {
			maxDD = dd
		}

		accumulate(byStrategy, tr.StrategyTag, won, pnl)
		accumulate(byClass, tr.MarketClass, won, pnl)
		accumulate(byReason, tr.ExitReason, won, pnl)
	}

	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.Wins > 0 {
		s.AvgWin = sumWins.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = sumLosses.Div(decimal.NewFromInt(int64(s.Losses))).Abs()
	}
	if s.Trades > 0 {
		// Expectancy per trade: win_rate*avg_win - loss_rate*avg_loss.
		wr := decimal.NewFromFloat(s.WinRate)
		lr := decimal.NewFromFloat(1 - s.WinRate)
		s.Expectancy = wr.Mul(s.AvgWin).Sub(lr.Mul(s.AvgLoss))
	}
	s.MaxDrawdown = maxDD

	return Analysis{
		Summary:      s,
		ByStrategy:   sortedBuckets(byStrategy),
		ByClass:      sortedBuckets(byClass),
		ByExitReason: sortedBuckets(byReason),
	}
}

func accumulate(m map[string]*Bucket, key string, won bool, pnl decimal.Decimal) {
	b := m[key]
	if b == nil {
		b = &Bucket{Key: key}
		m[key] = b
	}
	b.Trades++
	if won {
		b.Wins++
	}
	b.PnL = b.PnL.Add(pnl)
	b.WinRate = float64(b.Wins) / float64(b.Trades)
}

// sortedBuckets orders rows by P&L descending so the best-performing group
// reads first.
func sortedBuckets(m map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PnL.GreaterThan(out[j].PnL) })
	return out
}
