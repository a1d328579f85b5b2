// Command report prints a post-session performance summary from the trade
// journal: overall P&L and win rate, then breakdowns by strategy tag,
// market class, and exit reason.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sdibella/kalshi-btc-engine/internal/report"
)

func main() {
	journalPath := flag.String("journal", "./journal.jsonl", "path to the trade journal")
	flag.Parse()

	trades, startingCash, err := report.Load(*journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		fmt.Println("no trades in journal")
		return
	}

	a := report.Build(trades, startingCash)
	s := a.Summary

	fmt.Printf("session: %d trades, %d wins / %d losses (%.1f%%)\n",
		s.Trades, s.Wins, s.Losses, s.WinRate*100)
	fmt.Printf("total pnl: $%s   avg win: $%s   avg loss: $%s   expectancy: $%s/trade\n",
		s.TotalPnL.StringFixed(2), s.AvgWin.StringFixed(2), s.AvgLoss.StringFixed(2), s.Expectancy.StringFixed(2))
	fmt.Printf("max drawdown: $%s", s.MaxDrawdown.StringFixed(2))
	if s.StartingCash != "" {
		fmt.Printf("   starting cash: $%s", s.StartingCash)
	}
	fmt.Println()

	printBuckets("by strategy", a.ByStrategy)
	printBuckets("by market class", a.ByClass)
	printBuckets("by exit reason", a.ByExitReason)
}

func printBuckets(title string, buckets []report.Bucket) {
	fmt.Printf("\n%s:\n", title)
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  \ttrades\twins\twin%\tpnl")
	for _, b := range buckets {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%.1f%%\t$%s\n",
			b.Key, b.Trades, b.Wins, b.WinRate*100, b.PnL.StringFixed(2))
	}
	w.Flush()
}
