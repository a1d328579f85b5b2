package exchange

import (
	"testing"
)

func TestCandlesFromRows(t *testing.T) {
	rows := [][]float64{
		{1700000060, 99, 101, 100, 100.5, 12},
		{1700000000, 98, 100, 99, 100, 8},
		{1700000000}, // malformed, dropped
	}
	candles := candlesFromRows(rows, 10)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2 (malformed row dropped)", len(candles))
	}
	// Wire order is [ts, low, high, open, close, volume].
	c := candles[0]
	if c.Low != 99 || c.High != 101 || c.Open != 100 || c.Close != 100.5 || c.Volume != 12 {
		t.Errorf("candle fields misassigned: %+v", c)
	}
	if c.Time.Unix() != 1700000060 {
		t.Errorf("Time = %v, want unix 1700000060", c.Time)
	}
}

func TestCandlesFromRowsHonorsLimit(t *testing.T) {
	rows := make([][]float64, 5)
	for i := range rows {
		rows[i] = []float64{float64(1700000000 + i*60), 1, 2, 1, 2, 1}
	}
	if got := candlesFromRows(rows, 3); len(got) != 3 {
		t.Errorf("got %d candles, want the limit of 3", len(got))
	}
}
