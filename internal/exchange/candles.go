package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/indicators"
)

const candlesBaseURL = "https://api.exchange.coinbase.com"

// FetchHistoricalCandles pulls the most recent 1-minute candles for asset
// from Coinbase's public candle endpoint. The wire format is an array of
// [ts, low, high, open, close, volume] rows, newest first — which is the
// ordering indicators.Engine.Bootstrap expects, so rows pass through
// unreversed.
func FetchHistoricalCandles(ctx context.Context, asset string, limit int) ([]indicators.Candle, error) {
	url := fmt.Sprintf("%s/products/%s-USD/candles?granularity=60", candlesBaseURL, asset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s candles: %w", asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("candle endpoint returned %d", resp.StatusCode)
	}

	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding %s candles: %w", asset, err)
	}

	return candlesFromRows(rows, limit), nil
}

// candlesFromRows converts raw [ts, low, high, open, close, volume] rows
// into typed candles, dropping malformed rows and capping at limit.
func candlesFromRows(rows [][]float64, limit int) []indicators.Candle {
	out := make([]indicators.Candle, 0, limit)
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, indicators.Candle{
			Time:   time.Unix(int64(r[0]), 0).UTC(),
			Low:    r[1],
			High:   r[2],
			Open:   r[3],
			Close:  r[4],
			Volume: r[5],
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}
