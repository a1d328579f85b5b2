// Package sentiment is the derivatives sentiment poller: OKX
// funding rate, open interest, and long/short account ratio for BTC and
// ETH swaps, refreshed on a slow cadence and held stale-but-available on
// any single fetch failure.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Snapshot is the latest known derivatives sentiment for one asset. A zero
// Snapshot (Valid == false) means no successful fetch has ever landed.
type Snapshot struct {
	Valid          bool
	FundingRate    float64
	OpenInterest   float64
	LongShortRatio float64
	LastUpdated    time.Time
}

// Feed polls OKX's public derivatives endpoints for BTC and ETH swaps. A
// failed fetch never clears a prior value: strategies read whatever was
// last known good rather than blocking on sentiment availability.
type Feed struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	interval   time.Duration

	mu   sync.RWMutex
	data map[string]Snapshot
}

// instrumentIDs maps an asset symbol to its OKX swap instrument ID.
var instrumentIDs = map[string]string{
	"BTC": "BTC-USDT-SWAP",
	"ETH": "ETH-USDT-SWAP",
}

// NewFeed returns a feed that refreshes at most once per interval (the
// source's own update_interval, 60s by default) and never issues more than
// one request per second regardless of how many assets it tracks.
func NewFeed(interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Feed{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		interval:   interval,
		data:       make(map[string]Snapshot),
	}
}

// Run polls every Feed.interval until ctx is cancelled. A fetch failure is
// logged and skipped; it never panics the caller and never clears stale
// data.
func (f *Feed) Run(ctx context.Context, assets []string) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll(ctx, assets)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, assets)
		}
	}
}

func (f *Feed) poll(ctx context.Context, assets []string) {
	for _, asset := range assets {
		instID, ok := instrumentIDs[asset]
		if !ok {
			continue
		}

		snap := f.currentSnapshot(asset)
		if fr, err := f.fetchFundingRate(ctx, instID); err == nil {
			snap.FundingRate = fr
		} else {
			log.Warn().Err(err).Str("asset", asset).Msg("sentiment funding rate fetch failed")
		}
		if oi, err := f.fetchOpenInterest(ctx, instID); err == nil {
			snap.OpenInterest = oi
		} else {
			log.Warn().Err(err).Str("asset", asset).Msg("sentiment open interest fetch failed")
		}
		if ls, err := f.fetchLongShortRatio(ctx, asset); err == nil {
			snap.LongShortRatio = ls
		} else {
			log.Warn().Err(err).Str("asset", asset).Msg("sentiment long/short ratio fetch failed")
		}
		snap.Valid = true
		snap.LastUpdated = time.Now()

		f.mu.Lock()
		f.data[asset] = snap
		f.mu.Unlock()
	}
}

func (f *Feed) currentSnapshot(asset string) Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data[asset]
}

// Get returns the latest known sentiment snapshot for asset.
func (f *Feed) Get(asset string) Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data[asset]
}

type okxEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

func (f *Feed) fetchJSON(ctx context.Context, url string) (okxEnvelope, error) {
	var env okxEnvelope
	if err := f.limiter.Wait(ctx); err != nil {
		return env, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return env, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode okx response: %w", err)
	}
	if len(env.Data) == 0 {
		return env, fmt.Errorf("okx response had no data entries")
	}
	return env, nil
}

func (f *Feed) fetchFundingRate(ctx context.Context, instID string) (float64, error) {
	url := fmt.Sprintf("https://www.okx.com/api/v5/public/funding-rate?instId=%s", instID)
	env, err := f.fetchJSON(ctx, url)
	if err != nil {
		return 0, err
	}
	var entry struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := json.Unmarshal(env.Data[0], &entry); err != nil {
		return 0, err
	}
	var rate float64
	if _, err := fmt.Sscanf(entry.FundingRate, "%g", &rate); err != nil {
		return 0, err
	}
	return rate, nil
}

func (f *Feed) fetchOpenInterest(ctx context.Context, instID string) (float64, error) {
	url := fmt.Sprintf("https://www.okx.com/api/v5/public/open-interest?instType=SWAP&instId=%s", instID)
	env, err := f.fetchJSON(ctx, url)
	if err != nil {
		return 0, err
	}
	var entry struct {
		OI string `json:"oi"`
	}
	if err := json.Unmarshal(env.Data[0], &entry); err != nil {
		return 0, err
	}
	var oi float64
	if _, err := fmt.Sscanf(entry.OI, "%g", &oi); err != nil {
		return 0, err
	}
	return oi, nil
}

// fetchLongShortRatio handles OKX's inconsistent response shape for this
// endpoint: the data entry may be a [timestamp, ratio] pair or an object
// with a longShortAccountRatio field.
func (f *Feed) fetchLongShortRatio(ctx context.Context, asset string) (float64, error) {
	url := fmt.Sprintf("https://www.okx.com/api/v5/rubik/stat/contracts/long-short-account-ratio?ccy=%s&period=5m", asset)
	env, err := f.fetchJSON(ctx, url)
	if err != nil {
		return 0, err
	}
	return parseLongShortEntry(env.Data[0]), nil
}

// parseLongShortEntry handles OKX's inconsistent response shape for this
// endpoint: the data entry may be a [timestamp, ratio] pair or an object
// with a longShortAccountRatio field. Falls back to a neutral 1.0 ratio
// when neither shape parses.
func parseLongShortEntry(raw json.RawMessage) float64 {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) >= 2 {
		var ratio float64
		if err := json.Unmarshal(pair[1], &ratio); err == nil {
			return ratio
		}
		var ratioStr string
		if err := json.Unmarshal(pair[1], &ratioStr); err == nil {
			var parsed float64
			if _, err := fmt.Sscanf(ratioStr, "%g", &parsed); err == nil {
				return parsed
			}
		}
	}

	var obj struct {
		LongShortAccountRatio float64 `json:"longShortAccountRatio"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.LongShortAccountRatio != 0 {
		return obj.LongShortAccountRatio
	}
	return 1.0
}
