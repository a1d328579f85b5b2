package kalshi

import (
	"context"
	"sync"
	"time"
)

type cachedOrderbook struct {
	data      *Orderbook
	fetchedAt time.Time
}

// OrderbookCache wraps Client.GetOrderbook with a per-ticker freshness
// window and a refetch guard: once an entry is younger than freshFor it is
// served straight from cache, and even a stale entry is never refetched
// more often than every refetchGuard, trading staleness for API quota.
type OrderbookCache struct {
	client       *Client
	freshFor     time.Duration
	refetchGuard time.Duration

	mu        sync.Mutex
	entries   map[string]cachedOrderbook
	lastFetch map[string]time.Time
}

// NewOrderbookCache returns a cache that treats an entry as fresh for
// freshFor and never re-fetches a given ticker more often than
// refetchGuard.
func NewOrderbookCache(client *Client, freshFor, refetchGuard time.Duration) *OrderbookCache {
	return &OrderbookCache{
		client:       client,
		freshFor:     freshFor,
		refetchGuard: refetchGuard,
		entries:      make(map[string]cachedOrderbook),
		lastFetch:    make(map[string]time.Time),
	}
}

// Get returns the orderbook for ticker, from cache if fresh, otherwise
// fetched live and cached. A fetch failure falls back to whatever is
// cached (even if stale) rather than propagating the error, matching the
// source's "silently fail and serve stale" behavior.
func (c *OrderbookCache) Get(ctx context.Context, ticker string) (*Orderbook, bool) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.entries[ticker]; ok && now.Sub(entry.fetchedAt) < c.freshFor {
		c.mu.Unlock()
		return entry.data, true
	}
	if last, ok := c.lastFetch[ticker]; ok && now.Sub(last) < c.refetchGuard {
		entry, hasStale := c.entries[ticker]
		c.mu.Unlock()
		if hasStale {
			return entry.data, true
		}
		return nil, false
	}
	c.lastFetch[ticker] = now
	c.mu.Unlock()

	ob, err := c.client.GetOrderbook(ctx, ticker, 0)
	if err != nil {
		c.mu.Lock()
		entry, hasStale := c.entries[ticker]
		c.mu.Unlock()
		if hasStale {
			return entry.data, true
		}
		return nil, false
	}

	c.mu.Lock()
	c.entries[ticker] = cachedOrderbook{data: ob, fetchedAt: now}
	c.mu.Unlock()
	return ob, true
}

// Imbalance returns the order-book imbalance score
// (bidVolume-askVolume)/(bidVolume+askVolume) for ticker's YES side: YES
// bids versus NO orders (which are asks against YES), exactly as the
// source computes it.
func (c *OrderbookCache) Imbalance(ctx context.Context, ticker string) (score float64, bidVolume, askVolume int, ok bool) {
	ob, ok := c.Get(ctx, ticker)
	if !ok || ob == nil {
		return 0, 0, 0, false
	}

	for _, level := range ob.Yes {
		if len(level) >= 2 {
			bidVolume += level[1]
		}
	}
	for _, level := range ob.No {
		if len(level) >= 2 {
			askVolume += level[1]
		}
	}

	total := bidVolume + askVolume
	if total == 0 {
		return 0, 0, 0, false
	}
	return float64(bidVolume-askVolume) / float64(total), bidVolume, askVolume, true
}
