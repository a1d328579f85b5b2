package kalshi

import (
	"context"
	"time"

	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
)

// ToDepth converts a REST-fetched Orderbook (cents) into the engine's
// decimal-fraction Depth shape. Level order is not load-bearing here: the
// fill simulator re-sorts both sides itself before walking them.
func (ob *Orderbook) ToDepth() strategy.Depth {
	return strategy.Depth{
		YesLevels: centsLevelsToDepth(ob.Yes),
		NoLevels:  centsLevelsToDepth(ob.No),
		FetchedAt: time.Now(),
	}
}

// ToDepth converts a WS-maintained OrderbookState into the engine's Depth
// shape, same conventions as Orderbook.ToDepth.
func (ob *OrderbookState) ToDepth() strategy.Depth {
	return strategy.Depth{
		YesLevels: priceLevelsToDepth(ob.Yes),
		NoLevels:  priceLevelsToDepth(ob.No),
		FetchedAt: ob.LastUpdate,
	}
}

func centsLevelsToDepth(levels [][]int) []strategy.DepthLevel {
	out := make([]strategy.DepthLevel, 0, len(levels))
	for _, l := range levels {
		if len(l) < 2 {
			continue
		}
		out = append(out, strategy.DepthLevel{Price: centsToFraction(l[0]), Size: l[1]})
	}
	return out
}

func priceLevelsToDepth(levels []PriceLevel) []strategy.DepthLevel {
	out := make([]strategy.DepthLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, strategy.DepthLevel{Price: centsToFraction(l.Price), Size: l.Quantity})
	}
	return out
}

// DepthFor returns the best available Depth for ticker: the live WS
// orderbook when it has updated within wsStaleAfter, otherwise a fresh REST
// fetch through the cache, the same preferred/fallback rule Poller applies
// to book-top data.
func DepthFor(ctx context.Context, ws *WSClient, cache *OrderbookCache, ticker string) (strategy.Depth, bool) {
	if ws != nil {
		if ob := ws.GetOrderbook(ticker); ob != nil && time.Since(ob.LastUpdate) <= wsStaleAfter {
			return ob.ToDepth(), true
		}
	}
	ob, ok := cache.Get(ctx, ticker)
	if !ok || ob == nil {
		return strategy.Depth{}, false
	}
	return ob.ToDepth(), true
}
