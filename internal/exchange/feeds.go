package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultFeeds returns the set of public exchange feeds the aggregator
// subscribes BTC and ETH prices from. Wire format per exchange is whatever
// that exchange's public stream actually emits.
func DefaultFeeds(assets []string) []Feed {
	return []Feed{
		binanceFeed(assets),
		okxFeed(assets),
		coinbaseFeed(assets),
		bybitFeed(assets),
	}
}

func binanceSymbol(asset string) string {
	return strings.ToLower(asset) + "usdt"
}

// binanceFeed subscribes to Binance USD-M futures' markPrice stream
// (method/params/id envelope, "<symbol>@markPrice" topics).
func binanceFeed(assets []string) Feed {
	return Feed{
		Name:   "binance",
		URL:    "wss://fstream.binance.com/ws",
		Assets: assets,
		Subscribe: func(assets []string) any {
			params := make([]string, 0, len(assets))
			for _, a := range assets {
				params = append(params, binanceSymbol(a)+"@markPrice")
			}
			return map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1}
		},
		Parse: func(msg []byte) (string, float64, bool) {
			var evt struct {
				EventType string          `json:"e"`
				Symbol    string          `json:"s"`
				MarkPrice json.RawMessage `json:"p"`
			}
			if err := json.Unmarshal(msg, &evt); err != nil || evt.EventType != "markPriceUpdate" {
				return "", 0, false
			}
			price, ok := parseFloatField(evt.MarkPrice)
			if !ok {
				return "", 0, false
			}
			return symbolToAsset(evt.Symbol, "USDT"), price, true
		},
	}
}

// okxFeed subscribes to OKX's public mark-price channel for perpetual swaps.
func okxFeed(assets []string) Feed {
	instIDs := make([]string, 0, len(assets))
	for _, a := range assets {
		instIDs = append(instIDs, a+"-USDT-SWAP")
	}
	return Feed{
		Name:      "okx",
		URL:       "wss://ws.okx.com:8443/ws/v5/public",
		Assets:    instIDs,
		Subscribe: defaultSubscribe("mark-price", instIDs),
		Parse: func(msg []byte) (string, float64, bool) {
			var env struct {
				Arg struct {
					Channel string `json:"channel"`
				} `json:"arg"`
				Data []struct {
					InstID    string          `json:"instId"`
					MarkPrice json.RawMessage `json:"markPx"`
				} `json:"data"`
			}
			if err := json.Unmarshal(msg, &env); err != nil || env.Arg.Channel != "mark-price" || len(env.Data) == 0 {
				return "", 0, false
			}
			price, ok := parseFloatField(env.Data[0].MarkPrice)
			if !ok {
				return "", 0, false
			}
			return symbolToAsset(env.Data[0].InstID, "-USDT-SWAP"), price, true
		},
	}
}

// coinbaseFeed subscribes to Coinbase's ticker channel on the spot
// BTC-USD/ETH-USD books; Coinbase has no perpetual futures so spot price is
// the best available cross-venue confirmation signal.
func coinbaseFeed(assets []string) Feed {
	productIDs := make([]string, 0, len(assets))
	for _, a := range assets {
		productIDs = append(productIDs, a+"-USD")
	}
	return Feed{
		Name:   "coinbase",
		URL:    "wss://ws-feed.exchange.coinbase.com",
		Assets: productIDs,
		Subscribe: func(_ []string) any {
			return map[string]any{
				"type":        "subscribe",
				"product_ids": productIDs,
				"channels":    []string{"ticker"},
			}
		},
		Parse: func(msg []byte) (string, float64, bool) {
			var evt struct {
				Type      string          `json:"type"`
				ProductID string          `json:"product_id"`
				Price     json.RawMessage `json:"price"`
			}
			if err := json.Unmarshal(msg, &evt); err != nil || evt.Type != "ticker" {
				return "", 0, false
			}
			price, ok := parseFloatField(evt.Price)
			if !ok {
				return "", 0, false
			}
			return symbolToAsset(evt.ProductID, "-USD"), price, true
		},
	}
}

// bybitFeed subscribes to Bybit's linear-perpetual public tickers topic.
func bybitFeed(assets []string) Feed {
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a+"USDT")
	}
	return Feed{
		Name:   "bybit",
		URL:    "wss://stream.bybit.com/v5/public/linear",
		Assets: symbols,
		Subscribe: func(_ []string) any {
			topics := make([]string, 0, len(symbols))
			for _, s := range symbols {
				topics = append(topics, fmt.Sprintf("tickers.%s", s))
			}
			return map[string]any{"op": "subscribe", "args": topics}
		},
		Parse: func(msg []byte) (string, float64, bool) {
			var env struct {
				Topic string `json:"topic"`
				Data  struct {
					Symbol    string          `json:"symbol"`
					MarkPrice json.RawMessage `json:"markPrice"`
				} `json:"data"`
			}
			if err := json.Unmarshal(msg, &env); err != nil || !strings.HasPrefix(env.Topic, "tickers.") {
				return "", 0, false
			}
			if len(env.Data.MarkPrice) == 0 {
				return "", 0, false
			}
			price, ok := parseFloatField(env.Data.MarkPrice)
			if !ok {
				return "", 0, false
			}
			return symbolToAsset(env.Data.Symbol, "USDT"), price, true
		},
	}
}

func symbolToAsset(symbol, suffix string) string {
	return strings.ToUpper(strings.TrimSuffix(symbol, suffix))
}
