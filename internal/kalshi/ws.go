package kalshi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"

	"github.com/sdibella/kalshi-btc-engine/internal/config"
)

// WSClient is the engine's preferred real-time transport: one authenticated
// Kalshi WebSocket carrying both the ticker channel (book tops, the poller's
// live override) and orderbook deltas (full depth, the fill simulator's
// input). Consumers read the merged per-ticker state; nothing downstream
// knows or cares whether a value arrived here or via the REST fallback.
type WSClient struct {
	cfg     *config.Config
	privKey *rsa.PrivateKey

	connMu sync.RWMutex
	conn   *websocket.Conn

	stateMu    sync.RWMutex
	orderbooks map[string]*OrderbookState
	quotes     map[string]TickerQuote
	subscribed map[string]bool
}

// OrderbookState is the live depth for one ticker, maintained from
// snapshot + delta messages. Prices are integer cents, both sides sorted
// highest price first as Kalshi delivers them.
type OrderbookState struct {
	Ticker     string
	Yes        []PriceLevel
	No         []PriceLevel
	LastUpdate time.Time
}

// PriceLevel is one depth level in integer cents.
type PriceLevel struct {
	Price    int
	Quantity int
}

// TickerQuote is the latest book top delivered on the ticker channel,
// prices in integer cents.
type TickerQuote struct {
	YesBid int
	YesAsk int
	Volume int
	At     time.Time
}

func (ob *OrderbookState) BestYesBid() int {
	if len(ob.Yes) > 0 {
		return ob.Yes[0].Price
	}
	return 0
}

// BestYesAsk derives the YES ask from the best resting NO bid (no_bid at p
// means someone will sell YES at 100-p).
func (ob *OrderbookState) BestYesAsk() int {
	if len(ob.No) > 0 {
		return 100 - ob.No[0].Price
	}
	return 100
}

func NewWSClient(cfg *config.Config) (*WSClient, error) {
	key, err := LoadPrivateKey(cfg.KalshiPrivKeyPath)
	if err != nil {
		return nil, err
	}
	return &WSClient{
		cfg:        cfg,
		privKey:    key,
		orderbooks: make(map[string]*OrderbookState),
		quotes:     make(map[string]TickerQuote),
		subscribed: make(map[string]bool),
	}, nil
}

// Run keeps one connection alive until ctx is cancelled, reconnecting with
// capped exponential backoff that resets whenever a connect succeeds.
func (ws *WSClient) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: 1 * time.Second, Max: 60 * time.Second, Factor: 2}

	for {
		if err := ws.readLoop(ctx, b); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("kalshi ws disconnected")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

func (ws *WSClient) readLoop(ctx context.Context, b *backoff.Backoff) error {
	headers, err := AuthHeaders(ws.cfg, ws.privKey, "GET", "/trade-api/ws/v2")
	if err != nil {
		return fmt.Errorf("ws auth: %w", err)
	}
	httpHeaders := make(map[string][]string, len(headers))
	for k, v := range headers {
		httpHeaders[k] = []string{v}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ws.cfg.WSBaseURL(), httpHeaders)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}

	ws.connMu.Lock()
	ws.conn = conn
	ws.connMu.Unlock()
	defer func() {
		conn.Close()
		ws.connMu.Lock()
		ws.conn = nil
		ws.connMu.Unlock()
	}()

	log.Info().Msg("kalshi ws connected")
	b.Reset()

	if tickers := ws.trackedTickers(); len(tickers) > 0 {
		if err := ws.sendSubscribe(conn, tickers); err != nil {
			log.Warn().Err(err).Int("tickers", len(tickers)).Msg("kalshi ws resubscribe failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ws.dispatch(msg)
	}
}

// Subscribe starts streaming the given tickers. Tickers stay tracked across
// reconnects until Unsubscribe removes them.
func (ws *WSClient) Subscribe(tickers []string) error {
	ws.stateMu.Lock()
	for _, t := range tickers {
		ws.subscribed[t] = true
	}
	ws.stateMu.Unlock()

	ws.connMu.RLock()
	conn := ws.conn
	ws.connMu.RUnlock()
	if conn == nil {
		return nil // subscribed on next connect
	}
	return ws.sendSubscribe(conn, tickers)
}

// Unsubscribe drops tickers from tracking and discards their cached state
// (called when a focus contract settles and the poller moves on).
func (ws *WSClient) Unsubscribe(tickers []string) {
	ws.stateMu.Lock()
	for _, t := range tickers {
		delete(ws.subscribed, t)
		delete(ws.orderbooks, t)
		delete(ws.quotes, t)
	}
	ws.stateMu.Unlock()
}

func (ws *WSClient) sendSubscribe(conn *websocket.Conn, tickers []string) error {
	return conn.WriteJSON(map[string]any{
		"id":  1,
		"cmd": "subscribe",
		"params": map[string]any{
			"channels":       []string{"ticker", "orderbook_delta"},
			"market_tickers": tickers,
		},
	})
}

func (ws *WSClient) trackedTickers() []string {
	ws.stateMu.RLock()
	defer ws.stateMu.RUnlock()
	out := make([]string, 0, len(ws.subscribed))
	for t := range ws.subscribed {
		out = append(out, t)
	}
	return out
}

// GetOrderbook returns the live depth for ticker, nil if never seen.
func (ws *WSClient) GetOrderbook(ticker string) *OrderbookState {
	ws.stateMu.RLock()
	defer ws.stateMu.RUnlock()
	return ws.orderbooks[ticker]
}

// LatestQuote returns the most recent ticker-channel book top for ticker.
func (ws *WSClient) LatestQuote(ticker string) (TickerQuote, bool) {
	ws.stateMu.RLock()
	defer ws.stateMu.RUnlock()
	q, ok := ws.quotes[ticker]
	return q, ok
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

func (ws *WSClient) dispatch(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return // not a data frame; drop it
	}

	switch env.Type {
	case "ticker":
		var t struct {
			Ticker string `json:"market_ticker"`
			YesBid int    `json:"yes_bid"`
			YesAsk int    `json:"yes_ask"`
			Volume int    `json:"volume"`
		}
		if err := json.Unmarshal(env.Msg, &t); err != nil || t.Ticker == "" {
			return
		}
		ws.stateMu.Lock()
		ws.quotes[t.Ticker] = TickerQuote{YesBid: t.YesBid, YesAsk: t.YesAsk, Volume: t.Volume, At: time.Now()}
		ws.stateMu.Unlock()

	case "orderbook_snapshot":
		var snap struct {
			Ticker string  `json:"market_ticker"`
			Yes    [][]int `json:"yes"`
			No     [][]int `json:"no"`
		}
		if err := json.Unmarshal(env.Msg, &snap); err != nil {
			log.Warn().Err(err).Msg("bad orderbook snapshot")
			return
		}
		ob := &OrderbookState{
			Ticker:     snap.Ticker,
			Yes:        levelsFromPairs(snap.Yes),
			No:         levelsFromPairs(snap.No),
			LastUpdate: time.Now(),
		}
		ws.stateMu.Lock()
		ws.orderbooks[snap.Ticker] = ob
		ws.stateMu.Unlock()

	case "orderbook_delta":
		var delta struct {
			Ticker string `json:"market_ticker"`
			Price  int    `json:"price"`
			Delta  int    `json:"delta"`
			Side   string `json:"side"`
		}
		if err := json.Unmarshal(env.Msg, &delta); err != nil {
			log.Warn().Err(err).Msg("bad orderbook delta")
			return
		}
		ws.applyDelta(delta.Ticker, delta.Side, delta.Price, delta.Delta)

	default:
		log.Debug().Str("type", env.Type).Msg("kalshi ws unhandled message")
	}
}

func levelsFromPairs(pairs [][]int) []PriceLevel {
	out := make([]PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) >= 2 {
			out = append(out, PriceLevel{Price: p[0], Quantity: p[1]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// applyDelta mutates one depth level in place: quantities accumulate, a
// level reaching zero is removed, and a new level is inserted keeping the
// highest-price-first ordering.
func (ws *WSClient) applyDelta(ticker, side string, price, delta int) {
	ws.stateMu.Lock()
	defer ws.stateMu.Unlock()

	ob := ws.orderbooks[ticker]
	if ob == nil {
		return // delta before snapshot; wait for the snapshot
	}
	ob.LastUpdate = time.Now()

	levels := &ob.Yes
	if side == "no" {
		levels = &ob.No
	}

	for i, l := range *levels {
		if l.Price == price {
			qty := l.Quantity + delta
			if qty <= 0 {
				*levels = append((*levels)[:i], (*levels)[i+1:]...)
			} else {
				(*levels)[i].Quantity = qty
			}
			return
		}
	}

	if delta > 0 {
		*levels = append(*levels, PriceLevel{Price: price, Quantity: delta})
		sort.Slice(*levels, func(i, j int) bool { return (*levels)[i].Price > (*levels)[j].Price })
	}
}
