package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// Feed describes one exchange's public trade/ticker WebSocket: where to
// dial, what to send on connect (subscribe frames, if any), and how to pull
// an asset+price out of a raw message. Exchanges differ wildly in wire
// format, so Parse is exchange-specific; everything around it (dial,
// reconnect, backoff, asset routing) is shared.
type Feed struct {
	Name      string
	URL       string
	Assets    []string
	Subscribe func(assets []string) any // nil if no subscribe frame needed
	Parse     func(msg []byte) (asset string, price float64, ok bool)
}

// Run dials Feed.URL and forwards every parsed price into agg.OnPrice until
// ctx is cancelled, reconnecting forever with capped exponential backoff
// since this task runs unattended for hours.
func (f Feed) Run(ctx context.Context, agg *Aggregator) {
	b := &backoff.Backoff{Min: 1 * time.Second, Max: 60 * time.Second, Factor: 2}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := f.connectOnce(ctx, agg, b)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("exchange", f.Name).Msg("exchange feed disconnected")
		}

		wait := b.Duration()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectOnce dials, subscribes, and reads until the connection drops or
// ctx is cancelled. It resets b on the first message read successfully, so
// a connection that dies after running cleanly for a while doesn't inherit
// whatever backoff delay a prior failed attempt had built up.
func (f Feed) connectOnce(ctx context.Context, agg *Aggregator, b *backoff.Backoff) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.Name, err)
	}
	defer conn.Close()

	if f.Subscribe != nil {
		if err := conn.WriteJSON(f.Subscribe(f.Assets)); err != nil {
			return fmt.Errorf("subscribe %s: %w", f.Name, err)
		}
	}

	gotMessage := false
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !gotMessage {
			b.Reset()
			gotMessage = true
		}

		asset, price, ok := f.Parse(msg)
		if !ok {
			continue
		}
		agg.OnPrice(asset, f.Name, price, time.Now())
	}
}

// defaultSubscribe builds the {"op":"subscribe","args":[...]}-shaped frame
// used by several exchanges (OKX, Bybit-style venues); exchanges with a
// different handshake supply their own Subscribe func.
func defaultSubscribe(channel string, assets []string) func([]string) any {
	return func(_ []string) any {
		args := make([]map[string]string, 0, len(assets))
		for _, a := range assets {
			args = append(args, map[string]string{"channel": channel, "instId": a})
		}
		return map[string]any{"op": "subscribe", "args": args}
	}
}

// parseFloatField pulls a numeric string or number out of a raw JSON
// message field, tolerating both encodings since exchanges are inconsistent
// about quoting prices.
func parseFloatField(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var parsed float64
		if _, err := fmt.Sscanf(s, "%g", &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
