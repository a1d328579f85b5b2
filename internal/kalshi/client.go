package kalshi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sdibella/kalshi-btc-engine/internal/config"
)

type Client struct {
	cfg            *config.Config
	privKey        *rsa.PrivateKey
	http           *http.Client
	baseURL        string
	basePathPrefix string // e.g. "/trade-api/v2"
}

func NewClient(cfg *config.Config) (*Client, error) {
	key, err := LoadPrivateKey(cfg.KalshiPrivKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading kalshi key: %w", err)
	}

	// Extract the URL path prefix (e.g. "/trade-api/v2") for signing
	parsed, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	return &Client{
		cfg:            cfg,
		privKey:        key,
		http:           &http.Client{Timeout: 10 * time.Second},
		baseURL:        cfg.BaseURL(),
		basePathPrefix: parsed.Path,
	}, nil
}

// signPath returns the full API path for signature computation.
// e.g. "/portfolio/balance" -> "/trade-api/v2/portfolio/balance"
func (c *Client) signPath(path string) string {
	return c.basePathPrefix + path
}

// --- API Types ---

type Market struct {
	Ticker                 string  `json:"ticker"`
	EventTicker            string  `json:"event_ticker"`
	Title                  string  `json:"title"`
	Status                 string  `json:"status"`
	YesBid                 int     `json:"yes_bid"`
	YesAsk                 int     `json:"yes_ask"`
	NoBid                  int     `json:"no_bid"`
	NoAsk                  int     `json:"no_ask"`
	LastPrice              int     `json:"last_price"`
	Volume                 int     `json:"volume"`
	OpenInterest           int     `json:"open_interest"`
	FloorStrike            float64 `json:"floor_strike"`
	CapStrike              float64 `json:"cap_strike"`
	CloseTime              string  `json:"close_time"`
	OpenTime               string  `json:"open_time"`
	ExpirationTime         string  `json:"expiration_time"`
	ExpectedExpirationTime string  `json:"expected_expiration_time"`
	Result                 string  `json:"result"`
	Subtitle               string  `json:"subtitle"`
	YesSubTitle            string  `json:"yes_sub_title"`
	NoSubTitle             string  `json:"no_sub_title"`
	CustomStrike           string  `json:"custom_strike"`
	RulesPrimary           string  `json:"rules_primary"`
}

var strikeRulesRe = regexp.MustCompile(`is at least ([\d.]+)`)

// StrikePrice extracts the contract's strike: the cap or floor strike field
// when the API populates one, otherwise parsed out of the rules text
// ("...is at least 70382.44, then..."), which is the only place short-window
// series carry it. Returns 0 when no strike can be found.
func (m *Market) StrikePrice() float64 {
	if m.CapStrike > 0 {
		return m.CapStrike
	}
	if m.FloorStrike > 0 {
		return m.FloorStrike
	}

	if m.RulesPrimary != "" {
		var strike float64
		if _, err := fmt.Sscanf(m.RulesPrimary, "%*s at least %f", &strike); err == nil && strike > 0 {
			return strike
		}
		if matches := strikeRulesRe.FindStringSubmatch(m.RulesPrimary); len(matches) > 1 {
			if strike, err := strconv.ParseFloat(matches[1], 64); err == nil {
				return strike
			}
		}
	}

	return 0
}

// ExpirationParsed prefers expected_expiration_time (the actual resolution
// time on short-window series) over the nominal expiration.
func (m *Market) ExpirationParsed() (time.Time, error) {
	if m.ExpectedExpirationTime != "" {
		return time.Parse(time.RFC3339, m.ExpectedExpirationTime)
	}
	return time.Parse(time.RFC3339, m.ExpirationTime)
}

func (m *Market) CloseTimeParsed() (time.Time, error) {
	if m.CloseTime == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, m.CloseTime)
}

type Orderbook struct {
	Ticker string  `json:"ticker"`
	Yes    [][]int `json:"yes"` // [[price, quantity], ...]
	No     [][]int `json:"no"`
}

func (ob *Orderbook) BestYesBid() int {
	if len(ob.Yes) > 0 && len(ob.Yes[0]) >= 2 {
		return ob.Yes[0][0]
	}
	return 0
}

func (ob *Orderbook) BestYesAsk() int {
	if len(ob.No) > 0 && len(ob.No[0]) >= 2 {
		return 100 - ob.No[0][0]
	}
	return 100
}

// --- API Methods ---
//
// This client only ever reads market data. Nothing in this repo places,
// cancels, or queries a real order; fills are simulated against the book.

func (c *Client) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	var response struct {
		Market Market `json:"market"`
	}
	if err := c.get(ctx, "/markets/"+ticker, nil, &response); err != nil {
		return nil, err
	}
	return &response.Market, nil
}

func (c *Client) GetMarkets(ctx context.Context, seriesTicker string, status string) ([]Market, error) {
	params := url.Values{}
	if seriesTicker != "" {
		params.Set("series_ticker", seriesTicker)
	}
	if status != "" {
		params.Set("status", status)
	}
	params.Set("limit", "200")

	var result struct {
		Markets []Market `json:"markets"`
		Cursor  string   `json:"cursor"`
	}
	if err := c.get(ctx, "/markets", params, &result); err != nil {
		return nil, err
	}
	return result.Markets, nil
}

func (c *Client) GetOrderbook(ctx context.Context, ticker string, depth int) (*Orderbook, error) {
	params := url.Values{}
	if depth > 0 {
		params.Set("depth", fmt.Sprintf("%d", depth))
	}

	var result struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := c.get(ctx, "/markets/"+ticker+"/orderbook", params, &result); err != nil {
		return nil, err
	}
	return &result.Orderbook, nil
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if params != nil && len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return err
	}

	headers, err := AuthHeaders(c.cfg, c.privKey, "GET", c.signPath(path))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	return c.doRequest(req, out)
}

func (c *Client) doRequest(req *http.Request, out interface{}) error {
	log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("kalshi request")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kalshi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("kalshi API error")
		return fmt.Errorf("kalshi API error %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w (body: %s)", err, string(body))
		}
	}

	return nil
}
