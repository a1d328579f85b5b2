// Package engine wires every feed, detector, and manager into the 1Hz tick
// loop: the long-lived ingestion tasks run concurrently under an errgroup,
// and a single ticker goroutine builds a feature snapshot per tracked
// market class, walks the strategy catalog, and delegates all state
// mutation to the position manager.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sdibella/kalshi-btc-engine/internal/config"
	"github.com/sdibella/kalshi-btc-engine/internal/crossvenue"
	"github.com/sdibella/kalshi-btc-engine/internal/detectors"
	"github.com/sdibella/kalshi-btc-engine/internal/exchange"
	"github.com/sdibella/kalshi-btc-engine/internal/fill"
	"github.com/sdibella/kalshi-btc-engine/internal/indicators"
	"github.com/sdibella/kalshi-btc-engine/internal/journal"
	"github.com/sdibella/kalshi-btc-engine/internal/kalshi"
	"github.com/sdibella/kalshi-btc-engine/internal/metrics"
	"github.com/sdibella/kalshi-btc-engine/internal/position"
	"github.com/sdibella/kalshi-btc-engine/internal/sentiment"
	"github.com/sdibella/kalshi-btc-engine/internal/strategy"
	"github.com/shopspring/decimal"
)

// classBinding ties one tracked market class to the Kalshi series that
// feeds it.
type classBinding struct {
	Class  strategy.MarketClass
	Series string
}

const startingCash = 1000
const baseTradeSize = 10
const tickInterval = 1 * time.Second
const postTransitionQuiet = 120 * time.Second

// Engine owns every data feed, detector, and manager plus the single 1Hz
// tick loop that reads from them.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	client  *kalshi.Client
	ws      *kalshi.WSClient
	poller  *kalshi.Poller
	obCache *kalshi.OrderbookCache

	aggregator *exchange.Aggregator
	indicators *indicators.Engine
	sentiment  *sentiment.Feed
	crossVenue *crossvenue.Feed

	steam      *detectors.Steam
	tickBurst  map[string]*detectors.TickBurst
	flashCrash *detectors.FlashCrash

	gate    *strategy.Gate
	catalog []strategy.Strategy

	posMgr       *position.Manager
	journal      *journal.Journal
	checkpointer *journal.Checkpointer
	metrics      *metrics.Registry

	classes   []classBinding
	startedAt time.Time
	sessionID string

	mu                  sync.Mutex
	prevFocusBid        map[strategy.MarketClass]float64
	lastFocusTicker     map[strategy.MarketClass]string
	postTransitionUntil map[strategy.MarketClass]time.Time
	lastFlashEntryAt    map[strategy.MarketClass]time.Time
	entryFills          map[int]fill.Result
	recentSignals       []journal.Signal
	cumulativePnL       decimal.Decimal
}

// New builds an Engine and every component it owns from cfg. client and ws
// are constructed by the caller (cmd/engine) since they need the loaded
// private key before anything else can start.
func New(cfg *config.Config, log zerolog.Logger, client *kalshi.Client, ws *kalshi.WSClient) (*Engine, error) {
	if err := journal.EnsureDir(cfg.JournalPath); err != nil {
		return nil, fmt.Errorf("preparing journal dir: %w", err)
	}
	if err := journal.EnsureDir(cfg.CheckpointPath); err != nil {
		return nil, fmt.Errorf("preparing checkpoint dir: %w", err)
	}
	j, err := journal.New(cfg.JournalPath, cfg.JournalSQLite)
	if err != nil {
		return nil, err
	}

	classes := []classBinding{
		{strategy.BTCShort, cfg.SeriesBTCShort},
		{strategy.BTCDaily, cfg.SeriesBTCDaily},
		{strategy.ETHShort, cfg.SeriesETHShort},
		{strategy.ETHDaily, cfg.SeriesETHDaily},
	}
	pollerClasses := make([]kalshi.ClassConfig, len(classes))
	for i, c := range classes {
		pollerClasses[i] = kalshi.ClassConfig{Class: c.Class, Series: c.Series}
	}

	e := &Engine{
		cfg:    cfg,
		log:    log,
		client: client,
		ws:     ws,

		poller:  kalshi.NewPoller(client, ws, cfg.FallbackPollInterval, pollerClasses),
		obCache: kalshi.NewOrderbookCache(client, cfg.OrderbookCacheFresh, cfg.OrderbookRefetchGuard),

		aggregator: exchange.NewAggregator(cfg.ExchangeWeights),
		indicators: indicators.NewEngine(),
		sentiment:  sentiment.NewFeed(cfg.SentimentPollInterval),
		crossVenue: crossvenue.NewFeed(cfg.CrossVenuePollInterval),

		steam:      detectors.NewSteam(),
		tickBurst:  map[string]*detectors.TickBurst{"BTC": detectors.NewTickBurst(), "ETH": detectors.NewTickBurst()},
		flashCrash: detectors.NewFlashCrash(),

		gate:    strategy.NewGateWithOverrides(cfg.StrategyHalfSpread),
		catalog: strategy.Catalog(),

		posMgr:    position.NewManager(decimal.NewFromInt(startingCash), baseTradeSize),
		journal:   j,
		metrics:   metrics.New(),
		classes:   classes,
		sessionID: uuid.NewString(),

		prevFocusBid:        make(map[strategy.MarketClass]float64),
		lastFocusTicker:     make(map[strategy.MarketClass]string),
		postTransitionUntil: make(map[strategy.MarketClass]time.Time),
		lastFlashEntryAt:    make(map[strategy.MarketClass]time.Time),
		entryFills:          make(map[int]fill.Result),
	}
	e.checkpointer = journal.NewCheckpointer(cfg.CheckpointPath, cfg.CheckpointPeriod, e.snapshotState)
	return e, nil
}

// Run starts every long-lived ingestion task and the 1Hz tick loop,
// cancelling and awaiting all of them together on ctx cancellation, then
// writes the final checkpoint.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now()
	if err := e.journal.LogSessionStart(e.cfg.KalshiEnv, e.posMgr.Cash().String()); err != nil {
		e.log.Warn().Err(err).Msg("failed to log session start")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { e.bootstrapIndicators(gctx); return nil })

	for _, asset := range []string{"BTC", "ETH"} {
		for _, feed := range exchange.DefaultFeeds([]string{asset}) {
			feed := feed
			g.Go(func() error {
				feed.Run(gctx, e.aggregator)
				return nil
			})
		}
	}

	g.Go(func() error { e.sentiment.Run(gctx, []string{"BTC", "ETH"}); return nil })
	g.Go(func() error { e.crossVenue.Run(gctx); return nil })
	g.Go(func() error { e.poller.Run(gctx); return nil })
	g.Go(func() error {
		if err := e.ws.Run(gctx); err != nil && gctx.Err() == nil {
			e.log.Warn().Err(err).Msg("kalshi ws task ended")
		}
		return nil
	})
	g.Go(func() error { e.checkpointer.Run(gctx); return nil })
	g.Go(func() error {
		if err := e.metrics.Serve(gctx, e.cfg.MetricsAddr); err != nil {
			e.log.Warn().Err(err).Msg("metrics server ended")
		}
		return nil
	})

	g.Go(func() error { return e.tickLoop(gctx) })

	err := g.Wait()
	if werr := e.checkpointer.WriteNow(); werr != nil {
		e.log.Error().Err(werr).Msg("final checkpoint write failed")
	}
	e.updatePosterior()
	if cerr := e.journal.Close(); cerr != nil {
		e.log.Error().Err(cerr).Msg("journal close failed")
	}
	return err
}

// bootstrapIndicators seeds the indicator engine with ~300 historical
// 1-minute candles per asset so ATR/RSI/EMA/Bollinger are available right
// away instead of 20+ minutes into the session. A fetch failure just means
// indicators warm up from live ticks.
func (e *Engine) bootstrapIndicators(ctx context.Context) {
	for _, asset := range []string{"BTC", "ETH"} {
		candles, err := exchange.FetchHistoricalCandles(ctx, asset, 300)
		if err != nil {
			e.log.Warn().Err(err).Str("asset", asset).Msg("indicator bootstrap fetch failed")
			continue
		}
		e.indicators.Bootstrap(asset, candles)
		e.log.Info().Str("asset", asset).Int("candles", len(candles)).Msg("indicators bootstrapped")
	}
}

// updatePosterior folds this session's win/loss tally into the persisted
// win-rate posterior, an end-of-session diagnostic carried across runs.
func (e *Engine) updatePosterior() {
	post, err := position.LoadPosterior(e.cfg.PosteriorPath)
	if err != nil {
		e.log.Warn().Err(err).Msg("posterior load failed")
		return
	}
	stats := e.posMgr.Stats()
	post.Update(int64(stats.Wins), int64(stats.Losses))
	if err := post.Save(e.cfg.PosteriorPath); err != nil {
		e.log.Warn().Err(err).Msg("posterior save failed")
		return
	}
	ci := post.CredibleInterval(0.95)
	e.log.Info().
		Float64("mean", post.Mean()).
		Float64("lower", ci[0]).
		Float64("upper", ci[1]).
		Msg("session win-rate posterior updated")
}

func (e *Engine) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			start := time.Now()
			e.updateAssetSignals(now)
			for _, cb := range e.classes {
				e.tickClass(ctx, cb, now)
			}
			e.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}
