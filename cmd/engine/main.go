// Command engine runs the paper-trading engine: it loads configuration,
// authenticates the Kalshi REST and WebSocket clients, wires every feed
// and manager through internal/engine, and runs the 1Hz tick loop until
// interrupted or its configured duration elapses.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sdibella/kalshi-btc-engine/internal/config"
	"github.com/sdibella/kalshi-btc-engine/internal/engine"
	"github.com/sdibella/kalshi-btc-engine/internal/kalshi"
)

func main() {
	duration := flag.Int("duration", 0, "session length in minutes (0 = use DURATION_MINUTES)")
	dryRun := flag.Bool("dry-run", false, "paper trade only; this engine never places real orders regardless")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *duration > 0 {
		cfg.DurationMinutes = *duration
	}

	log := setupLogger(cfg.LogDir, *debug)
	log.Info().Str("env", cfg.KalshiEnv).Bool("dryRun", cfg.DryRun).Msg("engine starting")

	client, err := kalshi.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("kalshi client init failed")
	}
	wsClient, err := kalshi.NewWSClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("kalshi ws client init failed")
	}

	eng, err := engine.New(cfg, log, client, wsClient)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DurationMinutes > 0 {
		var durCancel context.CancelFunc
		ctx, durCancel = context.WithTimeout(ctx, time.Duration(cfg.DurationMinutes)*time.Minute)
		defer durCancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("engine run ended with error")
		os.Exit(1)
	}

	log.Info().Msg("engine stopped")
}

// setupLogger builds a zerolog logger writing console-formatted lines to
// stdout and JSON lines to a dated file and a "live" file under logDir.
func setupLogger(logDir string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err == nil {
			name := fmt.Sprintf("engine-%s.log", time.Now().UTC().Format("2006-01-02"))
			if f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
				writers = append(writers, f)
			}
			// "live" file: a fixed name an operator can `tail -f` without
			// having to know today's date, truncated fresh each run.
			if f, err := os.OpenFile(filepath.Join(logDir, "live.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644); err == nil {
				writers = append(writers, f)
			}
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}
