// Flowdesk - Real-time orderflow telemetry backend for crypto futures
//
// Ingests diff-depth, aggTrade, open interest and funding for a set of
// symbols, derives rolling orderflow metrics (OBI, CVD, delta Z-score,
// VWAP, tape stats) and pushes envelopes to dashboard subscribers over
// WebSocket. A single testnet execution session with an adaptive sizing
// ramp rides alongside, controlled over the admin HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantpulse/flowdesk/bot"
	"github.com/quantpulse/flowdesk/core"
	"github.com/quantpulse/flowdesk/exec"
	"github.com/quantpulse/flowdesk/feeds"
	"github.com/quantpulse/flowdesk/internal/config"
	"github.com/quantpulse/flowdesk/internal/logging"
	"github.com/quantpulse/flowdesk/risk"
	"github.com/quantpulse/flowdesk/server"
	"github.com/quantpulse/flowdesk/storage"
)

const version = "1.2.0"

func main() {
	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging: console writer behind the bounded async queue.
	asyncOut := logging.NewAsyncWriter(os.Stderr, cfg.LoggerQueueLimit, cfg.LoggerDropHaltThreshold)
	defer asyncOut.Close()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: asyncOut})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Strs("symbols", cfg.Symbols).
		Str("addr", cfg.Addr()).
		Msg("⚡ Flowdesk starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ====== PERSISTENCE & NOTIFICATIONS ======

	db, err := storage.New(cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	notifier, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram notifier disabled")
	}

	// ====== EXECUTION SESSION ======

	ramp := risk.NewRamp(risk.RampConfig{
		StartingMargin: cfg.StartingMargin,
		MinMargin:      cfg.MinMargin,
		RampStepPct:    cfg.RampStepPct,
		RampDecayPct:   cfg.RampDecayPct,
		RampMaxMult:    cfg.RampMaxMult,
	})

	var sessNotifier exec.Notifier
	if notifier != nil {
		sessNotifier = notifier
	}
	session := exec.NewSession(ramp, cfg.Symbols, cfg.MaxLeverage, db, sessNotifier)
	exchInfo := exec.NewExchangeInfoCache(cfg.TestnetRESTURL)

	// ====== MARKET DATA PIPELINES ======

	client := feeds.NewBinanceClient(cfg.FuturesRESTURL, cfg.FuturesWSURL)
	hub := server.NewHub(cfg.SubscriberQueue, cfg.DropCloseLimit)

	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range cfg.Symbols {
		var oiFetcher feeds.OiFetcher
		if !cfg.MockOi {
			oiFetcher = client
		}
		oi := feeds.NewOpenInterestMonitor(symbol, oiFetcher, cfg.OiPollInterval)
		funding := feeds.NewFundingMonitor(symbol, client, cfg.OiPollInterval)

		pipe := core.NewPipeline(symbol, core.PipelineDeps{
			Snapshots:     client,
			Oi:            oi,
			Funding:       funding,
			TradeWindowMs: cfg.TradeWindow.Milliseconds(),
		})
		assembler := core.NewAssembler(pipe, hub, cfg.PublishInterval)

		g.Go(func() error { pipe.Run(ctx); return nil })
		g.Go(func() error { assembler.Run(ctx); return nil })
		g.Go(func() error { client.StreamSymbol(ctx, symbol, pipe); return nil })

		log.Info().Str("symbol", symbol).Msg("📊 Pipeline started")
	}

	// ====== HTTP SERVER ======

	ws := server.NewWSHandler(hub, cfg.Symbols, cfg.OriginAllowed)
	api := server.NewAPI(hub, ws, session, exchInfo)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.Router(),
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Info().Str("addr", cfg.Addr()).Msg("✅ All systems online")

	// Binding failures are fatal; a regular shutdown is not.
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}

	stop()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with error")
	}
	log.Info().Msg("👋 Goodbye!")
}
