package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmreed/kalshi-mm/internal/adapters/inbound/kalshi_ws"
	"github.com/cmreed/kalshi-mm/internal/adapters/kalshi_auth"
	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/core/book"
	"github.com/cmreed/kalshi-mm/internal/core/maker"
	"github.com/cmreed/kalshi-mm/internal/core/risk"
	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/journal"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting market maker")

	bus := events.NewBus()

	// ── Limits ──────────────────────────────────────────────────
	limits, err := config.LoadLimits(cfg.LimitsPath)
	if err != nil {
		telemetry.Errorf("Failed to load limits: %v", err)
		os.Exit(1)
	}

	// ── Kalshi auth + clients ───────────────────────────────────
	signer, err := kalshi_auth.NewSignerFromFile(cfg.KalshiKeyID, cfg.KalshiKeyFile)
	if err != nil {
		telemetry.Errorf("Kalshi auth: %v", err)
		os.Exit(1)
	}
	if !signer.Enabled() {
		telemetry.Errorf("Kalshi credentials missing: set KALSHI_KEY_ID and KALSHI_KEY_FILE in .env")
		os.Exit(1)
	}
	telemetry.Infof("Kalshi connected  api=%s", cfg.KalshiBaseURL)

	client := kalshi_http.NewClient(cfg.KalshiBaseURL, signer)

	// ── Journal ─────────────────────────────────────────────────
	jrnl, err := journal.OpenStore(cfg.JournalPath)
	if err != nil {
		telemetry.Warnf("Journal disabled: %v", err)
	}

	// ── Book + risk ─────────────────────────────────────────────
	books := book.NewStore(bus)
	riskMgr := risk.NewManager(limits.Risk, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := riskMgr.Initialize(ctx); err != nil {
		telemetry.Errorf("Risk init: %v", err)
		os.Exit(1)
	}

	// ── Market data + fill feeds ────────────────────────────────
	marketWS := kalshi_ws.NewClient(cfg.KalshiWSURL, "market", []string{"orderbook_delta", "trade"}, signer, bus)
	fillWS := kalshi_ws.NewClient(cfg.KalshiWSURL, "fills", []string{"fill"}, signer, bus)

	go func() {
		if err := marketWS.Connect(ctx); err != nil {
			telemetry.Warnf("Market feed: %v", err)
		}
	}()
	go func() {
		if err := fillWS.Connect(ctx); err != nil {
			telemetry.Warnf("Fill feed: %v", err)
		}
	}()

	// ── Engine ──────────────────────────────────────────────────
	engine := maker.NewEngine(limits, books, riskMgr, client, marketWS, jrnl, bus)
	if err := engine.Initialize(ctx); err != nil {
		telemetry.Errorf("Engine init: %v", err)
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		telemetry.Errorf("Engine start: %v", err)
		os.Exit(1)
	}

	// Daily loss tracking runs off the engine's quote path.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := riskMgr.UpdateDailyPnL(ctx); err != nil {
					telemetry.Warnf("Daily PnL update: %v", err)
				}
			}
		}
	}()

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	engine.Stop(shutdownCtx)
	cancel()

	marketWS.Close()
	fillWS.Close()
	jrnl.Close()

	stats := engine.Stats()
	telemetry.Infof("Shutdown complete  quotes=%d  fills=%d  volume=%d  reconnects=%d  unmatched=%d",
		stats.TotalQuotes,
		stats.TotalFills,
		stats.TotalVolume,
		telemetry.Metrics.Reconnects.Value(),
		telemetry.Metrics.UnmatchedFills.Value(),
	)
}
