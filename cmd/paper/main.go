package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cmreed/kalshi-mm/internal/adapters/inbound/kalshi_ws"
	"github.com/cmreed/kalshi-mm/internal/adapters/kalshi_auth"
	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/core/book"
	"github.com/cmreed/kalshi-mm/internal/core/sim"
	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/journal"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting paper trader")

	bus := events.NewBus()

	limits, err := config.LoadLimits(cfg.LimitsPath)
	if err != nil {
		telemetry.Errorf("Failed to load limits: %v", err)
		os.Exit(1)
	}

	// Credentials are optional here: public market data works without
	// them, they just widen the feed access.
	signer, err := kalshi_auth.NewSignerFromFile(cfg.KalshiKeyID, cfg.KalshiKeyFile)
	if err != nil {
		telemetry.Errorf("Kalshi auth: %v", err)
		os.Exit(1)
	}
	if !signer.Enabled() {
		telemetry.Warnf("No Kalshi credentials, dialing public feeds only")
	}

	client := kalshi_http.NewClient(cfg.KalshiBaseURL, signer)

	jrnl, err := journal.OpenStore(cfg.JournalPath)
	if err != nil {
		telemetry.Warnf("Journal disabled: %v", err)
	}

	books := book.NewStore(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	marketWS := kalshi_ws.NewClient(cfg.KalshiWSURL, "market", []string{"orderbook_delta", "trade"}, signer, bus)
	go func() {
		if err := marketWS.Connect(ctx); err != nil {
			telemetry.Warnf("Market feed: %v", err)
		}
	}()

	simulator := sim.NewSimulator(limits, books, client, marketWS, jrnl, bus)

	// SIGINT ends the run early but still prints the report.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		telemetry.Infof("Interrupted, finishing up...")
		cancel()
	}()

	report, err := simulator.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		telemetry.Errorf("Simulation: %v", err)
		os.Exit(1)
	}

	marketWS.Close()
	jrnl.Close()

	telemetry.Plainf("\n%s", report.String())
}
