package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taker-terminal/internal/config"
	"taker-terminal/internal/exchange/daemon"
	"taker-terminal/internal/feed"
	"taker-terminal/internal/logger"
	"taker-terminal/internal/metrics"
	"taker-terminal/internal/model"
	"taker-terminal/internal/notify"
	"taker-terminal/internal/order"
	"taker-terminal/internal/terminal"
	"taker-terminal/pkg/ws"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configDir := flag.String("config", "config", "Directory containing config.yaml")
	snapshotEvery := flag.Duration("snapshot", 30*time.Second, "Interval between state snapshots in the log, 0 disables")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.WithError(err).Error("Failed to load config")
		os.Exit(1)
	}

	if err := log.Configure(cfg.App.LogLevel, cfg.Logging); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"daemon":     cfg.Daemon.BaseURL,
		"price_feed": cfg.PriceFeed.URL,
		"port":       cfg.App.Port,
	}).Info("config loaded")

	m := metrics.New("taker")

	var retry feed.RetryPolicy = feed.Forever{Delay: cfg.Daemon.ReconnectDelay}
	if cfg.Daemon.ReconnectRate > 0 {
		retry = feed.NewLimiterRetry(cfg.Daemon.ReconnectRate, 1)
	}

	aggregator := feed.NewAggregator(cfg.Daemon.FeedURL(),
		feed.WithRetry(retry),
		feed.WithBasicAuth(cfg.Daemon.Username, cfg.Daemon.Password),
		feed.WithObserver(m),
	)

	prices := ws.NewPriceFeed(cfg.PriceFeed.URL,
		ws.WithRetry(feed.Forever{Delay: cfg.PriceFeed.ReconnectDelay}),
		ws.WithPingInterval(cfg.PriceFeed.PingInterval),
		ws.WithTickHook(m.PriceTick),
	)

	client := daemon.NewClient(cfg.Daemon)

	term := terminal.New(terminal.Components{
		Aggregator: aggregator,
		PriceFeed:  prices,
		Exchange:   client,
		Submitter:  order.NewSubmitter(client, m),
		Board:      notify.NewBoard(),
	}, cfg.Trade)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- term.Start(ctx) }()

	if *snapshotEvery > 0 {
		go logSnapshots(ctx, log.WithComponent("snapshot"), term, *snapshotEvery)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
		cancel()
		<-done
	case err := <-done:
		log.WithError(err).Error("terminal stopped unexpectedly")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics server shutdown")
	}
	log.Info("Shutting down...")
}

func logSnapshots(ctx context.Context, log *logger.Entry, term *terminal.Terminal, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSnapshot(log, term)
		}
	}
}

func logSnapshot(log *logger.Entry, term *terminal.Terminal) {
	fields := logger.Fields{
		"maker_online":         term.MakerOnline(),
		"price_feed_connected": term.PriceFeedConnected(),
		"notifications":        len(term.Board().Active()),
	}

	if wallet, ok := term.Wallet(); ok {
		fields["balance"] = wallet.Balance.String()
		fields["wallet_synced_at"] = wallet.LastUpdated().Format(time.RFC3339)
	}
	if identity, ok := term.Identity(); ok {
		fields["identity"] = string(identity)
	}
	if price, ok := term.ReferencePrice(); ok {
		fields["reference_price"] = price.String()
	}
	if next, ok := term.NextFundingEvent(time.Now()); ok {
		fields["next_funding"] = next.Format(time.RFC3339)
	}

	open, closed := term.Positions()
	fields["open_positions"] = len(open)
	fields["closed_positions"] = len(closed)

	for _, side := range []model.Position{model.PositionLong, model.PositionShort} {
		view := term.Trade(side)
		prefix := string(side)
		fields[prefix+"_quantity"] = view.State.Quantity.String()
		fields[prefix+"_margin"] = view.Quote.Margin.String()
		fields[prefix+"_can_submit"] = view.Quote.CanSubmit
		fields[prefix+"_leverages"] = view.Leverages
		if view.WarningVisible {
			fields[prefix+"_warning"] = view.WarningTitle
		}
	}

	log.WithFields(fields).Info("terminal snapshot")
}
