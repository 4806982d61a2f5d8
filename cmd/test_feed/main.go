package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"taker-terminal/internal/config"
	"taker-terminal/internal/feed"
	"taker-terminal/internal/logger"
	"taker-terminal/internal/model"
	"taker-terminal/pkg/ws"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configDir := flag.String("config", "config", "Directory containing config.yaml")
	withDaemon := flag.Bool("daemon", false, "Also follow the daemon event stream")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.WithError(err).Error("Failed to load config")
		os.Exit(1)
	}

	log.WithField("url", cfg.PriceFeed.URL).Info("Testing price feed...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices := ws.NewPriceFeed(cfg.PriceFeed.URL,
		ws.WithRetry(feed.MaxAttempts{Attempts: 5, Delay: cfg.PriceFeed.ReconnectDelay}),
		ws.WithPingInterval(cfg.PriceFeed.PingInterval),
		ws.WithTickHook(func(price decimal.Decimal) {
			log.WithField("mark_price", price.String()).Info("Received reference price")
		}),
	)
	go func() {
		if err := prices.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("price feed stopped")
		}
	}()

	if *withDaemon {
		aggregator := feed.NewAggregator(cfg.Daemon.FeedURL(),
			feed.WithRetry(feed.MaxAttempts{Attempts: 5, Delay: cfg.Daemon.ReconnectDelay}),
			feed.WithBasicAuth(cfg.Daemon.Username, cfg.Daemon.Password),
		)
		topics := feed.RegisterTopics(aggregator)

		topics.Wallet.Subscribe(func(w model.WalletInfo) {
			log.WithFields(logger.Fields{
				"balance": w.Balance.String(),
				"address": w.Address,
			}).Info("Received wallet")
		})
		topics.MakerStatus.Subscribe(func(s model.ConnectionStatus) {
			log.WithField("online", s.Online).Info("Received maker status")
		})
		topics.Cfds.Subscribe(func(cfds []model.Cfd) {
			open, closed := model.Partition(cfds)
			log.WithFields(logger.Fields{"open": len(open), "closed": len(closed)}).Info("Received cfds")
		})
		logOffer := func(topic string) func(*model.MakerOffer) {
			return func(o *model.MakerOffer) {
				if o == nil {
					log.WithField("topic", topic).Info("Maker offers no liquidity")
					return
				}
				log.WithFields(logger.Fields{
					"topic": topic,
					"id":    o.ID.String(),
					"price": o.Price.String(),
					"min":   o.MinQuantity.String(),
					"max":   o.MaxQuantity.String(),
				}).Info("Received offer")
			}
		}
		topics.LongOffer.Subscribe(logOffer(feed.TopicLongOffer))
		topics.ShortOffer.Subscribe(logOffer(feed.TopicShortOffer))

		go func() {
			if err := aggregator.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("daemon feed stopped")
			}
		}()
	}

	log.Info("Listening. Press Ctrl+C to exit...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	cancel()
	time.Sleep(100 * time.Millisecond)
}
