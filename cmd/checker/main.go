package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"cryptoalerter/internal/cache"
	"cryptoalerter/internal/checker"
	"cryptoalerter/internal/config"
	"cryptoalerter/internal/database"
	"cryptoalerter/internal/events"
	"cryptoalerter/internal/handlers"
	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/notifier"
	"cryptoalerter/internal/provider"

	"go.uber.org/zap"
)

// Standalone periodic trigger for deployments without an HTTP cron: runs the
// same check the /check-prices endpoint does, on a fixed interval.
func main() {
	interval := flag.Duration("interval", 5*time.Minute, "Time between price checks")
	once := flag.Bool("once", false, "Run a single check and exit")
	kafkaEnabled := flag.Bool("kafka", true, "Publish fired alerts to Kafka")
	flag.Parse()

	logger.InitLogger()
	cfg := config.Load()

	redisCache, err := cache.New(cfg.RedisAddr)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	mailer := notifier.New(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailFrom, cfg.EmailPassword)
	prices := provider.NewClient(
		provider.WithBaseURL(cfg.ProviderBaseURL),
		provider.WithTimeout(time.Duration(cfg.ProviderTimeoutSec)*time.Second),
	)

	hub := handlers.NewHub(redisCache)
	checkOpts := []checker.Option{checker.WithPublisher(hub)}
	if *kafkaEnabled {
		publisher, err := events.NewPublisher(cfg.KafkaBrokers, cfg.AlertTopic)
		if err != nil {
			logger.Log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer publisher.Close()
		checkOpts = append(checkOpts, checker.WithPublisher(publisher))
	}
	check := checker.New(db, prices, db, mailer, checkOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func() {
		summary, err := check.RunCheck(ctx)
		if err != nil {
			logger.Log.Error("Price check failed", zap.Error(err))
			return
		}
		logger.Log.Info("Price check run finished",
			zap.Int("assets_checked", summary.AssetsChecked),
			zap.Int("alerts_sent", summary.AlertsSent),
		)
	}

	if *once {
		runOnce()
		return
	}

	logger.Log.Info("Checker starting", zap.Duration("interval", *interval))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	// Runs are sequential: a slow run delays the next tick rather than
	// overlapping it, so two checks never race on the same subscription.
	runOnce()
	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			logger.Log.Info("Checker shutting down")
			return
		}
	}
}
