package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
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
	"cryptoalerter/internal/tracing"

	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	instance := flag.String("instance", "alerter-1", "Instance ID for this server")
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

	shutdown, err := tracing.InitTracer()
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx := context.Background()
		if err := shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	mailer := notifier.New(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailFrom, cfg.EmailPassword)
	prices := provider.NewClient(
		provider.WithBaseURL(cfg.ProviderBaseURL),
		provider.WithTimeout(time.Duration(cfg.ProviderTimeoutSec)*time.Second),
	)

	hub := handlers.NewHub(redisCache)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

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

	api := &handlers.API{
		Subscriptions: db,
		History:       db,
		Checker:       check,
		Mailer:        mailer,
		Cache:         redisCache,
		Limiter:       redis_rate.NewLimiter(redisCache.Client),
		Hub:           hub,
		Instance:      *instance,
		CronSecret:    cfg.CronSecret,
	}

	mux := http.NewServeMux()
	api.Routes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		logger.Log.Info("Alerter API starting on", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Graceful shutdown failed", zap.Error(err))
	}
	_ = logger.Log.Sync()
}
