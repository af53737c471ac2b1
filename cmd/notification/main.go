package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/delivery"
	"github.com/smukkama/weather-alerts/internal/logging"
	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/internal/notification"
	"github.com/smukkama/weather-alerts/internal/queue"
	"github.com/smukkama/weather-alerts/internal/timer"
	"github.com/smukkama/weather-alerts/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "weather-notification")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Notification service exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if cfg.Queue.Backend != "kafka" {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	if err := queue.Provision(cfg.Queue, cfg.Kafka); err != nil {
		return err
	}

	notifications, err := queue.Open(cfg.Queue, cfg.Kafka, redisClient, true)
	if err != nil {
		return err
	}
	defer notifications.Close()

	transport := notification.NewSMTPTransport(cfg.SMTP, logger)
	if !transport.Configured() {
		logger.Warn("SMTP credentials not set, notifications will be logged only")
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewCollector(reg)

	var redeliver delivery.Redeliverer
	if cfg.Delivery.MaxAttempts > 1 {
		retries := timer.NewScheduler(cfg.Delivery.RetryWorkers)
		retries.Start()
		defer retries.Stop()
		redeliver = retries
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	worker := delivery.NewWorker(notifications, transport, redeliver, cfg.Delivery, recorder, logger)
	return worker.Run(ctx)
}
