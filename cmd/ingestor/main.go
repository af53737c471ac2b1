package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/aggregation"
	"github.com/smukkama/weather-alerts/internal/alarming"
	httpapi "github.com/smukkama/weather-alerts/internal/api/http"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/ingestion"
	"github.com/smukkama/weather-alerts/internal/lock"
	"github.com/smukkama/weather-alerts/internal/logging"
	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/internal/provider"
	"github.com/smukkama/weather-alerts/internal/queue"
	"github.com/smukkama/weather-alerts/internal/scheduler"
	"github.com/smukkama/weather-alerts/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "weather-ingestor")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Ingestor exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(cfg.Database.URL()); err != nil {
		return err
	}
	logger.Info("Database migrations applied")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedCities(ctx, db, cfg.Cities); err != nil {
		return err
	}
	logger.Info("Monitored cities seeded", zap.Int("cities", len(cfg.Cities)))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := queue.Provision(cfg.Queue, cfg.Kafka); err != nil {
		return err
	}

	notifications, err := queue.Open(cfg.Queue, cfg.Kafka, redisClient, false)
	if err != nil {
		return err
	}
	defer notifications.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(reg)

	ingest := ingestion.NewService(
		db,
		provider.NewOpenWeather(cfg.Provider, logger),
		lock.NewCityGuard(redisClient, cfg.Scheduler.LockTTL, logger),
		aggregation.NewDailyAggregator(db, cfg.Location, logger),
		alarming.NewEvaluator(db, db, notifications, recorder, logger),
		recorder,
		logger,
	)

	sched := scheduler.New(db, ingest, cfg.Scheduler, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	app := httpapi.NewApp(cfg.HTTP, logger)
	httpapi.RegisterRoutes(app, db, ingest, reg)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		logger.Info("HTTP API listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	return app.ShutdownWithTimeout(10 * time.Second)
}

func seedCities(ctx context.Context, db *database.DB, cities []config.CityConfig) error {
	for _, c := range cities {
		city := &database.City{
			ID:          c.ID,
			Name:        c.Name,
			CountryCode: c.CountryCode,
			Lat:         c.Lat,
			Lon:         c.Lon,
		}
		if err := db.UpsertCity(ctx, city); err != nil {
			return fmt.Errorf("failed to seed city %s: %w", c.ID, err)
		}
	}
	return nil
}
