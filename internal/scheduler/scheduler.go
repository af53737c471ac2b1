package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/ingestion"
	"github.com/smukkama/weather-alerts/pkg/config"
)

// CityLister lists the monitored cities
type CityLister interface {
	ListCities(ctx context.Context) ([]*database.City, error)
}

// Ingester ingests one city
type Ingester interface {
	IngestCity(ctx context.Context, cityID string) (*database.Reading, error)
}

// TickResult summarizes one pass over all cities.
type TickResult struct {
	Cities    int
	Succeeded int
	Failed    int
	Skipped   int
}

// Scheduler ingests every monitored city on a fixed interval.
type Scheduler struct {
	cron     *gocron.Scheduler
	cities   CityLister
	ingester Ingester
	cfg      config.SchedulerConfig
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a new Scheduler
func New(cities CityLister, ingester Ingester, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CityTimeout <= 0 {
		cfg.CityTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		cities:   cities,
		ingester: ingester,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start runs a tick immediately and then every interval. Ticks are not
// serialized; a city still being ingested by an earlier tick is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("invalid fetch interval %s", s.cfg.Interval)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	_, err := s.cron.Every(s.cfg.Interval).Do(func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("Fetch tick failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule fetch job: %w", err)
	}

	s.cron.StartAsync()
	s.logger.Info("Fetch scheduler started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop stops future ticks and cancels in-flight ones
func (s *Scheduler) Stop() {
	s.cron.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

// RunOnce ingests every city once, at most Concurrency at a time, each bounded
// by CityTimeout. One city's failure does not affect the others.
func (s *Scheduler) RunOnce(ctx context.Context) (TickResult, error) {
	var res TickResult

	cities, err := s.cities.ListCities(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list cities: %w", err)
	}
	res.Cities = len(cities)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Concurrency)
	)

	for _, city := range cities {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return res, ctx.Err()
		}

		wg.Add(1)
		go func(city *database.City) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.ingest(ctx, city)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSucceeded:
				res.Succeeded++
			case outcomeSkipped:
				res.Skipped++
			default:
				res.Failed++
			}
		}(city)
	}

	wg.Wait()

	s.logger.Info("Fetch tick complete",
		zap.Int("cities", res.Cities),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))

	return res, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (s *Scheduler) ingest(ctx context.Context, city *database.City) outcome {
	cityCtx, cancel := context.WithTimeout(ctx, s.cfg.CityTimeout)
	defer cancel()

	_, err := s.ingester.IngestCity(cityCtx, city.ID)
	switch {
	case err == nil:
		return outcomeSucceeded
	case errors.Is(err, ingestion.ErrInProgress):
		s.logger.Debug("City already being ingested, skipping", zap.String("city_id", city.ID))
		return outcomeSkipped
	default:
		s.logger.Warn("City ingestion failed", zap.String("city_id", city.ID), zap.Error(err))
		return outcomeFailed
	}
}
