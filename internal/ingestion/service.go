package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/alarming"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/metrics"
)

var (
	// ErrIngestionFailed wraps provider failures.
	ErrIngestionFailed = errors.New("ingestion failed")
	// ErrInProgress is returned when the city is already being ingested.
	ErrInProgress = errors.New("ingestion already in progress")
)

// Store is the slice of the database ingestion writes to
type Store interface {
	GetCity(ctx context.Context, id string) (*database.City, error)
	InsertReading(ctx context.Context, r *database.Reading) error
}

// Provider fetches the current observation for a city
type Provider interface {
	Fetch(ctx context.Context, city *database.City) (*database.Reading, error)
}

// Guard serializes ingestion per city
type Guard interface {
	TryAcquire(ctx context.Context, cityID string) (release func(), ok bool, err error)
}

// Aggregator refreshes the daily summary
type Aggregator interface {
	Update(ctx context.Context, cityID string, now time.Time) (*database.DailySummary, error)
}

// Evaluator checks a reading against subscriber thresholds
type Evaluator interface {
	Evaluate(ctx context.Context, city *database.City, reading *database.Reading) (alarming.Result, error)
}

// Service fetches, persists, aggregates and evaluates one city at a time.
type Service struct {
	store      Store
	provider   Provider
	guard      Guard
	local      *localGuard
	aggregator Aggregator
	evaluator  Evaluator
	metrics    metrics.Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates an ingestion service
func NewService(store Store, provider Provider, guard Guard, aggregator Aggregator, evaluator Evaluator, recorder metrics.Recorder, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		provider:   provider,
		guard:      guard,
		local:      &localGuard{inflight: make(map[string]struct{})},
		aggregator: aggregator,
		evaluator:  evaluator,
		metrics:    recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// IngestCity fetches the current weather for cityID and persists it. Once the
// reading is stored, aggregation and threshold evaluation failures are logged
// but do not fail the call. If the shared guard cannot be reached the call
// still runs, serialized only within this process.
func (s *Service) IngestCity(ctx context.Context, cityID string) (*database.Reading, error) {
	start := s.now()

	city, err := s.store.GetCity(ctx, cityID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.metrics.RecordIngestion(metrics.IngestNotFound, 0)
		}
		return nil, err
	}

	release, ok, err := s.guard.TryAcquire(ctx, cityID)
	if err != nil {
		s.metrics.RecordLockError()
		s.logger.Warn("Ingestion lock unavailable, falling back to in-process guard",
			zap.String("city_id", cityID),
			zap.String("stage", "lock"),
			zap.Error(err))
		release, ok = s.local.tryAcquire(cityID)
	}
	if !ok {
		s.metrics.RecordIngestion(metrics.IngestInProgress, 0)
		return nil, fmt.Errorf("%w: %s", ErrInProgress, cityID)
	}
	defer release()

	reading, err := s.provider.Fetch(ctx, city)
	if err != nil {
		s.metrics.RecordIngestion(metrics.IngestFailed, 0)
		return nil, fmt.Errorf("%w: %s: %w", ErrIngestionFailed, cityID, err)
	}
	reading.CityID = city.ID

	if err := s.store.InsertReading(ctx, reading); err != nil {
		s.metrics.RecordIngestion(metrics.IngestFailed, 0)
		return nil, fmt.Errorf("failed to store reading for %s: %w", cityID, err)
	}

	if _, err := s.aggregator.Update(ctx, cityID, s.now()); err != nil {
		s.logger.Error("Failed to update daily summary",
			zap.String("city_id", cityID),
			zap.String("stage", "aggregation"),
			zap.Error(err))
	}

	if _, err := s.evaluator.Evaluate(ctx, city, reading); err != nil {
		s.logger.Error("Failed to evaluate thresholds",
			zap.String("city_id", cityID),
			zap.String("stage", "evaluation"),
			zap.Error(err))
	}

	elapsed := s.now().Sub(start)
	s.metrics.RecordIngestion(metrics.IngestSuccess, elapsed)
	s.logger.Info("City ingested",
		zap.String("city_id", cityID),
		zap.Int64("reading_id", reading.ID),
		zap.Float64("temperature_k", reading.Temperature),
		zap.Duration("elapsed", elapsed))

	return reading, nil
}

// localGuard serializes ingestion per city inside one process.
type localGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func (g *localGuard) tryAcquire(cityID string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[cityID]; busy {
		return nil, false
	}
	g.inflight[cityID] = struct{}{}

	return func() {
		g.mu.Lock()
		delete(g.inflight, cityID)
		g.mu.Unlock()
	}, true
}
