package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/alarming"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/internal/provider"
)

type fakeStore struct {
	cities   map[string]*database.City
	inserted []*database.Reading
}

func (f *fakeStore) GetCity(_ context.Context, id string) (*database.City, error) {
	c, ok := f.cities[id]
	if !ok {
		return nil, fmt.Errorf("city %s: %w", id, database.ErrNotFound)
	}
	return c, nil
}

func (f *fakeStore) InsertReading(_ context.Context, r *database.Reading) error {
	r.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, r)
	return nil
}

type fakeProvider struct {
	kelvin float64
	err    error
	calls  int
}

func (f *fakeProvider) Fetch(context.Context, *database.City) (*database.Reading, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &database.Reading{Timestamp: time.Now(), Temperature: f.kelvin}, nil
}

type fakeGuard struct {
	held     map[string]bool
	released int
	err      error
}

func (g *fakeGuard) TryAcquire(_ context.Context, cityID string) (func(), bool, error) {
	if g.err != nil {
		return nil, false, g.err
	}
	if g.held[cityID] {
		return nil, false, nil
	}
	return func() { g.released++ }, true, nil
}

type fakeAggregator struct {
	calls int
	err   error
}

func (f *fakeAggregator) Update(context.Context, string, time.Time) (*database.DailySummary, error) {
	f.calls++
	return nil, f.err
}

type fakeEvaluator struct {
	readings []*database.Reading
	err      error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ *database.City, r *database.Reading) (alarming.Result, error) {
	f.readings = append(f.readings, r)
	return alarming.Result{}, f.err
}

type fixture struct {
	store *fakeStore
	prov  *fakeProvider
	guard *fakeGuard
	agg   *fakeAggregator
	eval  *fakeEvaluator
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{
		store: &fakeStore{cities: map[string]*database.City{"delhi": {ID: "delhi", Name: "Delhi"}}},
		prov:  &fakeProvider{kelvin: 300},
		guard: &fakeGuard{held: map[string]bool{}},
		agg:   &fakeAggregator{},
		eval:  &fakeEvaluator{},
	}
	f.svc = NewService(f.store, f.prov, f.guard, f.agg, f.eval, metrics.Nop{}, zap.NewNop())
	return f
}

func TestIngestCity_Success(t *testing.T) {
	f := newFixture()

	reading, err := f.svc.IngestCity(context.Background(), "delhi")
	require.NoError(t, err)

	assert.Equal(t, "delhi", reading.CityID)
	assert.Equal(t, int64(1), reading.ID)
	require.Len(t, f.store.inserted, 1)
	assert.Equal(t, 1, f.agg.calls)
	require.Len(t, f.eval.readings, 1)
	assert.Same(t, reading, f.eval.readings[0])
	assert.Equal(t, 1, f.guard.released)
}

func TestIngestCity_UnknownCity(t *testing.T) {
	f := newFixture()

	_, err := f.svc.IngestCity(context.Background(), "atlantis")

	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Equal(t, 0, f.prov.calls)
}

func TestIngestCity_ProviderFailureStoresNothing(t *testing.T) {
	f := newFixture()
	f.prov.err = fmt.Errorf("%w: 503", provider.ErrUnavailable)

	_, err := f.svc.IngestCity(context.Background(), "delhi")

	assert.ErrorIs(t, err, ErrIngestionFailed)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Empty(t, f.store.inserted)
	assert.Equal(t, 0, f.agg.calls)
	assert.Empty(t, f.eval.readings)
	assert.Equal(t, 1, f.guard.released)
}

func TestIngestCity_AlreadyInProgress(t *testing.T) {
	f := newFixture()
	f.guard.held["delhi"] = true

	_, err := f.svc.IngestCity(context.Background(), "delhi")

	assert.ErrorIs(t, err, ErrInProgress)
	assert.Equal(t, 0, f.prov.calls)
}

func TestIngestCity_DownstreamFailuresKeepReading(t *testing.T) {
	f := newFixture()
	f.agg.err = errors.New("summary upsert failed")
	f.eval.err = errors.New("subscriber query failed")

	reading, err := f.svc.IngestCity(context.Background(), "delhi")

	require.NoError(t, err)
	assert.NotNil(t, reading)
	assert.Len(t, f.store.inserted, 1)
	assert.Len(t, f.eval.readings, 1, "evaluation still runs after an aggregation failure")
}

func TestIngestCity_LockErrorFallsBackToLocalGuard(t *testing.T) {
	f := newFixture()
	f.guard.err = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

	reading, err := f.svc.IngestCity(context.Background(), "delhi")

	require.NoError(t, err)
	assert.Equal(t, "delhi", reading.CityID)
	assert.Equal(t, 1, f.prov.calls)
	assert.Len(t, f.store.inserted, 1)
	assert.Len(t, f.eval.readings, 1)
	assert.Empty(t, f.svc.local.inflight, "local guard released after the run")

	_, err = f.svc.IngestCity(context.Background(), "delhi")
	require.NoError(t, err)
	assert.Equal(t, 2, f.prov.calls)
}

func TestIngestCity_LockErrorStillSerializesInProcess(t *testing.T) {
	f := newFixture()
	f.guard.err = errors.New("connection refused")
	release, ok := f.svc.local.tryAcquire("delhi")
	require.True(t, ok)
	defer release()

	_, err := f.svc.IngestCity(context.Background(), "delhi")

	assert.ErrorIs(t, err, ErrInProgress)
	assert.Equal(t, 0, f.prov.calls)
}
