package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/ingestion"
	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/pkg/config"
)

type fakeStore struct {
	cities      []*database.City
	readings    map[string]*database.Reading
	summaries   map[string][]*database.DailySummary
	subscribers map[string]*database.Subscriber
	deliveries  map[string][]*database.DeliveryRecord
	deliveryErr error
	limit       int
}

func (f *fakeStore) ListCities(context.Context) ([]*database.City, error) {
	return f.cities, nil
}

func (f *fakeStore) GetCity(_ context.Context, id string) (*database.City, error) {
	for _, c := range f.cities {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("city %s: %w", id, database.ErrNotFound)
}

func (f *fakeStore) LatestReading(_ context.Context, cityID string) (*database.Reading, error) {
	r, ok := f.readings[cityID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) RecentDailySummaries(_ context.Context, cityID string, limit int) ([]*database.DailySummary, error) {
	f.limit = limit
	return f.summaries[cityID], nil
}

func (f *fakeStore) GetSubscriber(_ context.Context, id string) (*database.Subscriber, error) {
	s, ok := f.subscribers[id]
	if !ok {
		return nil, fmt.Errorf("subscriber %s: %w", id, database.ErrNotFound)
	}
	return s, nil
}

func (f *fakeStore) RecentDeliveryRecords(_ context.Context, subscriberID string, limit int) ([]*database.DeliveryRecord, error) {
	f.limit = limit
	if f.deliveryErr != nil {
		return nil, f.deliveryErr
	}
	records := f.deliveries[subscriberID]
	if records == nil {
		records = []*database.DeliveryRecord{}
	}
	return records, nil
}

type fakeIngester struct {
	err error
}

func (f *fakeIngester) IngestCity(_ context.Context, cityID string) (*database.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &database.Reading{ID: 7, CityID: cityID, Temperature: 290}, nil
}

func newTestApp(store *fakeStore, ing *fakeIngester) *fiber.App {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)
	app := NewApp(config.HTTPConfig{ReadTimeout: time.Second, WriteTimeout: time.Second}, zap.NewNop())
	RegisterRoutes(app, store, ing, reg)
	return app
}

func sampleStore() *fakeStore {
	return &fakeStore{
		cities: []*database.City{{ID: "delhi", Name: "Delhi", CountryCode: "IN"}},
		readings: map[string]*database.Reading{
			"delhi": {ID: 1, CityID: "delhi", Temperature: 300, FeelsLike: 303.15, Humidity: 40},
		},
		summaries: map[string][]*database.DailySummary{
			"delhi": {{
				CityID:             "delhi",
				Date:               time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
				AverageTemperature: 373.15,
				MaxTemperature:     373.15,
				MinTemperature:     273.15,
				DominantCondition:  "Clear",
				ConditionCounts:    database.ConditionCounts{{Category: "Clear", Count: 3}},
				SampleCount:        3,
			}},
		},
		subscribers: map[string]*database.Subscriber{
			"u1": {ID: "u1", CityID: "delhi", PreferredUnit: "Celsius"},
			"u2": {ID: "u2", CityID: "delhi", PreferredUnit: "Celsius"},
		},
		deliveries: map[string][]*database.DeliveryRecord{
			"u1": {{
				ID:           "rec-1",
				SubscriberID: "u1",
				Channel:      database.ChannelEmail,
				Message:      "The current temperature in Delhi is 26.85°C",
				SentAt:       time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
			}},
		},
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, body := get(t, app, "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, body := get(t, app, "/metrics")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "weather_dead_letters_total")
}

func TestListCities(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, body := get(t, app, "/api/v1/cities")
	require.Equal(t, http.StatusOK, code)

	var cities []database.City
	require.NoError(t, json.Unmarshal([]byte(body), &cities))
	require.Len(t, cities, 1)
	assert.Equal(t, "Delhi", cities[0].Name)
}

func TestCurrentWeather_Converted(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, body := get(t, app, "/api/v1/cities/delhi/weather?unit=Fahrenheit")
	require.Equal(t, http.StatusOK, code)

	var resp weatherResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "Fahrenheit", string(resp.Unit))
	assert.InDelta(t, 80.33, resp.Temperature, 1e-6)
	assert.InDelta(t, 86, resp.FeelsLike, 1e-6)
}

func TestCurrentWeather_DefaultsToCelsius(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, body := get(t, app, "/api/v1/cities/delhi/weather")
	require.Equal(t, http.StatusOK, code)

	var resp weatherResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.InDelta(t, 26.85, resp.Temperature, 1e-6)
}

func TestCurrentWeather_InvalidUnit(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, _ := get(t, app, "/api/v1/cities/delhi/weather?unit=Kelvin")

	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCurrentWeather_NotFound(t *testing.T) {
	store := sampleStore()
	store.cities = append(store.cities, &database.City{ID: "oslo", Name: "Oslo"})
	app := newTestApp(store, &fakeIngester{})

	code, _ := get(t, app, "/api/v1/cities/atlantis/weather")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, app, "/api/v1/cities/oslo/weather")
	assert.Equal(t, http.StatusNotFound, code, "known city without readings")
}

func TestSummaries(t *testing.T) {
	store := sampleStore()
	app := newTestApp(store, &fakeIngester{})

	code, body := get(t, app, "/api/v1/cities/delhi/summaries?unit=celsius")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 7, store.limit)

	var resp struct {
		Unit      string            `json:"unit"`
		Summaries []summaryResponse `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Summaries, 1)
	s := resp.Summaries[0]
	assert.Equal(t, "2024-06-10", s.Date)
	assert.InDelta(t, 100, s.MaxTemperature, 1e-9)
	assert.InDelta(t, 0, s.MinTemperature, 1e-9)
	assert.Equal(t, "Clear", s.DominantCondition)
	assert.Equal(t, 3, s.ConditionCounts.Get("Clear"))
}

func TestDeliveries(t *testing.T) {
	store := sampleStore()
	app := newTestApp(store, &fakeIngester{})

	code, body := get(t, app, "/api/v1/subscribers/u1/deliveries")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, 20, store.limit)

	var resp struct {
		SubscriberID string                     `json:"subscriberId"`
		Deliveries   []*database.DeliveryRecord `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "u1", resp.SubscriberID)
	require.Len(t, resp.Deliveries, 1)
	assert.Equal(t, "rec-1", resp.Deliveries[0].ID)
	assert.Equal(t, database.ChannelEmail, resp.Deliveries[0].Channel)
	assert.True(t, resp.Deliveries[0].SentAt.Equal(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)))
}

func TestDeliveries_EmptyHistory(t *testing.T) {
	app := newTestApp(sampleStore(), &fakeIngester{})

	code, body := get(t, app, "/api/v1/subscribers/u2/deliveries?limit=5")

	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"subscriberId":"u2","deliveries":[]}`, body)
}

func TestDeliveries_Errors(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		store func(*fakeStore)
		want  int
	}{
		{"unknown subscriber", "/api/v1/subscribers/ghost/deliveries", nil, http.StatusNotFound},
		{"limit too large", "/api/v1/subscribers/u1/deliveries?limit=500", nil, http.StatusBadRequest},
		{"limit zero", "/api/v1/subscribers/u1/deliveries?limit=0", nil, http.StatusBadRequest},
		{"store down", "/api/v1/subscribers/u1/deliveries", func(f *fakeStore) { f.deliveryErr = errors.New("connection refused") }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := sampleStore()
			if tt.store != nil {
				tt.store(store)
			}
			app := newTestApp(store, &fakeIngester{})

			code, body := get(t, app, tt.path)

			assert.Equal(t, tt.want, code, body)
		})
	}
}

func TestIngest(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"created", nil, http.StatusCreated},
		{"unknown city", fmt.Errorf("city x: %w", database.ErrNotFound), http.StatusNotFound},
		{"in progress", fmt.Errorf("%w: delhi", ingestion.ErrInProgress), http.StatusConflict},
		{"provider down", fmt.Errorf("%w: delhi: timeout", ingestion.ErrIngestionFailed), http.StatusBadGateway},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(sampleStore(), &fakeIngester{err: tt.err})

			code, body := do(t, app, http.MethodPost, "/api/v1/cities/delhi/ingest")

			assert.Equal(t, tt.want, code, body)
		})
	}
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	return do(t, app, http.MethodGet, path)
}

func do(t *testing.T, app *fiber.App, method, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}
