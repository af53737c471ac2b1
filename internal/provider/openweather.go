package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/pkg/config"
)

var (
	// ErrUnavailable covers network failures, non-2xx responses and an open breaker.
	ErrUnavailable = errors.New("weather provider unavailable")
	// ErrMalformedResponse is returned when the provider body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// OpenWeather fetches current conditions from the OpenWeatherMap API.
// Temperatures are returned in Kelvin, the API default when no units are requested.
type OpenWeather struct {
	apiKey  string
	baseURL string
	client  *resilientClient
	logger  *zap.Logger
	now     func() time.Time
}

// NewOpenWeather creates a provider client from configuration
func NewOpenWeather(cfg config.ProviderConfig, logger *zap.Logger) *OpenWeather {
	perMin := cfg.RequestsPerMin
	if perMin <= 0 {
		perMin = 60
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Client errors such as a bad API key say nothing about provider health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || errors.As(err, &se)
		},
	})

	return &OpenWeather{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client: &resilientClient{
			http:    &http.Client{Timeout: cfg.Timeout},
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
			breaker: breaker,
			backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: cfg.InitialBackoff,
				MaxInterval:     cfg.MaxBackoff,
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

type currentWeatherResponse struct {
	Dt   int64 `json:"dt"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  float64 `json:"pressure"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility float64              `json:"visibility"`
	Weather    []database.Condition `json:"weather"`
}

// Fetch returns the current observation for a city. The reading's CityID is set;
// its ID is assigned by the store. Timestamp is the fetch time and places the
// reading in a local day; the provider's dt is kept as ObservedAt.
func (p *OpenWeather) Fetch(ctx context.Context, city *database.City) (*database.Reading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", ErrUnavailable)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(city.Lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(city.Lon, 'f', -1, 64))
		values.Set("appid", p.apiKey)

		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := p.client.do(ctx, buildRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, city.ID, err)
	}
	defer resp.Body.Close()

	var payload currentWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Main == nil {
		return nil, fmt.Errorf("%w: missing main block", ErrMalformedResponse)
	}

	fetchedAt := p.now().UTC()
	observedAt := fetchedAt
	if payload.Dt > 0 {
		observedAt = time.Unix(payload.Dt, 0).UTC()
	}

	conditions := database.Conditions(payload.Weather)
	if conditions == nil {
		conditions = database.Conditions{}
	}

	p.logger.Debug("Fetched current weather",
		zap.String("city_id", city.ID),
		zap.Float64("temperature_k", payload.Main.Temp))

	return &database.Reading{
		CityID:      city.ID,
		Timestamp:   fetchedAt,
		ObservedAt:  observedAt,
		Temperature: payload.Main.Temp,
		FeelsLike:   payload.Main.FeelsLike,
		Humidity:    payload.Main.Humidity,
		Pressure:    payload.Main.Pressure,
		WindSpeed:   payload.Wind.Speed,
		Visibility:  payload.Visibility,
		Conditions:  conditions,
	}, nil
}
