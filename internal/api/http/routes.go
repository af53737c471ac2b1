package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/alarming"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/ingestion"
	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/pkg/config"
)

var validate = validator.New()

// summaryDays is how many daily summaries the summaries endpoint returns.
const summaryDays = 7

const defaultDeliveryLimit = 20

// Store is the read side of the database used by the API
type Store interface {
	ListCities(ctx context.Context) ([]*database.City, error)
	GetCity(ctx context.Context, id string) (*database.City, error)
	LatestReading(ctx context.Context, cityID string) (*database.Reading, error)
	RecentDailySummaries(ctx context.Context, cityID string, limit int) ([]*database.DailySummary, error)
	GetSubscriber(ctx context.Context, id string) (*database.Subscriber, error)
	RecentDeliveryRecords(ctx context.Context, subscriberID string, limit int) ([]*database.DeliveryRecord, error)
}

// Ingester runs an on-demand ingestion
type Ingester interface {
	IngestCity(ctx context.Context, cityID string) (*database.Reading, error)
}

// NewApp creates a Fiber app with JSON error responses
func NewApp(cfg config.HTTPConfig, logger *zap.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "weather-alerts",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("Request failed",
					zap.String("method", c.Method()),
					zap.String("path", c.Path()),
					zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, store Store, ingester Ingester, gatherer prometheus.Gatherer) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(gatherer)))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/cities", func(c *fiber.Ctx) error {
		cities, err := store.ListCities(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list cities")
		}
		return c.JSON(cities)
	})

	v1.Get("/cities/:cityID/weather", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		city, err := store.GetCity(c.UserContext(), q.CityID)
		if err != nil {
			return lookupError(err, "city not found")
		}

		reading, err := store.LatestReading(c.UserContext(), city.ID)
		if err != nil {
			return lookupError(err, "no weather data for requested city")
		}

		return c.JSON(newWeatherResponse(city, reading, q.unit))
	})

	v1.Get("/cities/:cityID/summaries", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if _, err := store.GetCity(c.UserContext(), q.CityID); err != nil {
			return lookupError(err, "city not found")
		}

		summaries, err := store.RecentDailySummaries(c.UserContext(), q.CityID, summaryDays)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch daily summaries")
		}

		out := make([]summaryResponse, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, newSummaryResponse(s, q.unit))
		}

		return c.JSON(fiber.Map{
			"cityId":    q.CityID,
			"unit":      q.unit,
			"summaries": out,
		})
	})

	v1.Get("/subscribers/:subscriberID/deliveries", func(c *fiber.Ctx) error {
		q := deliveriesQuery{
			SubscriberID: c.Params("subscriberID"),
			Limit:        c.QueryInt("limit", defaultDeliveryLimit),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if _, err := store.GetSubscriber(c.UserContext(), q.SubscriberID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "subscriber not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch subscriber")
		}

		records, err := store.RecentDeliveryRecords(c.UserContext(), q.SubscriberID, q.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch delivery records")
		}

		return c.JSON(fiber.Map{
			"subscriberId": q.SubscriberID,
			"deliveries":   records,
		})
	})

	v1.Post("/cities/:cityID/ingest", func(c *fiber.Ctx) error {
		cityID := c.Params("cityID")
		if err := validate.Var(cityID, "required,max=64"); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reading, err := ingester.IngestCity(c.UserContext(), cityID)
		switch {
		case err == nil:
			return c.Status(fiber.StatusCreated).JSON(reading)
		case errors.Is(err, database.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "city not found")
		case errors.Is(err, ingestion.ErrInProgress):
			return fiber.NewError(fiber.StatusConflict, "ingestion already in progress")
		case errors.Is(err, ingestion.ErrIngestionFailed):
			return fiber.NewError(fiber.StatusBadGateway, "weather provider unavailable")
		default:
			return fiber.NewError(fiber.StatusInternalServerError, "ingestion failed")
		}
	})
}

func lookupError(err error, notFound string) error {
	if errors.Is(err, database.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, notFound)
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
}

// cityQuery holds the path and query parameters of the per-city read endpoints.
type cityQuery struct {
	CityID string `validate:"required,max=64"`
	Unit   string `validate:"oneof=celsius fahrenheit"`
	unit   alarming.Unit
}

func parseCityQuery(c *fiber.Ctx) (cityQuery, error) {
	q := cityQuery{
		CityID: c.Params("cityID"),
		Unit:   strings.ToLower(c.Query("unit", string(alarming.Celsius))),
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	unit, err := alarming.ParseUnit(q.Unit)
	if err != nil {
		return q, err
	}
	q.unit = unit

	return q, nil
}

type deliveriesQuery struct {
	SubscriberID string `validate:"required,max=64"`
	Limit        int    `validate:"min=1,max=100"`
}

type weatherResponse struct {
	CityID      string              `json:"cityId"`
	City        string              `json:"city"`
	Unit        alarming.Unit       `json:"unit"`
	Timestamp   time.Time           `json:"timestamp"`
	ObservedAt  time.Time           `json:"observedAt"`
	Temperature float64             `json:"temperature"`
	FeelsLike   float64             `json:"feelsLike"`
	Humidity    float64             `json:"humidity"`
	Pressure    float64             `json:"pressure"`
	WindSpeed   float64             `json:"windSpeed"`
	Visibility  float64             `json:"visibility"`
	Conditions  database.Conditions `json:"conditions"`
}

func newWeatherResponse(city *database.City, r *database.Reading, unit alarming.Unit) weatherResponse {
	return weatherResponse{
		CityID:      city.ID,
		City:        city.Name,
		Unit:        unit,
		Timestamp:   r.Timestamp,
		ObservedAt:  r.ObservedAt,
		Temperature: unit.FromKelvin(r.Temperature),
		FeelsLike:   unit.FromKelvin(r.FeelsLike),
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		WindSpeed:   r.WindSpeed,
		Visibility:  r.Visibility,
		Conditions:  r.Conditions,
	}
}

type summaryResponse struct {
	Date               string                   `json:"date"`
	AverageTemperature float64                  `json:"averageTemperature"`
	MaxTemperature     float64                  `json:"maxTemperature"`
	MinTemperature     float64                  `json:"minTemperature"`
	DominantCondition  string                   `json:"dominantWeatherCondition"`
	ConditionCounts    database.ConditionCounts `json:"weatherConditionCount"`
	SampleCount        int                      `json:"sampleCount"`
}

func newSummaryResponse(s *database.DailySummary, unit alarming.Unit) summaryResponse {
	return summaryResponse{
		Date:               s.Date.Format(database.DateLayout),
		AverageTemperature: unit.FromKelvin(s.AverageTemperature),
		MaxTemperature:     unit.FromKelvin(s.MaxTemperature),
		MinTemperature:     unit.FromKelvin(s.MinTemperature),
		DominantCondition:  s.DominantCondition,
		ConditionCounts:    s.ConditionCounts,
		SampleCount:        s.SampleCount,
	}
}
