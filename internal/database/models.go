package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// City is a monitored location. Cities are owned by configuration.
type City struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CountryCode string    `json:"countryCode"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Condition is one weather condition tag as reported by the provider
type Condition struct {
	Code        int    `json:"id"`
	Category    string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Conditions is stored as a JSONB array and keeps provider order.
type Conditions []Condition

func (c Conditions) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *Conditions) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// Reading is one timestamped observation for a city. Temperatures are Kelvin.
// Timestamp is when the pipeline fetched it; ObservedAt is the provider's own
// observation time, which may lag Timestamp by several minutes.
type Reading struct {
	ID          int64      `json:"id"`
	CityID      string     `json:"cityId"`
	Timestamp   time.Time  `json:"timestamp"`
	ObservedAt  time.Time  `json:"observedAt"`
	Temperature float64    `json:"temperature"`
	FeelsLike   float64    `json:"feelsLike"`
	Humidity    float64    `json:"humidity"`
	Pressure    float64    `json:"pressure"`
	WindSpeed   float64    `json:"windSpeed"`
	Visibility  float64    `json:"visibility"`
	Conditions  Conditions `json:"conditions"`
}

// ConditionCount is one histogram bucket of a daily summary.
type ConditionCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ConditionCounts is an ordered histogram; order is first-seen order.
type ConditionCounts []ConditionCount

func (c ConditionCounts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *ConditionCounts) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// Get returns the count for category, or 0.
func (c ConditionCounts) Get(category string) int {
	for _, cc := range c {
		if cc.Category == category {
			return cc.Count
		}
	}
	return 0
}

// DailySummary is the per-city, per-local-day rollup. Natural key: (CityID, Date).
type DailySummary struct {
	CityID             string          `json:"cityId"`
	Date               time.Time       `json:"date"`
	AverageTemperature float64         `json:"averageTemperature"`
	MaxTemperature     float64         `json:"maxTemperature"`
	MinTemperature     float64         `json:"minTemperature"`
	DominantCondition  string          `json:"dominantWeatherCondition"`
	ConditionCounts    ConditionCounts `json:"weatherConditionCount"`
	SampleCount        int             `json:"sampleCount"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Thresholds are always authored and stored in Celsius.
type Thresholds struct {
	MaxCelsius float64
	MinCelsius float64
}

// Subscriber is a user's alerting profile. Read-only to the pipeline.
type Subscriber struct {
	ID            string
	CityID        string
	PreferredUnit string
	Thresholds    Thresholds
	EmailEnabled  bool
	ContactEmail  string
}

// DeliveryRecord is an append-only audit entry for a dispatched notification.
type DeliveryRecord struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriberId"`
	Channel      string    `json:"channel"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sentAt"`
}

const (
	ChannelEmail = "Email"
)

// DateLayout is the storage format of a summary's calendar date.
const DateLayout = "2006-01-02"

func scanJSON(src interface{}, dst interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return json.Unmarshal(data, dst)
}
