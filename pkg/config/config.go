package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Queue     QueueConfig
	Provider  ProviderConfig
	Scheduler SchedulerConfig
	Delivery  DeliveryConfig
	SMTP      SMTPConfig
	HTTP      HTTPConfig
	Log       LogConfig

	// Location defines "local day" for daily summaries.
	Location *time.Location
	Cities   []CityConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// URL returns the connection string in URL form, which the migrator requires.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers          []string
	TopicAlerts      string
	TopicDeadLetters string
	GroupID          string
}

// QueueConfig selects the notification queue backend.
type QueueConfig struct {
	Backend     string // "redis" or "kafka"
	Key         string
	PollTimeout time.Duration
}

type ProviderConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	RequestsPerMin  int
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
}

type SchedulerConfig struct {
	Interval    time.Duration
	CityTimeout time.Duration
	Concurrency int
	LockTTL     time.Duration
}

type DeliveryConfig struct {
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	DeadLetter      bool
	RetryWorkers    int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// CityConfig is one monitored city as configured in CITIES.
type CityConfig struct {
	ID          string
	Name        string
	CountryCode string
	Lat         float64
	Lon         float64
}

const defaultCities = "delhi|Delhi|IN|28.6139|77.2090," +
	"mumbai|Mumbai|IN|19.0760|72.8777," +
	"chennai|Chennai|IN|13.0827|80.2707," +
	"bangalore|Bangalore|IN|12.9716|77.5946," +
	"kolkata|Kolkata|IN|22.5726|88.3639," +
	"hyderabad|Hyderabad|IN|17.3850|78.4867"

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cities, err := ParseCities(getEnv("CITIES", defaultCities))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "weather_user"),
			Password: getEnv("DB_PASSWORD", "weather_pass"),
			DBName:   getEnv("DB_NAME", "weather_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAlerts:      getEnv("KAFKA_TOPIC_ALERTS", "weather.alerts.email"),
			TopicDeadLetters: getEnv("KAFKA_TOPIC_DEAD_LETTERS", "weather.alerts.email.dead"),
			GroupID:          getEnv("KAFKA_GROUP_ID", "notification-group"),
		},
		Queue: QueueConfig{
			Backend:     getEnv("QUEUE_BACKEND", "redis"),
			Key:         getEnv("QUEUE_KEY", "emailNotification"),
			PollTimeout: getEnvAsDuration("QUEUE_POLL_TIMEOUT", 5*time.Second),
		},
		Provider: ProviderConfig{
			APIKey:          getEnv("OPENWEATHERMAP_API_KEY", ""),
			BaseURL:         getEnv("OPENWEATHERMAP_BASE_URL", "https://api.openweathermap.org/data/2.5/weather"),
			Timeout:         getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			RequestsPerMin:  getEnvAsInt("PROVIDER_REQUESTS_PER_MINUTE", 60),
			MaxRetries:      getEnvAsInt("PROVIDER_MAX_RETRIES", 2),
			InitialBackoff:  getEnvAsDuration("PROVIDER_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      getEnvAsDuration("PROVIDER_MAX_BACKOFF", 5*time.Second),
			BreakerInterval: getEnvAsDuration("PROVIDER_BREAKER_INTERVAL", time.Minute),
			BreakerTimeout:  getEnvAsDuration("PROVIDER_BREAKER_TIMEOUT", 2*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Interval:    getEnvAsDuration("FETCH_INTERVAL", 5*time.Minute),
			CityTimeout: getEnvAsDuration("SCHEDULER_CITY_TIMEOUT", 30*time.Second),
			Concurrency: getEnvAsInt("SCHEDULER_CONCURRENCY", 1),
			LockTTL:     getEnvAsDuration("INGEST_LOCK_TTL", 2*time.Minute),
		},
		Delivery: DeliveryConfig{
			MaxAttempts:     getEnvAsInt("DELIVERY_MAX_ATTEMPTS", 1),
			RetryBackoff:    getEnvAsDuration("DELIVERY_RETRY_BACKOFF", 30*time.Second),
			RetryMaxBackoff: getEnvAsDuration("DELIVERY_RETRY_MAX_BACKOFF", 10*time.Minute),
			DeadLetter:      getEnvAsBool("DELIVERY_DEAD_LETTER", false),
			RetryWorkers:    getEnvAsInt("DELIVERY_RETRY_WORKERS", 2),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "weather-alerts@example.com"),
		},
		HTTP: HTTPConfig{
			Port:         getEnvAsInt("HTTP_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Location: loc,
		Cities:   cities,
	}

	return config, nil
}

// ParseCities parses "id|name|country|lat|lon" entries separated by commas.
func ParseCities(raw string) ([]CityConfig, error) {
	var cities []CityConfig
	seen := make(map[string]bool)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, "|")
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid CITIES entry %q (expected id|name|country|lat|lon)", entry)
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("invalid latitude in CITIES entry %q", entry)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("invalid longitude in CITIES entry %q", entry)
		}

		id := strings.TrimSpace(parts[0])
		if id == "" {
			return nil, fmt.Errorf("empty city id in CITIES entry %q", entry)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate city id %q in CITIES", id)
		}
		seen[id] = true

		cities = append(cities, CityConfig{
			ID:          id,
			Name:        strings.TrimSpace(parts[1]),
			CountryCode: strings.TrimSpace(parts[2]),
			Lat:         lat,
			Lon:         lon,
		})
	}

	return cities, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
