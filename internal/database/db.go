package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when the requested city, subscriber or reading does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB) *DB {
	return &DB{db}
}

// UpsertCity inserts or updates a configured city
func (db *DB) UpsertCity(ctx context.Context, city *City) error {
	query := `
		INSERT INTO cities (id, name, country_code, lat, lon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    country_code = EXCLUDED.country_code,
		    lat = EXCLUDED.lat,
		    lon = EXCLUDED.lon,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, city.ID, city.Name, city.CountryCode, city.Lat, city.Lon)
	return err
}

// GetCity retrieves a city by id
func (db *DB) GetCity(ctx context.Context, id string) (*City, error) {
	query := `
		SELECT id, name, country_code, lat, lon, created_at, updated_at
		FROM cities
		WHERE id = $1
	`

	var c City
	err := db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.CountryCode,
		&c.Lat,
		&c.Lon,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("city %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// ListCities returns all monitored cities ordered by id
func (db *DB) ListCities(ctx context.Context) ([]*City, error) {
	query := `
		SELECT id, name, country_code, lat, lon, created_at, updated_at
		FROM cities
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []*City
	for rows.Next() {
		var c City
		if err := rows.Scan(&c.ID, &c.Name, &c.CountryCode, &c.Lat, &c.Lon, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cities = append(cities, &c)
	}

	return cities, rows.Err()
}

// InsertReading persists a raw reading and sets its ID
func (db *DB) InsertReading(ctx context.Context, r *Reading) error {
	query := `
		INSERT INTO readings (
			city_id, recorded_at, observed_at, temperature, feels_like,
			humidity, pressure, wind_speed, visibility, conditions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	return db.QueryRowContext(
		ctx,
		query,
		r.CityID,
		r.Timestamp,
		r.ObservedAt,
		r.Temperature,
		r.FeelsLike,
		r.Humidity,
		r.Pressure,
		r.WindSpeed,
		r.Visibility,
		r.Conditions,
	).Scan(&r.ID)
}

const readingColumns = `id, city_id, recorded_at, observed_at, temperature, feels_like,
		       humidity, pressure, wind_speed, visibility, conditions`

func scanReading(row interface{ Scan(...interface{}) error }) (*Reading, error) {
	var r Reading
	err := row.Scan(
		&r.ID,
		&r.CityID,
		&r.Timestamp,
		&r.ObservedAt,
		&r.Temperature,
		&r.FeelsLike,
		&r.Humidity,
		&r.Pressure,
		&r.WindSpeed,
		&r.Visibility,
		&r.Conditions,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestReading returns the most recent reading for a city
func (db *DB) LatestReading(ctx context.Context, cityID string) (*Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE city_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`

	r, err := scanReading(db.QueryRowContext(ctx, query, cityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading for city %s: %w", cityID, ErrNotFound)
	}
	return r, err
}

// ReadingsBetween returns a city's readings with from <= recorded_at <= to, oldest first
func (db *DB) ReadingsBetween(ctx context.Context, cityID string, from, to time.Time) ([]*Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE city_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC, id ASC
	`

	rows, err := db.QueryContext(ctx, query, cityID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []*Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

// UpsertDailySummary inserts or replaces the summary for (city, date)
func (db *DB) UpsertDailySummary(ctx context.Context, s *DailySummary) error {
	query := `
		INSERT INTO daily_summaries (
			city_id, date, avg_temperature, max_temperature, min_temperature,
			dominant_condition, condition_counts, sample_count, updated_at
		) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (city_id, date) DO UPDATE
		SET avg_temperature = EXCLUDED.avg_temperature,
		    max_temperature = EXCLUDED.max_temperature,
		    min_temperature = EXCLUDED.min_temperature,
		    dominant_condition = EXCLUDED.dominant_condition,
		    condition_counts = EXCLUDED.condition_counts,
		    sample_count = EXCLUDED.sample_count,
		    updated_at = CURRENT_TIMESTAMP
	`

	_, err := db.ExecContext(
		ctx,
		query,
		s.CityID,
		s.Date.Format(DateLayout),
		s.AverageTemperature,
		s.MaxTemperature,
		s.MinTemperature,
		s.DominantCondition,
		s.ConditionCounts,
		s.SampleCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily summary: %w", err)
	}
	return nil
}

// RecentDailySummaries returns up to limit summaries for a city, newest first
func (db *DB) RecentDailySummaries(ctx context.Context, cityID string, limit int) ([]*DailySummary, error) {
	query := `
		SELECT city_id, date, avg_temperature, max_temperature, min_temperature,
		       dominant_condition, condition_counts, sample_count, updated_at
		FROM daily_summaries
		WHERE city_id = $1
		ORDER BY date DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, cityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*DailySummary
	for rows.Next() {
		var s DailySummary
		if err := rows.Scan(
			&s.CityID,
			&s.Date,
			&s.AverageTemperature,
			&s.MaxTemperature,
			&s.MinTemperature,
			&s.DominantCondition,
			&s.ConditionCounts,
			&s.SampleCount,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// SubscribersByCity returns every subscriber assigned to a city
func (db *DB) SubscribersByCity(ctx context.Context, cityID string) ([]*Subscriber, error) {
	query := `
		SELECT id, city_id, preferred_unit, threshold_max_c, threshold_min_c,
		       email_enabled, contact_email
		FROM subscribers
		WHERE city_id = $1
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscribers []*Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(
			&s.ID,
			&s.CityID,
			&s.PreferredUnit,
			&s.Thresholds.MaxCelsius,
			&s.Thresholds.MinCelsius,
			&s.EmailEnabled,
			&s.ContactEmail,
		); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, &s)
	}

	return subscribers, rows.Err()
}

// GetSubscriber reads a single subscriber's preferences
func (db *DB) GetSubscriber(ctx context.Context, id string) (*Subscriber, error) {
	query := `
		SELECT id, city_id, preferred_unit, threshold_max_c, threshold_min_c,
		       email_enabled, contact_email
		FROM subscribers
		WHERE id = $1
	`

	var s Subscriber
	err := db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.CityID,
		&s.PreferredUnit,
		&s.Thresholds.MaxCelsius,
		&s.Thresholds.MinCelsius,
		&s.EmailEnabled,
		&s.ContactEmail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// InsertDeliveryRecord appends an audit entry
func (db *DB) InsertDeliveryRecord(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (id, subscriber_id, channel, message, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := db.ExecContext(ctx, query, rec.ID, rec.SubscriberID, rec.Channel, rec.Message, rec.SentAt)
	return err
}

// RecentDeliveryRecords returns a subscriber's most recent audit entries, newest first
func (db *DB) RecentDeliveryRecords(ctx context.Context, subscriberID string, limit int) ([]*DeliveryRecord, error) {
	query := `
		SELECT id, subscriber_id, channel, message, sent_at
		FROM delivery_records
		WHERE subscriber_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, subscriberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*DeliveryRecord{}
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.SubscriberID, &rec.Channel, &rec.Message, &rec.SentAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
