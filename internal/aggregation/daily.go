package aggregation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/database"
)

// Store is the slice of the database the aggregator needs.
type Store interface {
	ReadingsBetween(ctx context.Context, cityID string, from, to time.Time) ([]*database.Reading, error)
	UpsertDailySummary(ctx context.Context, s *database.DailySummary) error
}

// DailyAggregator recomputes a city's summary for the current local day.
type DailyAggregator struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
}

// NewDailyAggregator creates a new daily aggregator. loc defines the local day.
func NewDailyAggregator(store Store, loc *time.Location, logger *zap.Logger) *DailyAggregator {
	if loc == nil {
		loc = time.Local
	}
	return &DailyAggregator{store: store, loc: loc, logger: logger}
}

// Update recomputes today's summary for cityID from every reading since local
// midnight. It returns nil, nil when there are no readings yet.
func (d *DailyAggregator) Update(ctx context.Context, cityID string, now time.Time) (*database.DailySummary, error) {
	localNow := now.In(d.loc)
	midnight := StartOfDay(localNow)

	readings, err := d.store.ReadingsBetween(ctx, cityID, midnight, localNow)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings for %s: %w", cityID, err)
	}
	if len(readings) == 0 {
		d.logger.Debug("No readings for today, skipping summary", zap.String("city_id", cityID))
		return nil, nil
	}

	summary := Summarize(cityID, midnight, readings)
	summary.UpdatedAt = now

	if err := d.store.UpsertDailySummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to upsert daily summary for %s: %w", cityID, err)
	}

	d.logger.Debug("Daily summary updated",
		zap.String("city_id", cityID),
		zap.String("date", midnight.Format(database.DateLayout)),
		zap.Int("samples", summary.SampleCount),
		zap.String("dominant", summary.DominantCondition))

	return summary, nil
}

// Summarize folds readings into a summary. The result depends only on the set of
// readings: they are ordered by (timestamp, id) before folding, and condition
// ties go to the category seen first in that order.
func Summarize(cityID string, date time.Time, readings []*database.Reading) *database.DailySummary {
	ordered := make([]*database.Reading, len(readings))
	copy(ordered, readings)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	summary := &database.DailySummary{
		CityID:          cityID,
		Date:            date,
		ConditionCounts: database.ConditionCounts{},
		SampleCount:     len(ordered),
	}
	if len(ordered) == 0 {
		return summary
	}

	var sum float64
	summary.MaxTemperature = ordered[0].Temperature
	summary.MinTemperature = ordered[0].Temperature
	index := make(map[string]int)

	for _, r := range ordered {
		sum += r.Temperature
		if r.Temperature > summary.MaxTemperature {
			summary.MaxTemperature = r.Temperature
		}
		if r.Temperature < summary.MinTemperature {
			summary.MinTemperature = r.Temperature
		}

		for _, c := range r.Conditions {
			i, ok := index[c.Category]
			if !ok {
				index[c.Category] = len(summary.ConditionCounts)
				summary.ConditionCounts = append(summary.ConditionCounts, database.ConditionCount{Category: c.Category, Count: 1})
				continue
			}
			summary.ConditionCounts[i].Count++
		}
	}

	summary.AverageTemperature = sum / float64(len(ordered))

	best := 0
	for _, cc := range summary.ConditionCounts {
		// Strictly greater keeps the first-seen category on ties.
		if cc.Count > best {
			best = cc.Count
			summary.DominantCondition = cc.Category
		}
	}

	return summary
}

// StartOfDay returns local midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}
