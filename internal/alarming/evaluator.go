package alarming

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/internal/protocol"
)

// SubscriberStore lists the alerting profiles of a city
type SubscriberStore interface {
	SubscribersByCity(ctx context.Context, cityID string) ([]*database.Subscriber, error)
}

// DeliveryLog appends delivery audit records
type DeliveryLog interface {
	InsertDeliveryRecord(ctx context.Context, rec *database.DeliveryRecord) error
}

// Publisher enqueues encoded notifications
type Publisher interface {
	Push(ctx context.Context, payload []byte) error
}

// Result counts what happened to each subscriber of one evaluation.
type Result struct {
	Evaluated int
	Alerted   int
	Lost      int
	Failed    int
	Skipped   int
}

// Evaluator decides, per subscriber, whether a reading breaches their
// thresholds and enqueues an email alert when it does.
type Evaluator struct {
	subscribers SubscriberStore
	log         DeliveryLog
	queue       Publisher
	metrics     metrics.Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewEvaluator creates a new threshold evaluator
func NewEvaluator(subscribers SubscriberStore, log DeliveryLog, queue Publisher, recorder metrics.Recorder, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		subscribers: subscribers,
		log:         log,
		queue:       queue,
		metrics:     recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate checks reading against every subscriber of city. A failure for one
// subscriber never prevents evaluation of the others; only a failure to list
// subscribers is returned.
func (e *Evaluator) Evaluate(ctx context.Context, city *database.City, reading *database.Reading) (Result, error) {
	var res Result

	subs, err := e.subscribers.SubscribersByCity(ctx, city.ID)
	if err != nil {
		return res, fmt.Errorf("failed to load subscribers for %s: %w", city.ID, err)
	}

	for _, sub := range subs {
		res.Evaluated++

		if !sub.EmailEnabled || sub.ContactEmail == "" {
			res.Skipped++
			continue
		}

		body, breached, err := e.decide(city, reading, sub)
		if err != nil {
			res.Failed++
			e.metrics.RecordEvaluationError()
			e.logger.Warn("Failed to evaluate subscriber",
				zap.String("city_id", city.ID),
				zap.String("subscriber_id", sub.ID),
				zap.Error(err))
			continue
		}
		if !breached {
			continue
		}

		if err := e.alert(ctx, sub, body); err != nil {
			res.Lost++
			e.metrics.RecordAlert(metrics.AlertLost)
			e.logger.Error("Alert lost, notification could not be enqueued",
				zap.String("city_id", city.ID),
				zap.String("subscriber_id", sub.ID),
				zap.Error(err))
			continue
		}

		res.Alerted++
		e.metrics.RecordAlert(metrics.AlertEnqueued)
	}

	if res.Alerted > 0 || res.Lost > 0 {
		e.logger.Info("Threshold evaluation complete",
			zap.String("city_id", city.ID),
			zap.Int("evaluated", res.Evaluated),
			zap.Int("alerted", res.Alerted),
			zap.Int("lost", res.Lost),
			zap.Int("failed", res.Failed))
	}

	return res, nil
}

// decide converts the reading and thresholds into the subscriber's unit and
// returns the alert body when the reading is outside the range. Values are
// compared at the two decimals the message shows, so a reading printed equal
// to a bound never alerts.
func (e *Evaluator) decide(city *database.City, reading *database.Reading, sub *database.Subscriber) (string, bool, error) {
	unit, err := ParseUnit(sub.PreferredUnit)
	if err != nil {
		return "", false, err
	}

	current := hundredths(unit.FromKelvin(reading.Temperature))
	low := hundredths(unit.FromCelsius(sub.Thresholds.MinCelsius))
	high := hundredths(unit.FromCelsius(sub.Thresholds.MaxCelsius))

	if !breaches(current, low, high) {
		return "", false, nil
	}

	sym := unit.Symbol()
	body := fmt.Sprintf("The current temperature in %s is %.2f%s, which is outside your alert range of %.2f%s to %.2f%s.",
		city.Name, current, sym, low, sym, high, sym)

	return body, true, nil
}

func hundredths(v float64) float64 {
	return math.Round(v*100) / 100
}

// breaches reports whether value lies strictly outside [low, high].
func breaches(value, low, high float64) bool {
	return value > high || value < low
}

func (e *Evaluator) alert(ctx context.Context, sub *database.Subscriber, body string) error {
	now := e.now()
	msg := protocol.NewNotificationMessage(sub.ID, sub.ContactEmail, body, now)

	payload, err := protocol.EncodeNotification(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := e.queue.Push(ctx, payload); err != nil {
		return err
	}

	rec := &database.DeliveryRecord{
		ID:           uuid.NewString(),
		SubscriberID: sub.ID,
		Channel:      database.ChannelEmail,
		Message:      body,
		SentAt:       now,
	}
	if err := e.log.InsertDeliveryRecord(ctx, rec); err != nil {
		// The alert is already queued; only the audit entry is missing.
		e.logger.Warn("Failed to record delivery",
			zap.String("subscriber_id", sub.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}

	return nil
}
