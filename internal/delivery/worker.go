package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/metrics"
	"github.com/smukkama/weather-alerts/internal/notification"
	"github.com/smukkama/weather-alerts/internal/protocol"
	"github.com/smukkama/weather-alerts/internal/queue"
	"github.com/smukkama/weather-alerts/pkg/config"
)

// ErrDeliveryFailed is returned by Process when a message was not delivered.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Transport sends one email
type Transport interface {
	Send(ctx context.Context, to, body string) error
}

// Redeliverer runs a task at a later time
type Redeliverer interface {
	Schedule(id string, dueAt time.Time, run func(ctx context.Context)) error
}

// popErrorBackoff is how long Run waits after the queue fails before popping again.
const popErrorBackoff = time.Second

// Worker drains the notification queue one message at a time.
type Worker struct {
	queue     queue.Queue
	transport Transport
	redeliver Redeliverer
	cfg       config.DeliveryConfig
	metrics   metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorker creates a delivery worker. redeliver may be nil when
// cfg.MaxAttempts is 1.
func NewWorker(q queue.Queue, transport Transport, redeliver Redeliverer, cfg config.DeliveryConfig, recorder metrics.Recorder, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		queue:     q,
		transport: transport,
		redeliver: redeliver,
		cfg:       cfg,
		metrics:   recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Run pops and processes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Delivery worker started",
		zap.Int("max_attempts", w.cfg.MaxAttempts),
		zap.Bool("dead_letter", w.cfg.DeadLetter))

	for {
		payload, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Delivery worker stopped")
				return nil
			}
			w.logger.Error("Failed to pop notification", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popErrorBackoff):
			}
			continue
		}

		if err := w.Process(ctx, payload); err != nil {
			w.logger.Warn("Notification not delivered", zap.Error(err))
		}
	}
}

// Process decodes and delivers one payload. Undecodable payloads are dropped.
func (w *Worker) Process(ctx context.Context, payload []byte) error {
	msg, err := protocol.DecodeNotification(payload)
	if err != nil {
		w.metrics.RecordDelivery(metrics.DeliveryDropped)
		return fmt.Errorf("%w: undecodable payload dropped: %v", ErrDeliveryFailed, err)
	}

	err = w.transport.Send(ctx, msg.Email, msg.Message)
	if err == nil {
		w.metrics.RecordDelivery(metrics.DeliverySent)
		w.logger.Info("Notification delivered",
			zap.String("message_id", msg.ID),
			zap.String("subscriber_id", msg.SubscriberID),
			zap.Int("attempt", msg.Attempt))
		return nil
	}

	if errors.Is(err, notification.ErrMessageRejected) {
		w.metrics.RecordDelivery(metrics.DeliveryRejected)
		w.deadLetter(ctx, msg)
		return fmt.Errorf("%w: message %s rejected: %w", ErrDeliveryFailed, msg.ID, err)
	}

	w.metrics.RecordDelivery(metrics.DeliveryFailed)
	if msg.Attempt < w.cfg.MaxAttempts && w.redeliver != nil {
		schedErr := w.scheduleRedelivery(msg)
		if schedErr == nil {
			return fmt.Errorf("%w: message %s attempt %d, redelivery scheduled: %w", ErrDeliveryFailed, msg.ID, msg.Attempt, err)
		}
		w.logger.Error("Failed to schedule redelivery", zap.String("message_id", msg.ID), zap.Error(schedErr))
	}

	w.deadLetter(ctx, msg)
	return fmt.Errorf("%w: message %s attempt %d: %w", ErrDeliveryFailed, msg.ID, msg.Attempt, err)
}

func (w *Worker) scheduleRedelivery(msg *protocol.NotificationMessage) error {
	next := *msg
	next.Attempt++
	delay := w.backoff(msg.Attempt)

	err := w.redeliver.Schedule(msg.ID, w.now().Add(delay), func(ctx context.Context) {
		payload, err := protocol.EncodeNotification(&next)
		if err != nil {
			w.logger.Error("Failed to encode redelivery", zap.String("message_id", next.ID), zap.Error(err))
			return
		}
		if err := w.queue.Push(ctx, payload); err != nil {
			w.logger.Error("Redelivery lost, notification could not be re-enqueued",
				zap.String("message_id", next.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	w.metrics.RecordRedelivery()
	w.logger.Info("Redelivery scheduled",
		zap.String("message_id", msg.ID),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay))
	return nil
}

// backoff doubles RetryBackoff per completed attempt, capped at RetryMaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if w.cfg.RetryMaxBackoff > 0 && d >= w.cfg.RetryMaxBackoff {
			return w.cfg.RetryMaxBackoff
		}
	}
	if w.cfg.RetryMaxBackoff > 0 && d > w.cfg.RetryMaxBackoff {
		return w.cfg.RetryMaxBackoff
	}
	return d
}

func (w *Worker) deadLetter(ctx context.Context, msg *protocol.NotificationMessage) {
	if !w.cfg.DeadLetter {
		return
	}

	payload, err := protocol.EncodeNotification(msg)
	if err == nil {
		err = w.queue.DeadLetter(ctx, payload)
	}
	if err != nil {
		w.logger.Error("Failed to dead-letter notification", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	w.metrics.RecordDeadLetter()
	w.logger.Warn("Notification dead-lettered",
		zap.String("message_id", msg.ID),
		zap.Int("attempt", msg.Attempt))
}
