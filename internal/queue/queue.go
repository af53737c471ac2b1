package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/weather-alerts/pkg/config"
)

// ErrUnavailable is returned when the queue's backing store cannot be reached.
var ErrUnavailable = errors.New("notification queue unavailable")

// Queue is a durable FIFO hand-off between alert producers and delivery workers.
// Push and Pop are individually atomic; nothing is atomic across calls.
type Queue interface {
	// Push enqueues payload at the tail.
	Push(ctx context.Context, payload []byte) error
	// Pop blocks until a payload is available or ctx is done.
	// A popped payload is never handed to another consumer.
	Pop(ctx context.Context) ([]byte, error)
	// DeadLetter parks a payload that will not be delivered.
	DeadLetter(ctx context.Context, payload []byte) error
	Close() error
}

// Open returns the backend selected by cfg.Backend. Consumers pass consume=true
// so the Kafka backend joins the consumer group.
func Open(cfg config.QueueConfig, kafkaCfg config.KafkaConfig, redisClient *redis.Client, consume bool) (Queue, error) {
	switch cfg.Backend {
	case "", "redis":
		return NewRedisQueue(redisClient, cfg.Key, cfg.PollTimeout), nil
	case "kafka":
		groupID := ""
		if consume {
			groupID = kafkaCfg.GroupID
		}
		return NewKafkaQueue(kafkaCfg.Brokers, kafkaCfg.TopicAlerts, kafkaCfg.TopicDeadLetters, groupID), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// Provision creates the durable resources the backend needs before Open.
// Only Kafka has any: the alert and dead-letter topics.
func Provision(cfg config.QueueConfig, kafkaCfg config.KafkaConfig) error {
	if cfg.Backend != "kafka" {
		return nil
	}
	return EnsureTopics(kafkaCfg.Brokers, kafkaCfg.TopicAlerts, kafkaCfg.TopicDeadLetters)
}
