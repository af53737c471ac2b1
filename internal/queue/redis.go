package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps messages in a Redis list: LPUSH at the tail, BRPOP from the head.
type RedisQueue struct {
	client      *redis.Client
	key         string
	deadKey     string
	pollTimeout time.Duration
}

// NewRedisQueue creates a queue on the given list key.
// pollTimeout bounds each BRPOP so Pop can observe cancellation.
func NewRedisQueue(client *redis.Client, key string, pollTimeout time.Duration) *RedisQueue {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		deadKey:     key + ":dead",
		pollTimeout: pollTimeout,
	}
}

// Push appends a payload to the list
func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pop waits for the oldest payload
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		// result is [key, value]
		return []byte(result[1]), nil
	}
}

// DeadLetter appends a payload to the dead-letter list
func (q *RedisQueue) DeadLetter(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.deadKey, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Len returns the number of queued payloads
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// DeadLetterLen returns the number of dead-lettered payloads
func (q *RedisQueue) DeadLetterLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadKey).Result()
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}
