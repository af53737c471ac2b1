package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired guard taken over by another ingestor is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CityGuard marks cities as being ingested, one holder at a time.
type CityGuard struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCityGuard creates a guard whose entries expire after ttl
func NewCityGuard(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *CityGuard {
	return &CityGuard{
		redis:  redisClient,
		prefix: "ingest_lock:",
		ttl:    ttl,
		logger: logger,
	}
}

// TryAcquire takes the guard for a city. ok is false when another holder has it.
// The returned release func must be called once the ingestion finishes.
func (g *CityGuard) TryAcquire(ctx context.Context, cityID string) (release func(), ok bool, err error) {
	key := g.prefix + cityID
	token := uuid.NewString()

	ok, err = g.redis.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire ingest lock for %s: %w", cityID, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// Release must run even when the ingestion context was cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.redis, []string{key}, token).Err(); err != nil {
			// The key still expires after ttl.
			g.logger.Warn("Failed to release ingest lock",
				zap.String("city_id", cityID),
				zap.Duration("expires_in", g.ttl),
				zap.Error(err))
		}
	}

	return release, true, nil
}
