package monitoring

import (
	"context"
	"time"

	"meshpad/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis connectivity check.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck verifies the room store answers a listing.
func (h *HealthChecker) AddRepositoryCheck(repo ports.RoomRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		if _, err := repo.List(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddReadinessCheck verifies every dependency the signaling server
// needs before it can accept joins. Nil dependencies are skipped.
func (h *HealthChecker) AddReadinessCheck(
	redisClient *redis.Client,
	repo ports.RoomRepository,
	interval, timeout time.Duration,
) {
	h.AddCheck("readiness", func(ctx context.Context) (bool, error) {
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return false, err
			}
		}
		if repo != nil {
			if _, err := repo.List(ctx); err != nil {
				return false, err
			}
		}
		return true, nil
	}, interval, timeout)
}
