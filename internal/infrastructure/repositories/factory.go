package repositories

import (
	"context"
	"time"

	"meshpad/internal/core/ports"
	"meshpad/internal/infrastructure/reliability"
	"meshpad/internal/infrastructure/repositories/memory"
	redisrepo "meshpad/internal/infrastructure/repositories/redis"
	"meshpad/pkg/circuitbreaker"
	"meshpad/pkg/config"
	"meshpad/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceBatchSize     = 64
	presenceBatchInterval = 100 * time.Millisecond
)

// RepositoryFactory builds the storage layer: redis-backed when
// configured and reachable, in-memory otherwise. Redis room access is
// wrapped with retry and a circuit breaker; presence heartbeats go
// through the pipelined batch writer.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	staleAfter  time.Duration
	logger      *zap.SugaredLogger

	stoppers []func()
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis:   cfg.Redis.Enabled,
		staleAfter: cfg.Rooms.StaleAfter,
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("redis unavailable, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	if f.useRedis && f.redisClient != nil {
		base := redisrepo.NewRedisRoomRepository(f.redisClient)
		return reliability.NewReliableRoomRepository(
			base,
			retry.DefaultConfig(),
			circuitbreaker.DefaultConfig(),
			f.logger,
		)
	}
	return memory.NewMemoryRoomRepository()
}

func (f *RepositoryFactory) CreatePresenceRepository() ports.PresenceRepository {
	if f.useRedis && f.redisClient != nil {
		// Hash TTL double the stale window so the reaper always reads
		// heartbeats before redis expires them.
		repo := redisrepo.NewBatchedRedisPresenceRepository(
			f.redisClient,
			2*f.staleAfter,
			presenceBatchSize,
			presenceBatchInterval,
		)
		f.stoppers = append(f.stoppers, repo.Stop)
		return repo
	}
	return memory.NewMemoryPresenceRepository()
}

// RedisClient exposes the shared client for the event bus and health
// checks. Nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close flushes batched writers and closes the redis connection.
func (f *RepositoryFactory) Close() error {
	for _, stop := range f.stoppers {
		stop()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck pings redis when it is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
