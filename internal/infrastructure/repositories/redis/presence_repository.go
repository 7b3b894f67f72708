package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceRepository keeps one hash per session mapping peer id to
// the last-seen instant in unix nanoseconds. Heartbeats rewrite a
// single hash field, never the room document. With ttl > 0 every touch
// refreshes the hash expiry so abandoned sessions clean themselves up.
type RedisPresenceRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPresenceRepository(client *redis.Client, ttl time.Duration) ports.PresenceRepository {
	return &RedisPresenceRepository{
		client: client,
		prefix: "meshpad:presence:",
		ttl:    ttl,
	}
}

func (r *RedisPresenceRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisPresenceRepository) Touch(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID, at time.Time) error {
	key := r.sessionKey(sessionID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, string(peerID), at.UnixNano())
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch presence in redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) LastSeen(ctx context.Context, sessionID domain.SessionID) (map[domain.PeerID]time.Time, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence from redis: %w", err)
	}

	seen := make(map[domain.PeerID]time.Time, len(fields))
	for peerID, raw := range fields {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		seen[domain.PeerID(peerID)] = time.Unix(0, nanos)
	}
	return seen, nil
}

func (r *RedisPresenceRepository) Remove(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	if err := r.client.HDel(ctx, r.sessionKey(sessionID), string(peerID)).Err(); err != nil {
		return fmt.Errorf("remove presence from redis: %w", err)
	}
	return nil
}
