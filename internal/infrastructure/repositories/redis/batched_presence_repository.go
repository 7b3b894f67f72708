package redis

import (
	"context"
	"fmt"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/pkg/batch"

	"github.com/redis/go-redis/v9"
)

// RedisOperation is one write queued for pipelined execution.
type RedisOperation struct {
	Type   string // "hset", "hdel", "expire"
	Key    string
	Field  string
	Value  interface{}
	TTL    time.Duration
	client *redis.Client
}

// Execute runs the operation on its own, outside a pipeline.
func (op *RedisOperation) Execute(ctx context.Context) error {
	switch op.Type {
	case "hset":
		return op.client.HSet(ctx, op.Key, op.Field, op.Value).Err()
	case "hdel":
		return op.client.HDel(ctx, op.Key, op.Field).Err()
	case "expire":
		return op.client.Expire(ctx, op.Key, op.TTL).Err()
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
}

// RedisBatchProcessor replays a batch of operations through one
// pipeline round trip.
type RedisBatchProcessor struct {
	client *redis.Client
}

func (p *RedisBatchProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	if len(operations) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, op := range operations {
		redisOp, ok := op.(*RedisOperation)
		if !ok {
			continue
		}
		switch redisOp.Type {
		case "hset":
			pipe.HSet(ctx, redisOp.Key, redisOp.Field, redisOp.Value)
		case "hdel":
			pipe.HDel(ctx, redisOp.Key, redisOp.Field)
		case "expire":
			pipe.Expire(ctx, redisOp.Key, redisOp.TTL)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// BatchedRedisPresenceRepository coalesces heartbeat writes through the
// batcher so a room full of chatty peers costs one pipeline round trip
// per flush interval instead of one write per touch.
type BatchedRedisPresenceRepository struct {
	base    *RedisPresenceRepository
	batcher *batch.Batcher
}

func NewBatchedRedisPresenceRepository(client *redis.Client, ttl time.Duration, batchSize int, batchInterval time.Duration) *BatchedRedisPresenceRepository {
	base := &RedisPresenceRepository{
		client: client,
		prefix: "meshpad:presence:",
		ttl:    ttl,
	}
	processor := &RedisBatchProcessor{client: client}

	return &BatchedRedisPresenceRepository{
		base:    base,
		batcher: batch.NewBatcher(batchSize, batchInterval, processor),
	}
}

var _ ports.PresenceRepository = (*BatchedRedisPresenceRepository)(nil)

func (r *BatchedRedisPresenceRepository) Touch(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID, at time.Time) error {
	key := r.base.sessionKey(sessionID)

	if err := r.batcher.Add(&RedisOperation{
		Type:   "hset",
		Key:    key,
		Field:  string(peerID),
		Value:  at.UnixNano(),
		client: r.base.client,
	}); err != nil {
		return err
	}

	if r.base.ttl > 0 {
		_ = r.batcher.Add(&RedisOperation{
			Type:   "expire",
			Key:    key,
			TTL:    r.base.ttl,
			client: r.base.client,
		})
	}
	return nil
}

// LastSeen reads straight from redis; a queued touch postpones
// staleness by at most one flush interval, well inside the reaper's
// tolerance.
func (r *BatchedRedisPresenceRepository) LastSeen(ctx context.Context, sessionID domain.SessionID) (map[domain.PeerID]time.Time, error) {
	return r.base.LastSeen(ctx, sessionID)
}

func (r *BatchedRedisPresenceRepository) Remove(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	return r.batcher.Add(&RedisOperation{
		Type:   "hdel",
		Key:    r.base.sessionKey(sessionID),
		Field:  string(peerID),
		client: r.base.client,
	})
}

// Stop flushes queued writes and shuts the batcher down.
func (r *BatchedRedisPresenceRepository) Stop() {
	r.batcher.Stop()
}
