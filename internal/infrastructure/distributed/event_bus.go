package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/infrastructure/signal"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const signalChannel = "meshpad:signal"

// busFrame wraps a signaling envelope for transport between server
// instances. InstanceID lets subscribers drop their own publications.
type busFrame struct {
	InstanceID string           `json:"instance_id"`
	SessionID  domain.SessionID `json:"session_id"`
	Envelope   signal.Envelope  `json:"envelope"`
	SentAt     time.Time        `json:"sent_at"`
}

// RedisEnvelopeBus relays signaling envelopes across server instances
// over Redis pub/sub, so two peers of one room can handshake even when
// their websockets landed on different processes.
type RedisEnvelopeBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

// NewRedisEnvelopeBus creates an envelope bus identified by instanceID.
func NewRedisEnvelopeBus(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *RedisEnvelopeBus {
	return &RedisEnvelopeBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

var _ signal.EnvelopeBus = (*RedisEnvelopeBus)(nil)

// PublishEnvelope broadcasts an envelope to every other instance.
func (b *RedisEnvelopeBus) PublishEnvelope(ctx context.Context, sessionID domain.SessionID, env signal.Envelope) error {
	frame := busFrame{
		InstanceID: b.instanceID,
		SessionID:  sessionID,
		Envelope:   env,
		SentAt:     time.Now(),
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope frame: %w", err)
	}

	if err := b.client.Publish(ctx, signalChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}

	b.logger.Debugw("published envelope to bus",
		"type", env.Type,
		"session_id", sessionID,
		"target", env.Target,
	)

	return nil
}

// SubscribeEnvelopes delivers every foreign envelope to fn until ctx is
// canceled. Frames published by this instance are skipped.
func (b *RedisEnvelopeBus) SubscribeEnvelopes(ctx context.Context, fn func(sessionID domain.SessionID, env signal.Envelope)) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, signalChannel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var frame busFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.logger.Warnw("failed to unmarshal envelope frame",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip frames from this instance
			if frame.InstanceID == b.instanceID {
				continue
			}

			fn(frame.SessionID, frame.Envelope)
		}
	}
}

// Close tears down the subscription if one is active.
func (b *RedisEnvelopeBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
