package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		prefix: "meshpad:room:",
	}
}

func (r *RedisRoomRepository) roomKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisRoomRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.roomKey(room.SessionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("set room in redis: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", domain.ErrRoomExists, room.SessionID)
	}

	if err := r.client.SAdd(ctx, r.indexKey(), string(room.SessionID)).Err(); err != nil {
		return fmt.Errorf("add room to index: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room from redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}

	// XX writes only over an existing key, matching the memory
	// repository's not-found contract without a read round trip.
	updated, err := r.client.SetXX(ctx, r.roomKey(room.SessionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update room in redis: %w", err)
	}
	if !updated {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.SessionID) error {
	if err := r.client.SRem(ctx, r.indexKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("remove room from index: %w", err)
	}

	removed, err := r.client.Del(ctx, r.roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete room from redis: %w", err)
	}
	if removed == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RedisRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms from redis: %w", err)
	}

	var rooms []*domain.Room
	for _, id := range ids {
		room, err := r.GetByID(ctx, domain.SessionID(id))
		if err != nil {
			// Skip rooms that no longer exist
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}
