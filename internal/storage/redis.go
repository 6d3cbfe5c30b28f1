package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskdesk/taskdesk/internal/session"
)

// RedisRepository stores the session as a JSON string under a single key.
// A non-zero ttl is applied on every save.
type RedisRepository struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owned  bool // client was created by Open and is closed with the repository
}

func NewRedisRepository(client *redis.Client, key string, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, key: key, ttl: ttl}
}

func (r *RedisRepository) Load(ctx context.Context) (*session.Blob, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session from redis: %w", err)
	}
	return decode(data)
}

func (r *RedisRepository) Save(ctx context.Context, blob *session.Blob) error {
	if blob.Empty() {
		return r.client.Del(ctx, r.key).Err()
	}

	data, err := encode(blob)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

// Close closes the Redis client if the repository created it
func (r *RedisRepository) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
