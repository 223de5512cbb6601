package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/config"
)

// RedisKV implements the generic KV surface over go-redis, grounded on the
// teacher's RedisSkillsCache (internal/skills/redis_cache.go): nil-receiver-
// safe methods, redis.UniversalClient, Scan+Del for prefix invalidation.
// Attached to a Postgres Provider via Postgres.WithCache, where it serves as
// a read-through cache for GetByID; Postgres stays the memory system of
// record and its own generic KV surface does not go through Redis.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV builds a Redis-backed KV store when enabled, returning (nil,
// nil) when disabled so callers can skip wrapping without a branch.
func NewRedisKV(cfg config.RedisConfig) (*RedisKV, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis kv: ping: %w", err)
	}
	return &RedisKV{client: client}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r == nil || r.client == nil {
		return nil, false, nil
	}
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Exists(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisKV) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := map[string][]byte{}
	if r == nil || r.client == nil || len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *RedisKV) SetMany(ctx context.Context, values map[string][]byte) error {
	if r == nil || r.client == nil || len(values) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, k, v, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisKV) DeleteMany(ctx context.Context, keys []string) error {
	if r == nil || r.client == nil || len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// List scans for keys by prefix, following the teacher's Scan+iterate
// pattern rather than KEYS (which blocks the server on large keyspaces).
func (r *RedisKV) List(ctx context.Context, prefix string) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}
	var out []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

func (r *RedisKV) Clear(ctx context.Context) error {
	if r == nil || r.client == nil {
		return nil
	}
	keys, err := r.List(ctx, "")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisKV) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	if err := r.client.Close(); err != nil {
		log.Debug().Err(err).Msg("redis_kv_close_error")
		return err
	}
	return nil
}
