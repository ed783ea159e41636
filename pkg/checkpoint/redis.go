package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the default Redis key prefix.
const DefaultPrefix = "sitebackup"

// RedisStore keeps checkpoints in Redis without expiry.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key generates the Redis key of task.
// Format: <prefix>:checkpoint:<task>
func (s *RedisStore) Key(task string) string {
	return s.prefix + ":checkpoint:" + task
}

// Save stores payload under the task key, replacing any previous value.
func (s *RedisStore) Save(ctx context.Context, task string, payload []byte) error {
	if err := s.redis.Set(ctx, s.Key(task), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns ErrNotFound if the key doesn't exist.
func (s *RedisStore) Load(ctx context.Context, task string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.Key(task)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Delete removes the task key.
func (s *RedisStore) Delete(ctx context.Context, task string) error {
	if err := s.redis.Del(ctx, s.Key(task)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// List scans for checkpoint keys under the prefix.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	keyPrefix := s.Key("")
	var tasks []string
	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		tasks = append(tasks, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(tasks)
	return tasks, nil
}

// Backend implements Store.
func (s *RedisStore) Backend() string {
	return "redis"
}
