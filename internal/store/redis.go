package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "statwatch"

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL of a history key; zero keeps keys forever.
	TTL time.Duration
}

// RedisStore keeps one JSON document per test under <prefix>:history:<id>
// and indexes ids in the <prefix>:tests set.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, opts.KeyPrefix, opts.TTL), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) historyKey(testID string) string {
	return s.prefix + ":history:" + testID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":tests"
}

func (s *RedisStore) Get(ctx context.Context, testID string) (*History, error) {
	payload, err := s.client.Get(ctx, s.historyKey(testID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	var h History
	if err := json.Unmarshal(payload, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return &h, nil
}

func (s *RedisStore) Set(ctx context.Context, testID string, h *History) error {
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.historyKey(testID), payload, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), testID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list histories: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Delete(ctx context.Context, testID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.historyKey(testID))
	pipe.SRem(ctx, s.indexKey(), testID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
