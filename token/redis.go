package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage stores CBOR records in Redis. Keys expire together with the
// token they hold.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOptions configure NewRedisStorage.
type RedisOptions struct {
	Addr     string
	Password string //nolint:gosec // configuration value
	DB       int
	Prefix   string
}

// NewRedisStorage connects and pings the server.
func NewRedisStorage(ctx context.Context, opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("token redis storage: ping %s: %w", opts.Addr, err)
	}
	return NewRedisStorageFromClient(client, opts.Prefix), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) Save(ctx context.Context, key string, tok *Token) error {
	data, err := Marshal(tok)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if !tok.ExpiresAt.IsZero() {
		ttl = time.Until(tok.ExpiresAt)
		if ttl <= 0 {
			return s.Remove(ctx, key)
		}
	}

	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("token redis storage: set: %w", err)
	}
	return nil
}

func (s *RedisStorage) Load(ctx context.Context, key string) (*Token, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token redis storage: get: %w", err)
	}
	return Unmarshal(data)
}

func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("token redis storage: del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
