package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisExchangeCodeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisExchangeCodeStore(client redis.UniversalClient, prefix string) *RedisExchangeCodeStore {
	if prefix == "" {
		prefix = "exchange_code"
	}
	return &RedisExchangeCodeStore{client: client, prefix: prefix}
}

func (s *RedisExchangeCodeStore) Save(ctx context.Context, code string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultExchangeCodeTTL
	}
	return s.client.Set(ctx, s.key(code), value, ttl).Err()
}

func (s *RedisExchangeCodeStore) Consume(ctx context.Context, code string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrExchangeCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Sweep is a no-op; redis expires keys itself.
func (s *RedisExchangeCodeStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (s *RedisExchangeCodeStore) key(code string) string {
	return s.prefix + ":" + hashCode(code)
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
