package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const readRetryBackoff = 50 * time.Millisecond

type RedisRevocationStore struct {
	client  *redis.Client
	timeout time.Duration
	logger  *logrus.Logger
}

func NewRedisRevocationStore(client *redis.Client, timeout time.Duration, logger *logrus.Logger) *RedisRevocationStore {
	return &RedisRevocationStore{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *RedisRevocationStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set revocation marker: %w", err)
	}

	return nil
}

func (s *RedisRevocationStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim revocation marker: %w", err)
	}

	return created, nil
}

// Exists retries once after a short backoff before giving up.
func (s *RedisRevocationStore) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.exists(ctx, key)
	if err == nil {
		return exists, nil
	}

	s.logger.WithError(err).Warn("Revocation lookup failed, retrying once")

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("failed to check revocation marker: %w", ctx.Err())
	case <-time.After(readRetryBackoff):
	}

	exists, err = s.exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation marker: %w", err)
	}

	return exists, nil
}

func (s *RedisRevocationStore) exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisRevocationStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete revocation marker: %w", err)
	}

	return nil
}

func (s *RedisRevocationStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
