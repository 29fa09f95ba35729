package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Mirai3103/quiz-grader/internal/config"
)

const keyPrefix = "session:"

// RedisStore keeps session:<token> -> roll number with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient builds a client from cfg and pings it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Anonymous{}, nil
	}
	key := keyPrefix + token
	roll, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Anonymous{}, nil
	}
	if err != nil {
		return Anonymous{}, fmt.Errorf("get session: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return Anonymous{}, fmt.Errorf("refresh session: %w", err)
	}
	return Student{Roll: roll, Token: token}, nil
}

func (s *RedisStore) Create(ctx context.Context, rollNo string) (string, error) {
	if rollNo == "" {
		return "", errors.New("roll number is required")
	}
	token := uuid.NewString()
	if err := s.client.Set(ctx, keyPrefix+token, rollNo, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
