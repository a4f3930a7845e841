// Package cache публикует рейтинг клиентов в Redis и даёт распределённую блокировку
// для фоновых задач, запущенных на нескольких экземплярах сервиса.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

const (
	leaderboardKey       = "loyalty:leaderboard"
	leaderboardPointsKey = "loyalty:leaderboard:points"
)

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу блокировки.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisCache хранит опубликованный рейтинг в Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache подключается к Redis по адресу addr и проверяет соединение.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient создаёт кэш поверх готового клиента.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close закрывает соединение с Redis.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// PublishLeaderboard атомарно заменяет рейтинг: JSON-снимок для чтения целиком
// и отсортированное множество по сумме начисленных баллов.
func (c *RedisCache) PublishLeaderboard(ctx context.Context, entries []model.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	members := make([]*redis.Z, 0, len(entries))
	for _, e := range entries {
		score, _ := e.TotalPointsEarned.Float64()
		members = append(members, &redis.Z{Score: score, Member: e.AccountID})
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, leaderboardKey, data, 0)
		pipe.Del(ctx, leaderboardPointsKey)
		if len(members) > 0 {
			pipe.ZAdd(ctx, leaderboardPointsKey, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}
	return nil
}

// GetLeaderboard возвращает опубликованный рейтинг или nil, если он ещё не публиковался.
func (c *RedisCache) GetLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	data, err := c.client.Get(ctx, leaderboardKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal leaderboard: %w", err)
	}
	return entries, nil
}

// AcquireLock пытается захватить блокировку key на время ttl без ожидания.
// release снимает блокировку, только если она не истекла и не перехвачена другим владельцем.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
