package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"zapis/internal/config"
	"zapis/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix     = "lock:"
	delayedJobsKey = "jobs:delayed"
	deadJobsKey    = "jobs:dead"
	deadJobsLimit  = 1000
)

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := unlockScript.Run(ctx, l.client, []string{lockPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// RedisJobQueue keeps job ids in a sorted set scored by their run time.
type RedisJobQueue struct {
	client *redis.Client
}

func NewRedisJobQueue(client *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{client: client}
}

func (q *RedisJobQueue) Push(ctx context.Context, id int64, runAt time.Time) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	err := q.client.ZAdd(ctx, delayedJobsKey, redis.Z{
		Score:  float64(runAt.Unix()),
		Member: strconv.FormatInt(id, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// PopDue removes and returns up to limit ids due at now. An id is returned only
// to the caller whose ZREM removed it.
func (q *RedisJobQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if q.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	members, err := q.client.ZRangeByScore(ctx, delayedJobsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedJobsKey, member).Result()
		if err != nil {
			return ids, fmt.Errorf("failed to claim job: %w", err)
		}
		if removed == 0 {
			continue
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *RedisJobQueue) PushDeadLetter(ctx context.Context, job *models.Job) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, deadJobsKey, data)
	pipe.LTrim(ctx, deadJobsKey, 0, deadJobsLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
