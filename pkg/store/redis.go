package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL keeps a day's hash long enough to cover reruns across midnight.
const DefaultRedisTTL = 72 * time.Hour

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis keeps one hash per day, field = SKU, value = last quantity.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*Redis)(nil)

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedis(client, opts.TTL), nil
}

func newRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

func (r *Redis) key(t time.Time) string {
	return "stockpilot:processed:" + day(t)
}

func (r *Redis) AlreadyProcessedToday(ctx context.Context, sku string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.key(r.now()), sku).Result()
	if err != nil {
		return false, fmt.Errorf("redis: lookup %s: %w", sku, err)
	}
	return ok, nil
}

func (r *Redis) RecordProcessed(ctx context.Context, sku, _ string, quantity float64) error {
	key := r.key(r.now())
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, sku, strconv.FormatFloat(quantity, 'f', -1, 64))
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record %s: %w", sku, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
