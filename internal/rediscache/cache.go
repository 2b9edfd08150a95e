// Package rediscache is the shared Redis client used by the Session
// Store (S) and the Delayed Job Queue (Q). It degrades gracefully on
// transport errors for simple get/set/delete (callers treat a cache
// miss and a cache error identically) but surfaces errors from the
// distributed lock, since lock failures change caller control flow.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Client struct {
	raw    *redis.Client
	prefix string
}

var instance *Client

func Initialize(cfg Config, prefix string) error {
	raw := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := raw.Ping(ctx).Err(); err != nil {
		return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to connect to redis")
	}

	instance = &Client{raw: raw, prefix: prefix}
	logger.Info("redis cache initialized")
	return nil
}

func Get() *Client {
	if instance == nil {
		panic("rediscache not initialized")
	}
	return instance
}

// Raw exposes the underlying client for components (the Delayed Job
// Queue) that need sorted-set and pipeline primitives beyond simple
// get/set/delete.
func (c *Client) Raw() *redis.Client {
	return c.raw
}

func (c *Client) Key(k string) string {
	if c.prefix == "" {
		return k
	}
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

func (c *Client) Get(ctx context.Context, key string, dest interface{}) (found bool) {
	val, err := c.raw.Get(ctx, c.Key(key)).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("cache get failed")
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("cache unmarshal failed")
		return false
	}
	return true
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("cache marshal failed")
		return
	}
	if err := c.raw.Set(ctx, c.Key(key), data, ttl).Err(); err != nil {
		logger.WithContext(ctx).WithField("key", key).WithError(err).Warn("cache set failed")
	}
}

func (c *Client) Delete(ctx context.Context, keys ...string) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	if err := c.raw.Del(ctx, full...).Err(); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("cache delete failed")
	}
}

// unlockScript atomically releases a lock only if the caller still
// holds it (its token matches), preventing one caller from releasing
// a lock re-acquired by someone else after its TTL expired.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// Lock acquires a short-lived distributed lock under key, returning an
// unlock closure. Used by the Session Store's WithLock for the rare
// concurrent same-call-id webhook race; the Delayed Job Queue claims
// due jobs with its own Lua script instead.
func (c *Client) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := c.Key(fmt.Sprintf("lock:%s", key))
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	ok, err := c.raw.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to acquire lock")
	}
	if !ok {
		return nil, apperr.New(apperr.ErrRaceLost, "lock already held").WithContext("key", key)
	}

	return func() {
		unlockScript.Run(ctx, c.raw, []string{lockKey}, token)
	}, nil
}
