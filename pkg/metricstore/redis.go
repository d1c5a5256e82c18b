package metricstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
)

// RedisStore keeps every series in a Redis list trimmed to the configured
// capacity. The set of series names lives in a separate Redis set.
type RedisStore struct {
	client    *redis.Client
	breaker   *gobreaker.CircuitBreaker
	logger    logr.Logger
	keyPrefix string
	capacity  int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.StoreConfig, logger logr.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, apmerrors.New(apmerrors.ComponentStore, "connect", "failed to connect to Redis", err).
			WithContext("addr", cfg.RedisAddr)
	}

	return newRedisStore(client, cfg, logger), nil
}

func newRedisStore(client *redis.Client, cfg config.StoreConfig, logger logr.Logger) *RedisStore {
	failureRatio := cfg.BreakerFailureRatio
	minRequests := cfg.BreakerMinRequests
	settings := gobreaker.Settings{
		Name:        "metric-store-redis",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == redis.Nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	capacity := int64(cfg.Capacity)
	if capacity <= 0 {
		capacity = 10000
	}

	return &RedisStore{
		client:    client,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    logger,
		keyPrefix: cfg.RedisKeyPrefix,
		capacity:  capacity,
	}
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) seriesKey(name string) string {
	return r.keyPrefix + "series:" + name
}

func (r *RedisStore) namesKey() string {
	return r.keyPrefix + "names"
}

func (r *RedisStore) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := r.breaker.Execute(fn)
	if err != nil && err != redis.Nil {
		return nil, apmerrors.New(apmerrors.ComponentStore, op, "redis operation failed", err)
	}
	return res, nil
}

func (r *RedisStore) Append(ctx context.Context, name string, sample Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return apmerrors.New(apmerrors.ComponentStore, "append", "failed to encode sample", err)
	}

	key := r.seriesKey(name)
	_, err = r.execute("append", func() (interface{}, error) {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, payload)
			pipe.LTrim(ctx, key, -r.capacity, -1)
			pipe.SAdd(ctx, r.namesKey(), name)
			return nil
		})
		return nil, err
	})
	return err
}

func (r *RedisStore) Range(ctx context.Context, name string, since time.Time) ([]Sample, error) {
	all, err := r.Last(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	return filterSince(all, since), nil
}

func (r *RedisStore) Last(ctx context.Context, name string, n int) ([]Sample, error) {
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}

	res, err := r.execute("last", func() (interface{}, error) {
		return r.client.LRange(ctx, r.seriesKey(name), start, -1).Result()
	})
	if err != nil {
		return nil, err
	}
	raw, _ := res.([]string)

	samples := make([]Sample, 0, len(raw))
	for _, item := range raw {
		var s Sample
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			r.logger.V(1).Info("Skipping undecodable sample", "series", name, "error", err.Error())
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (r *RedisStore) Len(ctx context.Context, name string) (int, error) {
	res, err := r.execute("len", func() (interface{}, error) {
		return r.client.LLen(ctx, r.seriesKey(name)).Result()
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return int(n), nil
}

func (r *RedisStore) Names(ctx context.Context) ([]string, error) {
	res, err := r.execute("names", func() (interface{}, error) {
		return r.client.SMembers(ctx, r.namesKey()).Result()
	})
	if err != nil {
		return nil, err
	}
	names, _ := res.([]string)
	sort.Strings(names)
	return names, nil
}

func (r *RedisStore) Delete(ctx context.Context, name string) error {
	_, err := r.execute("delete", func() (interface{}, error) {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.seriesKey(name))
			pipe.SRem(ctx, r.namesKey(), name)
			return nil
		})
		return nil, err
	})
	return err
}

// New builds the Store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StoreConfig, logger logr.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.Capacity), nil
	case "redis":
		return NewRedisStore(ctx, cfg, logger)
	default:
		return nil, apmerrors.Newf(apmerrors.ComponentStore, "new", apmerrors.ErrInvalidArgument, "unknown store backend %q", cfg.Backend)
	}
}
