// Package throttle drops commands a user sends faster than once per interval.
package throttle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether the user may run a command now. Allowing a command
// starts a new interval.
type Limiter interface {
	Allow(ctx context.Context, usr int64) (bool, error)
}

// Memory keeps the last command time per user in process memory.
type Memory struct {
	mu       sync.Mutex
	clk      clock.Clock
	interval time.Duration
	last     map[int64]time.Time
}

func NewMemory(interval time.Duration, clk clock.Clock) *Memory {
	return &Memory{
		clk:      clk,
		interval: interval,
		last:     make(map[int64]time.Time),
	}
}

func (m *Memory) Allow(_ context.Context, usr int64) (bool, error) {
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.last[usr]; ok && now.Sub(t) < m.interval {
		return false, nil
	}
	m.last[usr] = now
	return true, nil
}

// Cleanup forgets users idle for longer than maxAge and returns how many were
// forgotten.
func (m *Memory) Cleanup(maxAge time.Duration) int {
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for usr, t := range m.last {
		if now.Sub(t) > maxAge {
			delete(m.last, usr)
			n++
		}
	}
	return n
}

const redisKeyPrefix = "birthday:throttle:"

// Redis keeps a marker per user that expires after the interval, so several
// bot instances share the limit.
type Redis struct {
	client   *redis.Client
	interval time.Duration
}

func NewRedis(client *redis.Client, interval time.Duration) *Redis {
	return &Redis{client: client, interval: interval}
}

// NewRedisClient connects to the Redis instance at url, e.g. redis://localhost:6379/0
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing redis URL")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	return client, nil
}

func (r *Redis) Allow(ctx context.Context, usr int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+strconv.FormatInt(usr, 10), "1", r.interval).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed setting throttle marker")
	}
	return ok, nil
}

// Wrap returns a handler that calls next unless the user is throttled. When
// the limiter fails the command goes through. onDrop, if not nil, is called
// for every dropped command.
func Wrap[T any](l Limiter, logger *zap.SugaredLogger, onDrop func(usr int64), next func(ctx context.Context, usr int64, v T)) func(ctx context.Context, usr int64, v T) {
	return func(ctx context.Context, usr int64, v T) {
		ok, err := l.Allow(ctx, usr)
		if err != nil {
			logger.Errorw("throttle is unavailable, letting the command through", "usr", usr, "err", err)
			ok = true
		}

		if !ok {
			logger.Infof("dropped a command of user %d: too fast", usr)
			if onDrop != nil {
				onDrop(usr)
			}
			return
		}

		next(ctx, usr, v)
	}
}
