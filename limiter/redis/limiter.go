// Package redis provides a shared sliding-window admission limiter backed
// by Redis, for submission boundaries scaled across processes where a
// process-local ceiling would multiply the fleet-wide limit. The
// check-and-record is a single Lua script, so it is atomic per client.
package redis

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/limiter"
)

// Options for the Redis limiter.
type Options struct {
	// URI is the Redis connection URI, e.g. redis://localhost:6379/0.
	URI string
	// Namespace prefixes every limiter key.
	Namespace string
	// PerSecond and PerMinute are the fleet-wide ceilings.
	PerSecond int
	PerMinute int

	MaxConnections int
	MaxIdle        int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// DefaultOptions returns default Redis limiter options.
func DefaultOptions() Options {
	return Options{
		URI:            "redis://localhost:6379/",
		Namespace:      "mailqd:limiter:",
		PerSecond:      limiter.DefaultPerSecond,
		PerMinute:      limiter.DefaultPerMinute,
		MaxConnections: 10,
		MaxIdle:        2,
		IdleTimeout:    240 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// allowScript prunes, checks both windows, and records the request in one
// atomic unit. Returns {admitted, retry-after milliseconds}.
var allowScript = redis.NewScript(1, `
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - 60000)
local second = redis.call('ZCOUNT', KEYS[1], now - 1000, '+inf')
if second >= tonumber(ARGV[2]) then
  local oldest = redis.call('ZRANGEBYSCORE', KEYS[1], now - 1000, '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
  return {0, tonumber(oldest[2]) + 1000 - now}
end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2]) + 60000 - now}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], 60000)
return {1, 0}
`)

// SlidingWindow is a Redis-backed admission limiter. Keys expire with the
// widest window, so idle clients leave no state behind.
type SlidingWindow struct {
	pool    *redis.Pool
	options Options
	seq     atomic.Uint64
}

// New creates a Redis limiter and verifies connectivity.
func New(options Options) (*SlidingWindow, error) {
	if options.PerSecond <= 0 {
		options.PerSecond = limiter.DefaultPerSecond
	}
	if options.PerMinute <= 0 {
		options.PerMinute = limiter.DefaultPerMinute
	}

	pool := &redis.Pool{
		MaxActive:   options.MaxConnections,
		MaxIdle:     options.MaxIdle,
		IdleTimeout: options.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(options.URI,
				redis.DialConnectTimeout(options.ConnectTimeout))
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, errors.NewConnectionError(options.URI,
			fmt.Errorf("ping failed: %w", err))
	}

	return &SlidingWindow{pool: pool, options: options}, nil
}

// Allow evaluates and records one request from the client atomically
// against the shared windows. Redis connectivity failures fail open: a
// broken limiter backend must not take the submission boundary down with
// it, only widen it.
func (l *SlidingWindow) Allow(clientKey string) (bool, time.Duration) {
	conn := l.pool.Get()
	defer conn.Close()

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%d", now, l.seq.Add(1))

	reply, err := redis.Int64s(allowScript.Do(conn,
		l.options.Namespace+clientKey,
		now, l.options.PerSecond, l.options.PerMinute, member,
	))
	if err != nil || len(reply) != 2 {
		slog.Warn("Redis limiter unavailable, admitting request", "error", err)
		return true, 0
	}

	if reply[0] == 0 {
		return false, time.Duration(reply[1]) * time.Millisecond
	}
	return true, 0
}

// Health checks Redis connectivity.
func (l *SlidingWindow) Health() error {
	conn := l.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return errors.NewConnectionError(l.options.URI,
			fmt.Errorf("health check failed: %w", err))
	}
	return nil
}

// Close releases the connection pool.
func (l *SlidingWindow) Close() error {
	return l.pool.Close()
}
