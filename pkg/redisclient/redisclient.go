// Package redisclient implements the document store on Redis: one hash per
// collection, with the document key as the field and JSON as the value.
package redisclient

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/alim08/stockcache/pkg/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

const (
	backendName = "redis"

	stateClosed   int32 = 0
	stateOpen     int32 = 1
	stateHalfOpen int32 = 2

	breakerThreshold = 5
	breakerCooldown  = 10 * time.Second

	opTimeout = 500 * time.Millisecond
)

type Client struct {
	rdb    *redis.Client
	prefix string
	// Circuit breaker state
	failureCount int64
	lastFailure  int64
	state        int32
}

var _ store.Store = (*Client)(nil)

// New constructs a Client with pool tuning and client-side retries.
func New(redisURL, prefix string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.IdleTimeout = 5 * time.Minute
	return &Client{rdb: redis.NewClient(opt), prefix: prefix}, nil
}

func (c *Client) hashKey(collection string) string {
	return c.prefix + collection
}

// withMetrics wraps operations with metrics collection
func (c *Client) withMetrics(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Seconds()

	metrics.StoreOperationDuration.WithLabelValues(backendName, operation, metrics.Status(err)).Observe(duration)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrExists) {
		metrics.StoreErrors.WithLabelValues(backendName, operation).Inc()
	}
	return err
}

// allow reports whether a call may proceed. An open breaker lets one trial call
// through once the cooldown has passed.
func (c *Client) allow() bool {
	if atomic.LoadInt32(&c.state) != stateOpen {
		return true
	}
	last := time.Unix(atomic.LoadInt64(&c.lastFailure), 0)
	if time.Since(last) >= breakerCooldown {
		return atomic.CompareAndSwapInt32(&c.state, stateOpen, stateHalfOpen)
	}
	return false
}

// checkCircuitBreaker records the outcome of a call. redis.Nil is a
// successful round trip.
func (c *Client) checkCircuitBreaker(err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		atomic.StoreInt64(&c.lastFailure, time.Now().Unix())
		if atomic.AddInt64(&c.failureCount, 1) >= breakerThreshold {
			if atomic.SwapInt32(&c.state, stateOpen) != stateOpen {
				logger.Log.Warn("circuit breaker opened", zap.String("operation", backendName))
			}
		}
		return
	}
	atomic.StoreInt64(&c.failureCount, 0)
	if atomic.SwapInt32(&c.state, stateClosed) != stateClosed {
		logger.Log.Info("circuit breaker closed", zap.String("operation", backendName))
	}
}

func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

// Get reads one document.
func (c *Client) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var doc []byte
	err := c.withMetrics("hget", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		b, err := c.rdb.HGet(ctx, c.hashKey(collection), key).Bytes()
		c.checkCircuitBreaker(err)
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		doc = b
		return err
	})
	return doc, err
}

// Upsert writes a document with retry/backoff.
func (c *Client) Upsert(ctx context.Context, collection, key string, doc []byte) error {
	return c.withMetrics("hset", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		op := func() error {
			ctx, cancel := context.WithTimeout(ctx, opTimeout)
			defer cancel()
			err := c.rdb.HSet(ctx, c.hashKey(collection), key, string(doc)).Err()
			c.checkCircuitBreaker(err)
			return err
		}
		return backoff.Retry(op, retryPolicy(ctx))
	})
}

// Insert writes a document only if its field is unset. It is not retried:
// a lost reply would turn a successful HSETNX into a false conflict.
func (c *Client) Insert(ctx context.Context, collection, key string, doc []byte) error {
	return c.withMetrics("hsetnx", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		set, err := c.rdb.HSetNX(ctx, c.hashKey(collection), key, string(doc)).Result()
		c.checkCircuitBreaker(err)
		if err != nil {
			return err
		}
		if !set {
			return store.ErrExists
		}
		return nil
	})
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	return c.withMetrics("hdel", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		n, err := c.rdb.HDel(ctx, c.hashKey(collection), key).Result()
		c.checkCircuitBreaker(err)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// List returns every document of a collection ordered by key.
func (c *Client) List(ctx context.Context, collection string) ([][]byte, error) {
	var docs [][]byte
	err := c.withMetrics("hgetall", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		fields, err := c.rdb.HGetAll(ctx, c.hashKey(collection)).Result()
		c.checkCircuitBreaker(err)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		docs = make([][]byte, 0, len(keys))
		for _, k := range keys {
			docs = append(docs, []byte(fields[k]))
		}
		return nil
	})
	return docs, err
}

// Publish wraps rdb.Publish with a short timeout
func (c *Client) Publish(ctx context.Context, channel string, msg interface{}) error {
	return c.withMetrics("publish", func() error {
		if !c.allow() {
			return ErrCircuitBreakerOpen
		}
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := c.rdb.Publish(ctx, channel, msg).Err()
		c.checkCircuitBreaker(err)
		return err
	})
}

// Subscribe creates a pub/sub subscription
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.withMetrics("ping", func() error {
		return c.rdb.Ping(ctx).Err()
	})
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
