// Package quota limits how many requests each consumer key may make per
// reset interval.
package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oauthproxy/oauthproxy/app/keystore"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Second

// Options configures an Enforcer.
type Options struct {
	// Interval is the length of one counting window.
	Interval time.Duration
	// RedisAddr, when set, shares counters between proxy processes. Local
	// counters are used whenever Redis cannot be reached.
	RedisAddr    string
	RedisTimeout time.Duration
	// Namespace separates the Redis counters of different services.
	Namespace string
}

// Enforcer counts hits per credential and rejects keys over their threshold.
// A reset sweep runs every interval: it logs keys that went over quota in the
// elapsed window and zeroes all counters.
type Enforcer struct {
	store    *keystore.Store
	interval time.Duration
	logger   *slog.Logger

	rdb    *redis.Client
	prefix string

	resetTicker *time.Ticker
	done        chan struct{}
	stopOnce    sync.Once
}

// New returns an Enforcer over the credentials in store. Call Start to begin
// the reset sweep.
func New(store *keystore.Store, opts Options, logger *slog.Logger) *Enforcer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	e := &Enforcer{
		store:    store,
		interval: opts.Interval,
		logger:   logger,
		done:     make(chan struct{}),
		prefix:   "oauthproxy:quota:" + opts.Namespace + ":",
	}
	if opts.RedisAddr != "" {
		timeout := opts.RedisTimeout
		if timeout <= 0 {
			timeout = 500 * time.Millisecond
		}
		e.rdb = redis.NewClient(&redis.Options{
			Addr:         opts.RedisAddr,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			MaxRetries:   -1,
		})
	}
	return e
}

// Interval returns the reset interval.
func (e *Enforcer) Interval() time.Duration { return e.interval }

// Start launches the reset sweep.
func (e *Enforcer) Start() {
	e.resetTicker = time.NewTicker(e.interval)
	go func() {
		for {
			select {
			case <-e.resetTicker.C:
				e.Sweep()
			case <-e.done:
				return
			}
		}
	}()
}

// Stop ends the reset sweep and closes any Redis connections.
func (e *Enforcer) Stop() {
	e.stopOnce.Do(func() {
		if e.resetTicker != nil {
			e.resetTicker.Stop()
		}
		close(e.done)
		if e.rdb != nil {
			if err := e.rdb.Close(); err != nil {
				e.logger.Warn("closing redis client", "error", err)
			}
		}
	})
}

// Sweep logs every key whose hits exceeded its threshold during the elapsed
// window, then resets all counters. It returns the number of keys logged.
func (e *Enforcer) Sweep() int {
	over := 0
	e.store.Each(func(c *keystore.Credential) {
		hits := c.Reset()
		if c.Threshold > 0 && hits > int64(c.Threshold) {
			over++
			e.logger.Error("consumer key exceeded quota",
				"key", c.Key, "hits", hits, "threshold", c.Threshold, "interval", e.interval)
		}
	})
	return over
}

// Allow records a hit for c and reports whether it is still within quota.
// A credential without a threshold is always allowed.
func (e *Enforcer) Allow(ctx context.Context, c *keystore.Credential) bool {
	hits := c.Hit()
	if e.rdb != nil {
		n, err := e.hitRedis(ctx, c.Key)
		if err != nil {
			e.logger.Error("redis quota failed, falling back to memory", "error", err)
		} else {
			hits = n
		}
	}
	if c.Threshold <= 0 {
		return true
	}
	return hits <= int64(c.Threshold)
}

// hitRedis increments the shared counter for key. The window expiry is
// (re)applied whenever the counter has none, so a failed PEXPIRE is retried
// on the next hit instead of leaving a counter that never rolls over.
func (e *Enforcer) hitRedis(ctx context.Context, key string) (int64, error) {
	k := e.prefix + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := e.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	}); err != nil {
		return 0, err
	}
	if ttl.Val() < 0 {
		if err := e.rdb.PExpire(ctx, k, e.interval).Err(); err != nil {
			return 0, err
		}
	}
	return incr.Val(), nil
}
