// Package statuscache is the fast, expiring map from document fingerprint to
// {status, task_id}. It accelerates duplicate detection and status polling;
// the durable store stays authoritative, so every failure here degrades to a
// miss rather than an error the pipeline has to handle.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/resilience"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key-value store with per-key expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Cache stores CacheEntry values under {prefix}{fingerprint}.
type Cache struct {
	backend Backend
	ttl     time.Duration
	prefix  string
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option customises a Cache.
type Option func(*Cache)

// WithMetrics records lookups and breaker state on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Cache) { c.breaker = cb }
}

// New builds a Cache over backend. Zero TTL and prefix fall back to 24h and
// "doc:".
func New(backend Backend, cfg config.CacheConfig, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     cfg.TTL,
		prefix:  cfg.KeyPrefix,
		logger:  slog.Default().With("component", "status-cache"),
	}
	if c.ttl <= 0 {
		c.ttl = 24 * time.Hour
	}
	if c.prefix == "" {
		c.prefix = "doc:"
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker("status-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				if c.metrics != nil {
					c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
	}
	return c
}

// Key returns the backend key for fingerprint.
func (c *Cache) Key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Put upserts the entry for fingerprint and resets its TTL. Concurrent puts
// to one key race; the last write wins.
func (c *Cache) Put(ctx context.Context, fingerprint string, status document.CacheStatus, taskID string) error {
	key := c.Key(fingerprint)
	data, err := json.Marshal(document.CacheEntry{Status: status, TaskID: taskID})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache put failed", "key", key, "status", status, "error", err)
		return fmt.Errorf("setting %s: %w", key, err)
	}
	c.logger.Debug("cache put", "key", key, "status", status, "task_id", taskID)
	return nil
}

// Get returns the entry for fingerprint. ok is false on a miss, an expired
// entry, a corrupt value, or an unreachable backend; err is set only in the
// last two cases and is informational.
func (c *Cache) Get(ctx context.Context, fingerprint string) (entry document.CacheEntry, ok bool, err error) {
	key := c.Key(fingerprint)
	var data []byte
	miss := false
	err = c.breaker.Execute(func() error {
		var getErr error
		data, getErr = c.backend.Get(ctx, key)
		if errors.Is(getErr, ErrMiss) {
			miss = true
			return nil
		}
		return getErr
	})
	switch {
	case err != nil:
		c.record("error")
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return entry, false, fmt.Errorf("getting %s: %w", key, err)
	case miss:
		c.record("miss")
		return entry, false, nil
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		c.record("error")
		c.logger.Error("cache entry corrupt", "key", key, "error", err)
		return document.CacheEntry{}, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	c.record("hit")
	return entry, true, nil
}

// Delete removes the entry for fingerprint.
func (c *Cache) Delete(ctx context.Context, fingerprint string) error {
	key := c.Key(fingerprint)
	err := c.breaker.Execute(func() error {
		return c.backend.Del(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Forget removes the entry for fingerprint if it still names taskID. It
// reports whether an entry was removed. A later Put for another task is left
// alone, apart from the race between the read and the delete.
func (c *Cache) Forget(ctx context.Context, fingerprint, taskID string) (bool, error) {
	entry, ok, err := c.Get(ctx, fingerprint)
	if err != nil || !ok || entry.TaskID != taskID {
		return false, err
	}
	if err := c.Delete(ctx, fingerprint); err != nil {
		return false, err
	}
	c.logger.Debug("cache entry forgotten", "key", c.Key(fingerprint), "task_id", taskID)
	return true, nil
}

// Ping checks the backend, bypassing the breaker.
func (c *Cache) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// Stats returns hit and miss counts since start. Errors count as misses.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) record(result string) {
	if result == "hit" {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.metrics != nil {
		c.metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
	}
}
