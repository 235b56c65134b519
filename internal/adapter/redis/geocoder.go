// Package redis provides a Redis-backed geocode cache shared between service
// replicas. It sits behind the in-process LRU and in front of the provider.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/observability"
	redigo "github.com/gomodule/redigo/redis"
)

const keyPrefix = "accident-risk:geocode:"

// NewPool returns a connection pool for addr.
func NewPool(addr string) *redigo.Pool {
	return &redigo.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redigo.Conn, error) {
			return redigo.Dial("tcp", addr,
				redigo.DialConnectTimeout(2*time.Second),
				redigo.DialReadTimeout(time.Second),
				redigo.DialWriteTimeout(time.Second),
			)
		},
	}
}

// CachedGeocoder caches successful lookups of inner in Redis with a TTL.
// Cache failures are logged and never fail a lookup.
type CachedGeocoder struct {
	inner   domain.Geocoder
	pool    *redigo.Pool
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedGeocoder creates a Redis cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, pool *redigo.Pool, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		pool:    pool,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

// Ping checks the Redis connection.
func (c *CachedGeocoder) Ping(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if _, err := redigo.String(conn.Do("PING")); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Geocode returns the cached result for query or resolves it through the
// wrapped geocoder and stores it.
func (c *CachedGeocoder) Geocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	key := keyPrefix + strings.ToLower(strings.TrimSpace(query))

	if result, ok := c.lookup(ctx, key); ok {
		return result, nil
	}

	result, err := c.inner.Geocode(ctx, query)
	if err != nil {
		return result, err
	}
	c.store(ctx, key, result)
	return result, nil
}

func (c *CachedGeocoder) lookup(ctx context.Context, key string) (domain.GeocodingResult, bool) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.cacheError("get", err)
		return domain.GeocodingResult{}, false
	}
	defer conn.Close()

	data, err := redigo.Bytes(conn.Do("GET", key))
	if errors.Is(err, redigo.ErrNil) {
		c.metrics.GeocodeCache.WithLabelValues("redis", "miss").Inc()
		return domain.GeocodingResult{}, false
	}
	if err != nil {
		c.cacheError("get", err)
		return domain.GeocodingResult{}, false
	}

	var result domain.GeocodingResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.cacheError("decode", err)
		return domain.GeocodingResult{}, false
	}
	c.metrics.GeocodeCache.WithLabelValues("redis", "hit").Inc()
	return result, true
}

func (c *CachedGeocoder) store(ctx context.Context, key string, result domain.GeocodingResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.cacheError("encode", err)
		return
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.cacheError("set", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Do("SET", key, data, "EX", int(c.ttl.Seconds())); err != nil {
		c.cacheError("set", err)
	}
}

func (c *CachedGeocoder) cacheError(op string, err error) {
	c.metrics.GeocodeCache.WithLabelValues("redis", "error").Inc()
	c.logger.Warn("redis geocode cache unavailable", "op", op, "error", err)
}
