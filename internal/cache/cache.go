// Package cache holds the optional Redis read-through cache for entitlement
// answers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"guied/internal/types"
)

const keyPrefix = "guied:entitlement:"

// ErrRedisNotReady is returned when Connect cannot reach the server.
var ErrRedisNotReady = errors.New("redis not ready")

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Connect parses url, creates a client and pings it once within timeout.
func Connect(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}

// EntitlementCache stores entitlement answers as JSON with a TTL.
//
// Each subscriber has a generation counter that Invalidate bumps. An entry
// records the generation that was current before the store read it came
// from, and Get treats an entry from an older generation as a miss. A reader
// that loaded the store before a concurrent cancel therefore cannot leave the
// pre-cancel answer behind after the writer's invalidation.
type EntitlementCache struct {
	client Client
	ttl    time.Duration
}

// NewEntitlementCache creates an EntitlementCache.
func NewEntitlementCache(client Client, ttl time.Duration) *EntitlementCache {
	return &EntitlementCache{client: client, ttl: ttl}
}

// generationTTL outlives any entry, so an expired counter can only hide
// entries that have already expired themselves.
const generationTTL = 24 * time.Hour

type entry struct {
	Generation int64 `json:"gen"`
	types.Entitlement
}

func key(userID string) string { return keyPrefix + strings.ToLower(userID) }

func generationKey(userID string) string { return keyPrefix + "gen:" + strings.ToLower(userID) }

// Get returns the cached entitlement, or nil on a miss, together with the
// subscriber's current generation. Pass the generation to Set after reading
// the store.
func (c *EntitlementCache) Get(ctx context.Context, userID string) (*types.Entitlement, int64, error) {
	vals, err := c.client.MGet(ctx, key(userID), generationKey(userID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("cache get: %w", err)
	}
	if len(vals) != 2 {
		return nil, 0, fmt.Errorf("cache get: unexpected reply length %d", len(vals))
	}

	var gen int64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("cache get: bad generation %q: %w", s, err)
		}
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, nil
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		return nil, gen, nil
	}
	if e.Generation != gen {
		return nil, gen, nil
	}
	return &e.Entitlement, gen, nil
}

// Set stores e for the configured TTL, tagged with generation gen.
func (c *EntitlementCache) Set(ctx context.Context, userID string, gen int64, e types.Entitlement) error {
	raw, err := json.Marshal(entry{Generation: gen, Entitlement: e})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate bumps the subscriber's generation and drops the cached entry.
func (c *EntitlementCache) Invalidate(ctx context.Context, userID string) error {
	gk := generationKey(userID)
	if err := c.client.Incr(ctx, gk).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	if err := c.client.Expire(ctx, gk, generationTTL).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// HealthProbe reports Redis reachability on /health.
type HealthProbe struct {
	client Client
}

// NewHealthProbe creates a probe for client.
func NewHealthProbe(client Client) *HealthProbe {
	return &HealthProbe{client: client}
}

func (p *HealthProbe) Name() string { return "redis" }

func (p *HealthProbe) Check(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
