// Package cache provides a Redis-backed cache for taxonomy listings.
// Listings are read-heavy and invalidated structurally: a subtree move
// reports the lowest common ancestor of its source and destination, and
// only listings overlapping that subtree are dropped.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stagedir/api/internal/pathtree"
)

// TaxonomyCache stores rendered listing payloads keyed by table, prefix and
// page. It is best-effort: lookup errors degrade to cache misses and writes
// never fail a request.
type TaxonomyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTaxonomyCache connects to Redis and verifies the connection.
func NewTaxonomyCache(redisURL string) (*TaxonomyCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewTaxonomyCacheWithClient(client), nil
}

// NewTaxonomyCacheWithClient wraps an existing client.
func NewTaxonomyCacheWithClient(client *redis.Client) *TaxonomyCache {
	return &TaxonomyCache{client: client, ttl: 5 * time.Minute}
}

// key layout: tax:<table>:<prefix>:<offset>:<limit>. The prefix segment is
// empty for whole-table listings; paths contain no colons.
func (c *TaxonomyCache) key(table, prefix string, offset, limit int) string {
	return fmt.Sprintf("tax:%s:%s:%d:%d", table, prefix, offset, limit)
}

// GetListing returns a cached payload, or ok=false on miss or error.
func (c *TaxonomyCache) GetListing(ctx context.Context, table, prefix string, offset, limit int) ([]byte, bool) {
	payload, err := c.client.Get(ctx, c.key(table, prefix, offset, limit)).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

// SetListing stores a payload with the default TTL.
func (c *TaxonomyCache) SetListing(ctx context.Context, table, prefix string, offset, limit int, payload []byte) error {
	if err := c.client.Set(ctx, c.key(table, prefix, offset, limit), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache listing: %w", err)
	}
	return nil
}

// InvalidateSubtree drops every listing of the table that can overlap the
// subtree rooted at lca: listings of the lca itself, of its descendants and
// of its ancestors (their pages contain moved rows), and whole-table
// listings. A zero lca drops everything for the table, used when a move
// crosses roots.
func (c *TaxonomyCache) InvalidateSubtree(ctx context.Context, table string, lca pathtree.Path) error {
	var cursor uint64
	pattern := fmt.Sprintf("tax:%s:*", table)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s listings: %w", table, err)
		}

		var stale []string
		for _, key := range keys {
			if lca.IsZero() || c.overlaps(key, lca) {
				stale = append(stale, key)
			}
		}
		if len(stale) > 0 {
			if err := c.client.Del(ctx, stale...).Err(); err != nil {
				return fmt.Errorf("drop %s listings: %w", table, err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *TaxonomyCache) overlaps(key string, lca pathtree.Path) bool {
	parts := strings.Split(key, ":")
	if len(parts) != 5 {
		return true
	}
	rawPrefix := parts[2]
	if rawPrefix == "" {
		return true
	}
	prefix, err := pathtree.Parse(rawPrefix)
	if err != nil {
		return true
	}
	return prefix.IsDescendantOf(lca) || lca.IsDescendantOf(prefix)
}

// Ping verifies connectivity for readiness checks.
func (c *TaxonomyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *TaxonomyCache) Close() error {
	return c.client.Close()
}
