// Package dedupcache is an additive, best-effort Redis cache in front of
// the content_hash lookup in Postgres. A cache miss or a Redis outage
// always falls through to the database; nothing about correctness depends
// on this package being reachable.
package dedupcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttl = 24 * time.Hour

type Cache struct {
	rdb *redis.Client
}

func New(addr string) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func key(contentHash string) string {
	return "aegis:dedup:" + contentHash
}

// Lookup returns the document id previously recorded for contentHash, or
// ("", false) on a cache miss or any Redis error. Callers must still
// confirm against the database; a cached id for a document that was since
// deleted is not something this package tracks.
func (c *Cache) Lookup(ctx context.Context, contentHash string) (string, bool) {
	val, err := c.rdb.Get(ctx, key(contentHash)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Remember records the mapping so the next upload of the same content
// short-circuits the database hash lookup. Errors are swallowed; a failed
// write just means the next lookup also misses and falls through.
func (c *Cache) Remember(ctx context.Context, contentHash, documentID string) {
	_ = c.rdb.Set(ctx, key(contentHash), documentID, ttl).Err()
}

func (c *Cache) Forget(ctx context.Context, contentHash string) {
	_ = c.rdb.Del(ctx, key(contentHash)).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
