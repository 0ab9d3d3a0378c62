// Package cache provides the Redis adapter shared by the edge calculator
// and the match scheduler.
//
// The queue and edge records are JSON strings under the key prefixes in
// package model. Enumeration uses KEYS plus batched MGET, which is
// acceptable at the queue sizes this system runs at (tens of thousands).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/g-match/matcher/internal/model"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("cache: not found")

// Cache wraps a Redis client with typed access to queue entries and edges.
type Cache struct {
	rdb       *redis.Client
	mgetBatch int
	logger    *slog.Logger
}

// New creates a Cache from a redis:// URL. mgetBatch bounds the number of
// keys per batched read.
func New(redisURL string, mgetBatch int, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis URL: %w", err)
	}
	return &Cache{
		rdb:       redis.NewClient(opts),
		mgetBatch: mgetBatch,
		logger:    logger,
	}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, mgetBatch int, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, mgetBatch: mgetBatch, logger: logger}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// GetQueueEntry reads and decodes one queue entry. Returns ErrNotFound if
// the candidate is no longer queued.
func (c *Cache) GetQueueEntry(ctx context.Context, userID uuid.UUID) (*model.QueueEntry, error) {
	data, err := c.rdb.Get(ctx, model.QueueKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get queue entry %s: %w", userID, err)
	}
	var e model.QueueEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("cache: decode queue entry %s: %v: %w", userID, err, model.ErrFormat)
	}
	return &e, nil
}

// SetQueueEntry writes a queue entry back to the cache.
func (c *Cache) SetQueueEntry(ctx context.Context, e *model.QueueEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode queue entry %s: %w", e.UserID, err)
	}
	if err := c.rdb.Set(ctx, model.QueueKey(e.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("cache: set queue entry %s: %w", e.UserID, err)
	}
	return nil
}

// DeleteQueueEntry removes a candidate from the queue.
func (c *Cache) DeleteQueueEntry(ctx context.Context, userID uuid.UUID) error {
	if err := c.rdb.Del(ctx, model.QueueKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache: delete queue entry %s: %w", userID, err)
	}
	return nil
}

// QueueEntries enumerates every queue entry. Corrupt values are skipped with
// a warning; the producer owns fixing or cancelling them, and the calculator
// will retry them every tick until then.
func (c *Cache) QueueEntries(ctx context.Context) ([]model.QueueEntry, error) {
	values, keys, err := c.scanValues(ctx, model.QueueKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	entries := make([]model.QueueEntry, 0, len(values))
	for i, data := range values {
		var e model.QueueEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			c.logger.Warn("cache: corrupt queue entry", "key", keys[i], "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SetEdge writes an edge under its canonical key.
func (c *Cache) SetEdge(ctx context.Context, e model.Edge) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode edge: %w", err)
	}
	key := model.EdgeKey(e.UserA, e.UserB)
	if err := c.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("cache: set edge %s: %w", key, err)
	}
	return nil
}

// DeleteEdge removes the edge between two candidates, in either argument order.
func (c *Cache) DeleteEdge(ctx context.Context, a, b uuid.UUID) error {
	key := model.EdgeKey(a, b)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete edge %s: %w", key, err)
	}
	return nil
}

// Edges enumerates every cached edge. Corrupt values are deleted outright:
// nothing else reclaims a bad edge, and the calculator will recreate it from
// live queue entries if the pair is still valid.
func (c *Cache) Edges(ctx context.Context) ([]model.Edge, error) {
	values, keys, err := c.scanValues(ctx, model.EdgeKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	edges := make([]model.Edge, 0, len(values))
	for i, data := range values {
		var e model.Edge
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			c.logger.Warn("cache: corrupt edge, deleting", "key", keys[i], "error", err)
			if delErr := c.rdb.Del(ctx, keys[i]).Err(); delErr != nil {
				c.logger.Warn("cache: delete corrupt edge failed", "key", keys[i], "error", delErr)
			}
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// SetIfAbsentWithTTL implements the lock acquisition primitive
// (SET key value NX EX ttl). Returns true if the key was set.
func (c *Cache) SetIfAbsentWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

// DelIfEqual atomically deletes key only if it still holds value.
// Returns true if the key was deleted.
func (c *Cache) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	n, err := delIfEqualScript.Run(ctx, c.rdb, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("cache: del-if-equal %s: %w", key, err)
	}
	return n == 1, nil
}

// scanValues resolves a key pattern and fetches all values in mgetBatch-sized
// MGET calls. Keys deleted between KEYS and MGET come back nil and are
// dropped. Returned slices are parallel.
func (c *Cache) scanValues(ctx context.Context, pattern string) (values []string, keys []string, err error) {
	allKeys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("cache: keys %s: %w", pattern, err)
	}
	for start := 0; start < len(allKeys); start += c.mgetBatch {
		end := min(start+c.mgetBatch, len(allKeys))
		batch := allKeys[start:end]
		vals, err := c.rdb.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("cache: mget %s: %w", pattern, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			values = append(values, s)
			keys = append(keys, batch[i])
		}
	}
	return values, keys, nil
}
