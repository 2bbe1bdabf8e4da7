package pacing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CallCounter tracks voice calls placed per campaign per campaign-local day.
type CallCounter interface {
	Count(ctx context.Context, campaignID, day string) (int, error)
	Increment(ctx context.Context, campaignID, day string) (int, error)
}

// MemoryCallCounter keeps counts in process memory.
type MemoryCallCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCallCounter creates an empty counter.
func NewMemoryCallCounter() *MemoryCallCounter {
	return &MemoryCallCounter{counts: make(map[string]int)}
}

func (c *MemoryCallCounter) Count(_ context.Context, campaignID, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counterKey(campaignID, day)], nil
}

func (c *MemoryCallCounter) Increment(_ context.Context, campaignID, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := counterKey(campaignID, day)
	c.counts[k]++
	return c.counts[k], nil
}

// Prune drops counts for days before the given day ("2006-01-02") and reports how many.
func (c *MemoryCallCounter) Prune(before string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.counts {
		if keyDay(k) < before {
			delete(c.counts, k)
			n++
		}
	}
	return n
}

// RedisCounterTTL keeps a day's key long enough to cover every time zone.
const RedisCounterTTL = 48 * time.Hour

// RedisCallCounter shares call counts across processes through Redis.
type RedisCallCounter struct {
	client *redis.Client
}

// NewRedisCallCounter creates a counter on client.
func NewRedisCallCounter(client *redis.Client) *RedisCallCounter {
	return &RedisCallCounter{client: client}
}

func (c *RedisCallCounter) Count(ctx context.Context, campaignID, day string) (int, error) {
	n, err := c.client.Get(ctx, counterKey(campaignID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read call count: %w", err)
	}
	return n, nil
}

func (c *RedisCallCounter) Increment(ctx context.Context, campaignID, day string) (int, error) {
	key := counterKey(campaignID, day)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, RedisCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment call count: %w", err)
	}
	return int(incr.Val()), nil
}

func counterKey(campaignID, day string) string {
	return "cadence:calls:" + campaignID + ":" + day
}

// keyDay extracts the trailing date from a counter key.
func keyDay(k string) string {
	if len(k) < len(time.DateOnly) {
		return k
	}
	return k[len(k)-len(time.DateOnly):]
}

var (
	_ CallCounter = (*MemoryCallCounter)(nil)
	_ CallCounter = (*RedisCallCounter)(nil)
)
