package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// unreachable points at a port nothing listens on.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestOrderCache_DegradesToMiss(t *testing.T) {
	rdb := unreachable()
	defer rdb.Close()
	c := NewOrderCache(rdb)
	ctx := context.Background()

	c.Set(ctx, 1, []byte(`{"id":1}`))
	b, ok := c.Get(ctx, 1)
	c.Invalidate(ctx, 1)

	assert.False(t, ok)
	assert.Nil(t, b)
}

func TestDeduper_ReportsRedisErrors(t *testing.T) {
	rdb := unreachable()
	defer rdb.Close()

	first, err := NewDeduper(rdb, "order-events").FirstSeen(context.Background(), "evt-1")

	assert.Error(t, err)
	assert.False(t, first)
}
