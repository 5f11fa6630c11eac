package redisx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// OrderCache caches rendered order views. Postgres stays the source of truth:
// every read falls back to it on a miss or a Redis error.
type OrderCache struct{ rdb *redis.Client }

func NewOrderCache(rdb *redis.Client) *OrderCache { return &OrderCache{rdb: rdb} }

func (c *OrderCache) Get(ctx context.Context, orderID int64) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderView, orderID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "order cache read failed", "order_id", orderID, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (c *OrderCache) Set(ctx context.Context, orderID int64, view []byte) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrderView, orderID), view, TTLOrderView).Err(); err != nil {
		slog.WarnContext(ctx, "order cache write failed", "order_id", orderID, "err", err)
	}
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID int64) {
	if err := c.rdb.Del(ctx, fmt.Sprintf(KeyOrderView, orderID)).Err(); err != nil {
		slog.WarnContext(ctx, "order cache invalidation failed", "order_id", orderID, "err", err)
	}
}

// Deduper remembers processed event ids.
type Deduper struct {
	rdb   *redis.Client
	scope string
}

func NewDeduper(rdb *redis.Client, scope string) *Deduper {
	return &Deduper{rdb: rdb, scope: scope}
}

// FirstSeen atomically marks id as seen and reports whether it was new.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.scope, id), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", id, err)
	}
	return ok, nil
}

// Forget clears a mark so a failed event can be processed again.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.scope, id)).Err()
}
