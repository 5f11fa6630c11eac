package redisx

import "time"

const (
	// Rendered order view: order_view:{order_id} -> OrderWithItems JSON
	KeyOrderView = "order_view:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderView = 5 * time.Minute
	TTLDedup     = 48 * time.Hour
)
