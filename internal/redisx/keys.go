package redisx

import "time"

const (
	// Cache order status: order_status:{user_id}:{order_id} -> status string.
	// The user id is part of the key so cached reads stay owner-scoped.
	KeyOrderStatus = "order_status:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
