package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "...", "owner_id": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{scope}:{id} (id = provider event_id atau envelope event_id)
	KeyDedup = "dedup:%s:%s"

	// Antrian rekonsiliasi manual (LIST, terbaru di depan)
	KeyUnmatched = "reconcile:unmatched"
	KeyOrphaned  = "reconcile:orphaned"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour

	MaxQueueLen int64 = 1000
)
