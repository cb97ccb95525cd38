package redisx

import "time"

const (
	// Fast-path dedup of provider webhook deliveries: dedup:webhook:{event_id}.
	// The in-transaction order status check stays authoritative.
	KeyWebhookDedup = "dedup:webhook:%s"

	// Cache of order status for the redirect pages: order_status:{reference}.
	KeyOrderStatus = "order_status:%s"

	// Dedup for the notifier consumer: dedup:notify:{event_id}.
	KeyNotifyDedup = "dedup:notify:%s"
)

var (
	TTLWebhookDedup = 48 * time.Hour
	TTLStatusCache  = 5 * time.Minute
	TTLNotifyDedup  = 48 * time.Hour
)
