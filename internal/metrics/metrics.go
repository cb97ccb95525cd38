// Package metrics holds the prometheus instruments for the storefront.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries received, by event type",
		},
		[]string{"type"},
	)

	WebhookSignatureFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for signature or header problems",
		},
	)

	WebhookReplayRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_replay_rejected_total",
			Help: "Webhook deliveries rejected for a stale timestamp",
		},
	)

	ReconcileSuccessTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_success_total",
			Help: "Orders transitioned to paid with stock decremented",
		},
	)

	ReconcileInsufficientStockTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_insufficient_stock_total",
			Help: "Reconciliations aborted because stock would go negative",
		},
	)

	ReconcileAnomalyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_anomaly_total",
			Help: "Success notifications for orders already failed or cancelled",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of webhook reconciliation transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckoutSessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_sessions_created_total",
			Help: "Checkout sessions opened with the payment provider",
		},
	)

	ProviderRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of outbound payment provider requests",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Register() {
	prometheus.MustRegister(
		WebhookEventsTotal,
		WebhookSignatureFailuresTotal,
		WebhookReplayRejectedTotal,
		ReconcileSuccessTotal,
		ReconcileInsufficientStockTotal,
		ReconcileAnomalyTotal,
		ReconcileDuration,
		CheckoutSessionsCreatedTotal,
		ProviderRequestDuration,
	)
}
