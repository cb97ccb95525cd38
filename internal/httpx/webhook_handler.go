package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/pvb1971/eezyspaza-backend/internal/kafka"
	"github.com/pvb1971/eezyspaza-backend/internal/metrics"
	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/payment"
	"github.com/pvb1971/eezyspaza-backend/internal/redisx"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Store    OrderStore
	Verifier Verifier
	Redis    *redis.Client
	Paid     EventPublisher // order.paid, may be nil
	Failed   EventPublisher // order.failed, may be nil
	Service  string
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/payment", h.handle)
}

// handle processes one provider delivery. The body is consumed raw before
// any JSON parsing: the signature covers the exact bytes on the wire.
// 200 is returned only after the durable commit; any transaction failure
// is a 5xx so the provider redelivers.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	err = h.Verifier.Verify(
		r.Header.Get("webhook-id"),
		r.Header.Get("webhook-timestamp"),
		r.Header.Get("webhook-signature"),
		body,
	)
	if err != nil {
		// Generic responses only; which check failed stays in the logs.
		switch {
		case errors.Is(err, payment.ErrSignatureMismatch):
			metrics.WebhookSignatureFailuresTotal.Inc()
			log.Printf("webhook signature mismatch from %s", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		case errors.Is(err, payment.ErrStaleTimestamp):
			metrics.WebhookReplayRejectedTotal.Inc()
			log.Printf("webhook outside replay window from %s", r.RemoteAddr)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		default:
			metrics.WebhookSignatureFailuresTotal.Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		}
		return
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		log.Printf("webhook payload rejected: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognised payload"})
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(ev.Type).Inc()

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	// Fast-path dedup. The status check inside the transaction remains the
	// authoritative guard; this only short-circuits obvious redeliveries.
	dedupKey := fmt.Sprintf(redisx.KeyWebhookDedup, ev.ID)
	if h.Redis != nil {
		if ok, _ := redisx.Exists(ctx, h.Redis, dedupKey); ok {
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
	}

	checkoutID := ev.CheckoutID
	if checkoutID == "" {
		// Legacy sessions only carried the order reference in metadata.
		o, err := h.Store.GetByReference(ctx, ev.Reference)
		if err != nil {
			h.reconcileError(w, ev, err)
			return
		}
		checkoutID = o.CheckoutID
	}

	var res orders.ReconcileResult
	start := time.Now()
	switch ev.Type {
	case payment.EventPaymentSucceeded:
		res, err = h.Store.MarkPaid(ctx, checkoutID, ev.PaymentID)
	case payment.EventPaymentFailed:
		res, err = h.Store.MarkTerminal(ctx, checkoutID, orders.StatusFailed)
	case payment.EventPaymentCancelled:
		res, err = h.Store.MarkTerminal(ctx, checkoutID, orders.StatusCancelled)
	}
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		h.reconcileError(w, ev, err)
		return
	}

	// Commit is durable from here on: cache, dedup mark, events, then 200.
	h.afterCommit(ctx, ev, res, dedupKey)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// reconcileError maps reconciliation failures onto the webhook contract.
// 5xx tells the provider to redeliver; that is the recovery path for
// transient aborts. A success event for an order that already failed is
// answered 200: redelivery can never make it applicable.
func (h *WebhookHandler) reconcileError(w http.ResponseWriter, ev payment.Event, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderAlreadyFinal):
		metrics.ReconcileAnomalyTotal.Inc()
		log.Printf("ANOMALY: late %s for finalised order (event %s): %v", ev.Type, ev.ID, err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, orders.ErrInsufficientStock):
		metrics.ReconcileInsufficientStockTotal.Inc()
		log.Printf("reconcile %s aborted: %v", ev.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
	case errors.Is(err, orders.ErrOrderNotFound):
		// Lost linkage between session creation and notification; loud.
		log.Printf("ALARM: no order for webhook event %s (checkout %s, ref %s)", ev.ID, ev.CheckoutID, ev.Reference)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order not found for session"})
	default:
		log.Printf("reconcile %s failed: %v", ev.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
	}
}

func (h *WebhookHandler) afterCommit(ctx context.Context, ev payment.Event, res orders.ReconcileResult, dedupKey string) {
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, dedupKey, "1", redisx.TTLWebhookDedup).Err()
	}
	if res.NoOp {
		// The stored status may differ from this event's; leave the cache
		// to whoever applied the real transition.
		return
	}
	if h.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, res.Reference)
		_ = h.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, statusFor(ev.Type)), redisx.TTLStatusCache).Err()
	}

	switch ev.Type {
	case payment.EventPaymentSucceeded:
		metrics.ReconcileSuccessTotal.Inc()
		// Stored figures, not the notification's: provider payload
		// variants may omit amount or currency entirely.
		h.publish(h.Paid, orders.EventOrderPaid, res.Reference, orders.OrderPaidPayload{
			OrderID:     res.OrderID,
			Reference:   res.Reference,
			PaymentID:   ev.PaymentID,
			AmountCents: res.AmountCents,
			Currency:    res.Currency,
		})
	case payment.EventPaymentFailed, payment.EventPaymentCancelled:
		h.publish(h.Failed, orders.EventOrderFailed, res.Reference, orders.OrderFailedPayload{
			OrderID:   res.OrderID,
			Reference: res.Reference,
			Status:    string(statusFor(ev.Type)),
		})
	}
}

func (h *WebhookHandler) publish(p EventPublisher, eventType, reference string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		CorrelationID: reference,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(reference), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func statusFor(eventType string) orders.Status {
	switch eventType {
	case payment.EventPaymentSucceeded:
		return orders.StatusPaid
	case payment.EventPaymentCancelled:
		return orders.StatusCancelled
	default:
		return orders.StatusFailed
	}
}
