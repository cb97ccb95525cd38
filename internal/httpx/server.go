package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/payment"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// OrderStore is the slice of the orders repository the handlers need.
// Narrow on purpose so tests can use fakes.
type OrderStore interface {
	CreatePending(ctx context.Context, o orders.Order) (string, error)
	AttachCheckoutID(ctx context.Context, orderID, checkoutID string) error
	MarkSessionFailed(ctx context.Context, orderID string) error
	MarkPaid(ctx context.Context, checkoutID, paymentID string) (orders.ReconcileResult, error)
	MarkTerminal(ctx context.Context, checkoutID string, to orders.Status) (orders.ReconcileResult, error)
	GetByReference(ctx context.Context, ref string) (orders.Order, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

// Provider is the outbound payment provider surface.
type Provider interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error)
	LookupCheckout(ctx context.Context, checkoutID string) (payment.Checkout, error)
}

// Verifier gates the webhook route.
type Verifier interface {
	Verify(id, timestamp, signature string, body []byte) error
}

// EventPublisher matches the kafka producer's publish surface.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
