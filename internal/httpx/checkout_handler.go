package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/pvb1971/eezyspaza-backend/internal/kafka"
	"github.com/pvb1971/eezyspaza-backend/internal/metrics"
	"github.com/pvb1971/eezyspaza-backend/internal/money"
	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/payment"
	"github.com/pvb1971/eezyspaza-backend/internal/redisx"
)

type CheckoutHandler struct {
	Store    OrderStore
	Provider Provider
	Redis    *redis.Client
	Opened   EventPublisher // order.checkout.opened, may be nil
	Service  string
}

type CreateCheckoutReq struct {
	Amount     money.Decimal    `json:"amount"`
	Currency   string           `json:"currency"`
	SuccessURL string           `json:"successUrl"`
	CancelURL  string           `json:"cancelUrl"`
	FailureURL string           `json:"failureUrl"`
	Metadata   CheckoutMetadata `json:"metadata"`
}

type CheckoutMetadata struct {
	Items         []CheckoutItem `json:"items"`
	CustomerName  string         `json:"customer_name,omitempty"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	CustomerPhone string         `json:"customer_phone,omitempty"`
}

type CheckoutItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Quantity int           `json:"quantity"`
	Price    money.Decimal `json:"price"`
}

type CreateCheckoutResp struct {
	RedirectURL    string `json:"redirectUrl"`
	OrderReference string `json:"order_reference"`
	CheckoutID     string `json:"checkout_id"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/create-checkout", h.createCheckout)
	r.Get("/orders/{ref}", h.getOrder)
	r.Get("/products", h.listProducts)
}

func (h *CheckoutHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	o, details := buildOrder(req)
	if len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation failed",
			"details": details,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	orderID, err := h.Store.CreatePending(ctx, o)
	if err != nil {
		log.Printf("create pending order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create order"})
		return
	}

	ck, err := h.Provider.CreateCheckout(ctx, payment.CheckoutRequest{
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		FailureURL:  req.FailureURL,
		Metadata:    providerMetadata(o),
	})
	if err != nil {
		// Never leave the order dangling in pending with no live session.
		if ferr := h.Store.MarkSessionFailed(ctx, orderID); ferr != nil {
			log.Printf("mark order %s failed after provider error: %v", o.Reference, ferr)
		}
		if errors.Is(err, payment.ErrProviderUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":             "payment provider unavailable",
				"retry_recommended": true,
			})
			return
		}
		log.Printf("create checkout session for %s: %v", o.Reference, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment provider rejected the session"})
		return
	}

	if err := h.Store.AttachCheckoutID(ctx, orderID, ck.ID); err != nil {
		log.Printf("attach checkout id %s to order %s: %v", ck.ID, o.Reference, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not persist checkout session"})
		return
	}
	metrics.CheckoutSessionsCreatedTotal.Inc()

	if h.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, o.Reference)
		_ = h.Redis.Set(ctx, statusKey, `{"status":"pending"}`, redisx.TTLStatusCache).Err()
	}
	h.publishOpened(o, orderID, ck.ID, r.Header.Get("X-Request-Id"))

	writeJSON(w, http.StatusOK, CreateCheckoutResp{
		RedirectURL:    ck.RedirectURL,
		OrderReference: o.Reference,
		CheckoutID:     ck.ID,
	})
}

// buildOrder validates the request and assembles the pending order.
// Validation is aggregate: every failing field is reported in one pass.
func buildOrder(req CreateCheckoutReq) (orders.Order, []string) {
	var details []string

	var amountCents int
	switch {
	case req.Amount == "":
		details = append(details, "amount is required")
	default:
		c, err := money.ToCents(string(req.Amount))
		switch {
		case errors.Is(err, money.ErrNotPositive):
			details = append(details, "amount must be positive")
		case err != nil:
			details = append(details, "amount must be a decimal number")
		default:
			amountCents = c
		}
	}

	if !money.ValidCurrency(req.Currency) {
		details = append(details, "currency must be a 3-letter code")
	}
	for _, u := range []struct{ name, val string }{
		{"successUrl", req.SuccessURL},
		{"cancelUrl", req.CancelURL},
		{"failureUrl", req.FailureURL},
	} {
		if !validAbsoluteURL(u.val) {
			details = append(details, u.name+" must be an absolute URL")
		}
	}

	var items []orders.Item
	var itemsTotal int
	if len(req.Metadata.Items) == 0 {
		details = append(details, "metadata.items must not be empty")
	}
	// Carts may list the same product more than once; merge into one line
	// so the order_items (order_id, product_id) key holds.
	itemIdx := map[string]int{}
	for i, it := range req.Metadata.Items {
		if it.ID == "" {
			details = append(details, fmt.Sprintf("metadata.items[%d].id is required", i))
			continue
		}
		if it.Quantity <= 0 {
			details = append(details, fmt.Sprintf("metadata.items[%d].quantity must be positive", i))
			continue
		}
		priceCents, err := money.ToCents(string(it.Price))
		if err != nil {
			details = append(details, fmt.Sprintf("metadata.items[%d].price must be a positive decimal", i))
			continue
		}
		if j, seen := itemIdx[it.ID]; seen {
			if items[j].PriceCents != priceCents {
				details = append(details, fmt.Sprintf(
					"metadata.items[%d].price conflicts with an earlier line for product %s", i, it.ID))
				continue
			}
			items[j].Qty += it.Quantity
		} else {
			itemIdx[it.ID] = len(items)
			items = append(items, orders.Item{
				ProductID:  it.ID,
				Name:       it.Name,
				Qty:        it.Quantity,
				PriceCents: priceCents,
			})
		}
		itemsTotal += it.Quantity * priceCents
	}

	if len(details) == 0 && itemsTotal != amountCents {
		details = append(details, fmt.Sprintf(
			"amount %d does not equal item subtotal %d (minor units)", amountCents, itemsTotal))
	}
	if len(details) > 0 {
		return orders.Order{}, details
	}

	return orders.Order{
		Reference:   uuid.NewString(),
		Status:      orders.StatusPending,
		AmountCents: amountCents,
		Currency:    req.Currency,
		Items:       items,
		Customer: orders.Customer{
			Name:  req.Metadata.CustomerName,
			Email: req.Metadata.CustomerEmail,
			Phone: req.Metadata.CustomerPhone,
		},
	}, nil
}

func validAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}

// providerMetadata flattens order context into the provider's string-only
// metadata fields. Line items go through as a JSON string; that is a quirk
// of the provider API, the typed snapshot in order_items stays the truth.
func providerMetadata(o orders.Order) map[string]string {
	items := make([]payment.EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, payment.EventItem{ProductID: it.ProductID, Name: it.Name, Qty: it.Qty})
	}
	b, _ := json.Marshal(items)
	return map[string]string{
		"order_reference": o.Reference,
		"items":           string(b),
	}
}

func (h *CheckoutHandler) publishOpened(o orders.Order, orderID, checkoutID, traceID string) {
	if h.Opened == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventCheckoutOpened,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       traceID,
		CorrelationID: o.Reference,
		Payload: kafkax.MustMarshal(orders.CheckoutOpenedPayload{
			OrderID:     orderID,
			Reference:   o.Reference,
			CheckoutID:  checkoutID,
			AmountCents: o.AmountCents,
			Currency:    o.Currency,
			Items:       o.Items,
		}),
	}
	h.Opened.Publish(orders.PartitionKey(o.Reference), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventCheckoutOpened)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing reference"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, ref)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Store.GetByReference(ctx, ref)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	body := map[string]any{"status": o.Status}
	if h.Redis != nil {
		b, _ := json.Marshal(body)
		key := fmt.Sprintf(redisx.KeyOrderStatus, ref)
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *CheckoutHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
