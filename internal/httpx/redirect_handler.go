package httpx

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pvb1971/eezyspaza-backend/internal/orders"
)

// RedirectHandler serves the pages the provider sends the buyer back to.
// These are UX only: the redirect is unauthenticated and is never treated
// as proof of payment. Authoritative state changes happen on the webhook
// path; this handler reads, optionally polls the provider for display, and
// mutates nothing, so back-button revisits are harmless.
type RedirectHandler struct {
	Store    OrderStore
	Provider Provider // best-effort session lookup, may be nil
}

func (h *RedirectHandler) Register(r *chi.Mux) {
	r.Get("/checkout/success", h.page("success"))
	r.Get("/checkout/cancel", h.page("cancel"))
	r.Get("/checkout/failure", h.page("failure"))
}

var pageTmpl = template.Must(template.New("redirect").Parse(`<!doctype html>
<html><head><title>EezySpaza — {{.Heading}}</title></head>
<body>
<h1>{{.Heading}}</h1>
<p>{{.Message}}</p>
{{if .Reference}}<p>Order reference: <strong>{{.Reference}}</strong></p>{{end}}
{{if .Status}}<p>Current order status: <strong>{{.Status}}</strong></p>{{end}}
</body></html>
`))

type pageData struct {
	Heading   string
	Message   string
	Reference string
	Status    string
}

func (h *RedirectHandler) page(outcome string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		data := pageData{}
		switch outcome {
		case "success":
			data.Heading = "Thank you for your order"
			data.Message = "Your payment is being confirmed. You will be notified once it is processed."
		case "cancel":
			data.Heading = "Payment cancelled"
			data.Message = "You cancelled the payment. Your cart has not been charged."
		default:
			data.Heading = "Payment failed"
			data.Message = "The payment could not be completed. No money was taken."
		}

		o, ok := h.lookup(ctx, r.URL.Query().Get("checkoutId"), r.URL.Query().Get("ref"))
		if ok {
			data.Reference = o.Reference
			data.Status = string(o.Status)
			// The webhook may not have landed yet; show the provider's view
			// of the session as a hint, never as the stored truth.
			if outcome == "success" && o.Status == orders.StatusPending && h.Provider != nil && o.CheckoutID != "" {
				if ck, err := h.Provider.LookupCheckout(ctx, o.CheckoutID); err == nil && ck.Status != "" {
					data.Message = fmt.Sprintf(
						"The provider reports this payment as %q. Your order will update shortly.", ck.Status)
				}
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = pageTmpl.Execute(w, data)
	}
}

// lookup resolves the order from the query string, preferring the checkout
// id and falling back to the caller-supplied order reference.
func (h *RedirectHandler) lookup(ctx context.Context, checkoutID, ref string) (orders.Order, bool) {
	if checkoutID != "" {
		if o, err := h.Store.GetByCheckoutID(ctx, checkoutID); err == nil {
			return o, true
		} else if !errors.Is(err, orders.ErrOrderNotFound) {
			return orders.Order{}, false
		}
	}
	if ref != "" {
		if o, err := h.Store.GetByReference(ctx, ref); err == nil {
			return o, true
		}
	}
	return orders.Order{}, false
}
