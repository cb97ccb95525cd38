package orders

import (
	"encoding/json"
	"time"
)

const (
	EventCheckoutOpened = "CheckoutOpened"
	EventOrderPaid      = "OrderPaid"
	EventOrderFailed    = "OrderFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order reference
	Payload       json.RawMessage `json:"payload"`
}

type CheckoutOpenedPayload struct {
	OrderID     string `json:"order_id"`
	Reference   string `json:"reference"`
	CheckoutID  string `json:"checkout_id"`
	AmountCents int    `json:"amount_cents"`
	Currency    string `json:"currency"`
	Items       []Item `json:"items"`
}

type OrderPaidPayload struct {
	OrderID     string   `json:"order_id"`
	Reference   string   `json:"reference"`
	PaymentID   string   `json:"payment_id"`
	AmountCents int      `json:"amount_cents"`
	Currency    string   `json:"currency"`
	Customer    Customer `json:"customer"`
}

type OrderFailedPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"` // failed | cancelled
	Reason    string `json:"reason,omitempty"`
}
