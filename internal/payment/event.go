package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event types the provider delivers. Anything else is rejected at parse.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
)

var ErrUnknownEventShape = errors.New("unrecognised webhook payload shape")

// Event is the normalised form of a provider webhook. The provider's raw
// payloads vary across API versions (amounts as numbers or strings, items
// JSON-stringified inside flat metadata); normalisation happens once here
// and fails loudly rather than letting a half-understood payload flow on.
type Event struct {
	ID          string // provider event id
	Type        string
	PaymentID   string
	CheckoutID  string
	Reference   string // merchant order reference from session metadata
	AmountCents int
	Currency    string
	Items       []EventItem
}

type EventItem struct {
	ProductID string `json:"id"`
	Name      string `json:"name,omitempty"`
	Qty       int    `json:"quantity"`
}

type rawEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload struct {
		ID       string          `json:"id"`
		Amount   json.RawMessage `json:"amount"`
		Currency string          `json:"currency"`
		Status   string          `json:"status"`
		Metadata struct {
			CheckoutID      string          `json:"checkoutId"`
			OrderReference  string          `json:"order_reference"`
			FirebaseOrderID string          `json:"firebase_order_id"`
			Items           json.RawMessage `json:"items"`
		} `json:"metadata"`
	} `json:"payload"`
}

// ParseEvent normalises a verified webhook body. Verification must already
// have happened on the raw bytes; this only interprets them.
func ParseEvent(body []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnknownEventShape, err)
	}

	switch raw.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCancelled:
	default:
		return Event{}, fmt.Errorf("%w: type %q", ErrUnknownEventShape, raw.Type)
	}
	if raw.ID == "" || raw.Payload.ID == "" {
		return Event{}, fmt.Errorf("%w: missing event or payment id", ErrUnknownEventShape)
	}

	ev := Event{
		ID:         raw.ID,
		Type:       raw.Type,
		PaymentID:  raw.Payload.ID,
		CheckoutID: raw.Payload.Metadata.CheckoutID,
		Currency:   raw.Payload.Currency,
	}

	// Older sessions carried the order reference under firebase_order_id.
	ev.Reference = raw.Payload.Metadata.OrderReference
	if ev.Reference == "" {
		ev.Reference = raw.Payload.Metadata.FirebaseOrderID
	}
	if ev.CheckoutID == "" && ev.Reference == "" {
		return Event{}, fmt.Errorf("%w: no checkout id or order reference in metadata", ErrUnknownEventShape)
	}

	amount, err := parseAmount(raw.Payload.Amount)
	if err != nil {
		return Event{}, err
	}
	ev.AmountCents = amount

	items, err := parseItems(raw.Payload.Metadata.Items)
	if err != nil {
		return Event{}, err
	}
	ev.Items = items

	return ev, nil
}

// parseAmount accepts the amount as a JSON number or a numeric string,
// already in minor units either way.
func parseAmount(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: amount %q", ErrUnknownEventShape, s)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: amount %s", ErrUnknownEventShape, string(raw))
}

// parseItems accepts the line items either as a JSON array or as a
// JSON-stringified array, the workaround for the provider's flat metadata
// fields. Absent items are fine; the stored order snapshot is authoritative.
func parseItems(raw json.RawMessage) ([]EventItem, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []EventItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: metadata items", ErrUnknownEventShape)
	}
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("%w: stringified metadata items: %v", ErrUnknownEventShape, err)
	}
	return items, nil
}
