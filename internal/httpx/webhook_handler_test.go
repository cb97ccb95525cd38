package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/payment"
)

var webhookKey = []byte("test-signing-key-32-bytes-long!!")

func webhookVerifier(t *testing.T) *payment.WebhookVerifier {
	t.Helper()
	v, err := payment.NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString(webhookKey))
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}
	return v
}

func signBody(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, webhookKey)
	fmt.Fprintf(mac, "%s.%s.", id, ts)
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// deliver posts body as a signed webhook. Pass empty header values to
// simulate a delivery missing them.
func deliver(t *testing.T, h *WebhookHandler, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter()
	h.Register(r)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(string(body)))
	if sign {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("webhook-id", "evt_1")
		req.Header.Set("webhook-timestamp", ts)
		req.Header.Set("webhook-signature", signBody("evt_1", ts, body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func succeededBody(checkoutID string) []byte {
	return []byte(`{
		"type": "payment.succeeded",
		"id": "evt_1",
		"payload": {
			"id": "pay_1",
			"amount": 6499,
			"currency": "ZAR",
			"metadata": {"checkoutId": "` + checkoutID + `", "order_reference": "ref-1"}
		}
	}`)
}

func TestWebhookMissingSignatureHeader(t *testing.T) {
	store := newFakeStore()
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	w := deliver(t, h, succeededBody("ch_1"), false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if store.mutations() != 0 {
		t.Errorf("store touched despite missing headers")
	}
}

func TestWebhookTamperedBody(t *testing.T) {
	store := newFakeStore()
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	body := succeededBody("ch_1")
	r := NewRouter()
	h.Register(r)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := signBody("evt_1", ts, body)

	tampered := strings.Replace(string(body), "6499", "6498", 1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(tampered))
	req.Header.Set("webhook-id", "evt_1")
	req.Header.Set("webhook-timestamp", ts)
	req.Header.Set("webhook-signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if store.mutations() != 0 {
		t.Errorf("store touched despite signature mismatch")
	}
}

func TestWebhookReplayRejected(t *testing.T) {
	store := newFakeStore()
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	body := succeededBody("ch_1")
	r := NewRouter()
	h.Register(r)
	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(string(body)))
	req.Header.Set("webhook-id", "evt_1")
	req.Header.Set("webhook-timestamp", stale)
	req.Header.Set("webhook-signature", signBody("evt_1", stale, body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if store.mutations() != 0 {
		t.Errorf("store touched despite stale timestamp")
	}
}

func TestWebhookSucceededReconciles(t *testing.T) {
	store := newFakeStore()
	store.markPaidResult = orders.ReconcileResult{OrderID: "o1", Reference: "ref-1"}
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	w := deliver(t, h, succeededBody("ch_1"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if store.markPaidCalls != 1 {
		t.Errorf("markPaidCalls = %d", store.markPaidCalls)
	}
}

func TestWebhookPaidEventCarriesStoredAmount(t *testing.T) {
	store := newFakeStore()
	store.markPaidResult = orders.ReconcileResult{
		OrderID:     "o1",
		Reference:   "ref-1",
		AmountCents: 6499,
		Currency:    "ZAR",
	}
	paid := &fakePublisher{}
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t), Paid: paid}

	// Some deliveries omit the amount entirely; the published event must
	// carry what the order row says, never a zero read off the wire.
	body := []byte(`{
		"type": "payment.succeeded",
		"id": "evt_1",
		"payload": {"id": "pay_1", "metadata": {"checkoutId": "ch_1"}}
	}`)
	w := deliver(t, h, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(paid.values) != 1 {
		t.Fatalf("published %d events, want 1", len(paid.values))
	}

	var env orders.Envelope
	if err := json.Unmarshal(paid.values[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventType != orders.EventOrderPaid {
		t.Errorf("event type = %s", env.EventType)
	}
	var p orders.OrderPaidPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.AmountCents != 6499 || p.Currency != "ZAR" {
		t.Errorf("published %d %s, want stored 6499 ZAR", p.AmountCents, p.Currency)
	}
	if p.PaymentID != "pay_1" {
		t.Errorf("payment id = %s", p.PaymentID)
	}
}

func TestWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.markPaidResult = orders.ReconcileResult{OrderID: "o1", Reference: "ref-1", NoOp: true}
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	// Redelivery of an already-paid order commits as a no-op and still 200s,
	// otherwise the provider would retry forever.
	for i := 0; i < 3; i++ {
		w := deliver(t, h, succeededBody("ch_1"), true)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d", i, w.Code)
		}
	}
	if store.markPaidCalls != 3 {
		t.Errorf("markPaidCalls = %d", store.markPaidCalls)
	}
}

func TestWebhookInsufficientStockReturns500(t *testing.T) {
	store := newFakeStore()
	store.markPaidErr = fmt.Errorf("product P1: need 1, have 0: %w", orders.ErrInsufficientStock)
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	// 500 tells the provider to redeliver; stock may free up.
	w := deliver(t, h, succeededBody("ch_1"), true)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookOrderNotFoundReturns500(t *testing.T) {
	store := newFakeStore()
	store.markPaidErr = fmt.Errorf("checkout ch_1: %w", orders.ErrOrderNotFound)
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	w := deliver(t, h, succeededBody("ch_1"), true)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookLateSuccessOnFinalisedOrder(t *testing.T) {
	store := newFakeStore()
	store.markPaidErr = fmt.Errorf("order ref-1 is failed: %w", orders.ErrOrderAlreadyFinal)
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	// Ignore + alert: the order stays failed, the provider gets its 200.
	w := deliver(t, h, succeededBody("ch_1"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookFailedEventMarksTerminal(t *testing.T) {
	store := newFakeStore()
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	body := []byte(`{
		"type": "payment.failed",
		"id": "evt_2",
		"payload": {"id": "pay_2", "metadata": {"checkoutId": "ch_1"}}
	}`)
	w := deliver(t, h, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if store.markTermCalls != 1 || store.markPaidCalls != 0 {
		t.Errorf("markTermCalls = %d, markPaidCalls = %d", store.markTermCalls, store.markPaidCalls)
	}
}

func TestWebhookUnrecognisedPayloadRejected(t *testing.T) {
	store := newFakeStore()
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	w := deliver(t, h, []byte(`{"type":"something.else","id":"e","payload":{"id":"p"}}`), true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if store.mutations() != 0 {
		t.Errorf("store touched on unrecognised payload")
	}
}

func TestWebhookLegacyReferenceResolvesCheckoutID(t *testing.T) {
	store := newFakeStore()
	o := orders.Order{ID: "o1", Reference: "ref-legacy", CheckoutID: "ch_legacy", Status: orders.StatusPending}
	store.orders["ref-legacy"] = &o
	store.markPaidResult = orders.ReconcileResult{OrderID: "o1", Reference: "ref-legacy"}
	h := &WebhookHandler{Store: store, Verifier: webhookVerifier(t)}

	body := []byte(`{
		"type": "payment.succeeded",
		"id": "evt_3",
		"payload": {"id": "pay_3", "metadata": {"firebase_order_id": "ref-legacy"}}
	}`)
	w := deliver(t, h, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if store.markPaidCalls != 1 {
		t.Errorf("markPaidCalls = %d", store.markPaidCalls)
	}
}
