package httpx

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/payment"
)

// fakeStore records every mutation so tests can assert on exactly what a
// handler touched.
type fakeStore struct {
	orders map[string]*orders.Order // by reference

	created        []orders.Order
	attached       map[string]string // orderID -> checkoutID
	sessionFailed  []string
	markPaidCalls  int
	markTermCalls  int
	markPaidErr    error
	markPaidResult orders.ReconcileResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   map[string]*orders.Order{},
		attached: map[string]string{},
	}
}

func (f *fakeStore) mutations() int {
	return len(f.created) + len(f.attached) + len(f.sessionFailed) + f.markPaidCalls + f.markTermCalls
}

func (f *fakeStore) CreatePending(ctx context.Context, o orders.Order) (string, error) {
	o.ID = "order-" + o.Reference
	f.created = append(f.created, o)
	f.orders[o.Reference] = &o
	return o.ID, nil
}

func (f *fakeStore) AttachCheckoutID(ctx context.Context, orderID, checkoutID string) error {
	f.attached[orderID] = checkoutID
	for _, o := range f.orders {
		if o.ID == orderID {
			o.CheckoutID = checkoutID
		}
	}
	return nil
}

func (f *fakeStore) MarkSessionFailed(ctx context.Context, orderID string) error {
	f.sessionFailed = append(f.sessionFailed, orderID)
	return nil
}

func (f *fakeStore) MarkPaid(ctx context.Context, checkoutID, paymentID string) (orders.ReconcileResult, error) {
	f.markPaidCalls++
	if f.markPaidErr != nil {
		return orders.ReconcileResult{}, f.markPaidErr
	}
	return f.markPaidResult, nil
}

func (f *fakeStore) MarkTerminal(ctx context.Context, checkoutID string, to orders.Status) (orders.ReconcileResult, error) {
	f.markTermCalls++
	return orders.ReconcileResult{OrderID: "o1", Reference: "r1"}, nil
}

func (f *fakeStore) GetByReference(ctx context.Context, ref string) (orders.Order, error) {
	if o, ok := f.orders[ref]; ok {
		return *o, nil
	}
	return orders.Order{}, orders.ErrOrderNotFound
}

func (f *fakeStore) GetByCheckoutID(ctx context.Context, checkoutID string) (orders.Order, error) {
	for _, o := range f.orders {
		if o.CheckoutID == checkoutID {
			return *o, nil
		}
	}
	return orders.Order{}, orders.ErrOrderNotFound
}

func (f *fakeStore) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return nil, nil
}

// fakePublisher captures published records for inspection.
type fakePublisher struct {
	keys   []string
	values [][]byte
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.keys = append(f.keys, string(key))
	f.values = append(f.values, value)
}

type fakeProvider struct {
	checkout    payment.Checkout
	createErr   error
	lookups     int
	createCalls int
	lastReq     payment.CheckoutRequest
}

func (f *fakeProvider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	f.createCalls++
	f.lastReq = req
	if f.createErr != nil {
		return payment.Checkout{}, f.createErr
	}
	return f.checkout, nil
}

func (f *fakeProvider) LookupCheckout(ctx context.Context, checkoutID string) (payment.Checkout, error) {
	f.lookups++
	if f.checkout.ID == checkoutID {
		return f.checkout, nil
	}
	return payment.Checkout{}, errors.New("not found")
}
