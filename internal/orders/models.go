package orders

import "time"

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Stock      int       `json:"stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID          string     `json:"id"`
	Reference   string     `json:"reference"`   // merchant-generated, unique
	CheckoutID  string     `json:"checkout_id"` // provider session id, set after session creation
	PaymentID   string     `json:"payment_id,omitempty"`
	Status      Status     `json:"status"`
	AmountCents int        `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Customer    Customer   `json:"customer"`
	Items       []Item     `json:"items"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// Customer metadata is best effort; any field may be empty.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Item is a line-item snapshot taken at order creation. The price is the
// unit price in minor units at the time of purchase.
type Item struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name,omitempty"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}
