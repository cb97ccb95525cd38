package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// CreatePending inserts a new pending order together with its line-item
// snapshot. The amount must already be validated against the item subtotals
// by the caller; it is stored as given.
func (r *Repo) CreatePending(ctx context.Context, o Order) (string, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, reference, status, amount_cents, currency,
		                   customer_name, customer_email, customer_phone)
		VALUES ($1,$2,'pending',$3,$4,$5,$6,$7)`,
		id, o.Reference, o.AmountCents, o.Currency,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone,
	)
	if err != nil {
		return "", err
	}
	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, name, qty, price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			id, it.ProductID, it.Name, it.Qty, it.PriceCents,
		); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// AttachCheckoutID records the provider session id once the provider has
// accepted the session. Until this lands the order has no live session and
// is subject to the stale-pending sweep.
func (r *Repo) AttachCheckoutID(ctx context.Context, orderID, checkoutID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET checkout_id=$2, updated_at=now()
		WHERE id=$1 AND status='pending'`, orderID, checkoutID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkSessionFailed moves a pending order to failed when the provider call
// did not produce a session. Leaving it pending would be a latent bug: the
// buyer can never pay it.
func (r *Repo) MarkSessionFailed(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='failed', updated_at=now()
		WHERE id=$1 AND status='pending'`, orderID)
	return err
}

func (r *Repo) GetByReference(ctx context.Context, ref string) (Order, error) {
	return r.getOne(ctx, `WHERE o.reference=$1`, ref)
}

func (r *Repo) GetByCheckoutID(ctx context.Context, checkoutID string) (Order, error) {
	return r.getOne(ctx, `WHERE o.checkout_id=$1`, checkoutID)
}

func (r *Repo) getOne(ctx context.Context, where string, arg any) (Order, error) {
	var o Order
	var paidAt *time.Time
	var checkoutID, paymentID *string
	err := r.DB.QueryRow(ctx, `
		SELECT o.id, o.reference, o.checkout_id, o.payment_id, o.status,
		       o.amount_cents, o.currency,
		       COALESCE(o.customer_name,''), COALESCE(o.customer_email,''), COALESCE(o.customer_phone,''),
		       o.created_at, o.updated_at, o.paid_at
		FROM orders o `+where, arg).Scan(
		&o.ID, &o.Reference, &checkoutID, &paymentID, &o.Status,
		&o.AmountCents, &o.Currency,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.CreatedAt, &o.UpdatedAt, &paidAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if checkoutID != nil {
		o.CheckoutID = *checkoutID
	}
	if paymentID != nil {
		o.PaymentID = *paymentID
	}
	o.PaidAt = paidAt

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, COALESCE(name,''), qty, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Qty, &it.PriceCents); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price_cents, stock, active, created_at, updated_at
		FROM products WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SweepStalePending fails pending orders older than ttl that either never
// got a checkout id (crash between insert and session creation) or whose
// session has expired unpaid. Returns the number of orders swept.
func (r *Repo) SweepStalePending(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='failed', updated_at=now()
		WHERE status='pending' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale pending: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
