package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// ReconcileResult reports what a successful-payment reconciliation did.
// Amount and currency come from the stored order, not the notification:
// downstream consumers get the authoritative figures even when the
// provider's payload omits them.
type ReconcileResult struct {
	OrderID     string
	Reference   string
	AmountCents int
	Currency    string
	// NoOp is true when the order was already paid and nothing changed.
	NoOp bool
}

// MarkPaid applies a verified payment.succeeded notification: exactly one
// stock decrement per line item and the pending→paid transition, in a single
// transaction. All reads happen before any write: the order row first, then
// every product row, all locked FOR UPDATE, products in product-id order so
// concurrent reconciliations lock in the same sequence.
//
// Idempotence is the status check inside the transaction: an already-paid
// order commits as a no-op. An order in failed/cancelled is not reopened;
// the caller gets ErrOrderAlreadyFinal and decides how loudly to alarm.
func (r *Repo) MarkPaid(ctx context.Context, checkoutID, paymentID string) (ReconcileResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReconcileResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var res ReconcileResult
	var status Status
	err = tx.QueryRow(ctx, `
		SELECT id, reference, status, amount_cents, currency FROM orders
		WHERE checkout_id=$1 FOR UPDATE`, checkoutID).
		Scan(&res.OrderID, &res.Reference, &status, &res.AmountCents, &res.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReconcileResult{}, fmt.Errorf("checkout %s: %w", checkoutID, ErrOrderNotFound)
	}
	if err != nil {
		return ReconcileResult{}, err
	}

	switch status {
	case StatusPaid:
		// Duplicate delivery. Commit so the provider gets its 200.
		res.NoOp = true
		return res, tx.Commit(ctx)
	case StatusFailed, StatusCancelled:
		return ReconcileResult{}, fmt.Errorf("order %s is %s: %w", res.Reference, status, ErrOrderAlreadyFinal)
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM order_items WHERE order_id=$1`, res.OrderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	qtyByProduct := map[string]int{}
	for rows.Next() {
		var pid string
		var qty int
		if err := rows.Scan(&pid, &qty); err != nil {
			rows.Close()
			return ReconcileResult{}, err
		}
		qtyByProduct[pid] += qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ReconcileResult{}, err
	}

	productIDs := make([]string, 0, len(qtyByProduct))
	for pid := range qtyByProduct {
		productIDs = append(productIDs, pid)
	}
	sort.Strings(productIDs)

	// Read every product before writing anything. Any shortage aborts the
	// whole transaction: no partial decrement, order stays pending.
	newStock := make(map[string]int, len(productIDs))
	for _, pid := range productIDs {
		var stock int
		var active bool
		err := tx.QueryRow(ctx, `SELECT stock, active FROM products WHERE id=$1 FOR UPDATE`, pid).
			Scan(&stock, &active)
		if errors.Is(err, pgx.ErrNoRows) {
			return ReconcileResult{}, fmt.Errorf("order %s references product %s: %w", res.Reference, pid, ErrProductNotFound)
		}
		if err != nil {
			return ReconcileResult{}, err
		}
		if !active {
			return ReconcileResult{}, fmt.Errorf("order %s references product %s: %w", res.Reference, pid, ErrProductInactive)
		}
		if stock < 0 {
			return ReconcileResult{}, fmt.Errorf("product %s has corrupt stock %d", pid, stock)
		}
		remaining := stock - qtyByProduct[pid]
		if remaining < 0 {
			return ReconcileResult{}, fmt.Errorf("product %s: need %d, have %d: %w",
				pid, qtyByProduct[pid], stock, ErrInsufficientStock)
		}
		newStock[pid] = remaining
	}

	for _, pid := range productIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`,
			pid, newStock[pid]); err != nil {
			return ReconcileResult{}, err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status='paid', payment_id=$2, paid_at=now(), updated_at=now()
		WHERE id=$1`, res.OrderID, paymentID); err != nil {
		return ReconcileResult{}, err
	}
	return res, tx.Commit(ctx)
}

// MarkTerminal applies a payment.failed or payment.cancelled notification.
// Single-row update, no stock mutation, forward-only: a paid or already
// terminal order is left alone.
func (r *Repo) MarkTerminal(ctx context.Context, checkoutID string, to Status) (ReconcileResult, error) {
	if to != StatusFailed && to != StatusCancelled {
		return ReconcileResult{}, fmt.Errorf("invalid terminal status %q", to)
	}

	var res ReconcileResult
	var status Status
	err := r.DB.QueryRow(ctx, `
		SELECT id, reference, status, amount_cents, currency
		FROM orders WHERE checkout_id=$1`, checkoutID).
		Scan(&res.OrderID, &res.Reference, &status, &res.AmountCents, &res.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReconcileResult{}, fmt.Errorf("checkout %s: %w", checkoutID, ErrOrderNotFound)
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	if !CanTransition(status, to) {
		res.NoOp = true
		return res, nil
	}

	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status='pending'`, res.OrderID, to)
	if err != nil {
		return ReconcileResult{}, err
	}
	// Lost the race to another writer; whoever won owns the transition.
	res.NoOp = ct.RowsAffected() == 0
	return res, nil
}
