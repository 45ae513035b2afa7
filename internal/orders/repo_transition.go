package orders

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Transition moves an order out of PENDING. The UPDATE is conditional on the
// current status, so only one of payment / cancel / expiry can win. When the
// target releases stock, +qty intents are written in the same tx.
// changed=false means the order was no longer PENDING; the detail then holds
// the current state.
func (r *Repo) Transition(ctx context.Context, orderID string, to Status, paymentRef string) (OrderDetail, bool, error) {
	if !CanTransition(StatusPending, to) {
		return OrderDetail{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, StatusPending, to)
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return OrderDetail{}, false, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status=$2, payment_ref=COALESCE($3, payment_ref), updated_at=now()
		WHERE id=$1 AND status='PENDING'
		RETURNING `+orderColumns, orderID, string(to), nullable(paymentRef)))
	if errors.Is(err, pgx.ErrNoRows) {
		// kalah race atau memang sudah final
		cur, gerr := r.GetOrder(ctx, orderID)
		if gerr != nil {
			return OrderDetail{}, false, gerr
		}
		return cur, false, nil
	}
	if err != nil {
		return OrderDetail{}, false, errors.Wrap(err, "transition")
	}

	items, err := r.items(ctx, tx, orderID)
	if err != nil {
		return OrderDetail{}, false, err
	}
	if ReleasesStock(to) {
		source := inventory.SourceCancel
		if to == StatusExpired {
			source = inventory.SourceExpire
		}
		for _, it := range items {
			if err := inventory.InsertIntent(ctx, tx, it.ProductID, it.Quantity, source, orderID); err != nil {
				return OrderDetail{}, false, err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return OrderDetail{}, false, errors.Wrap(err, "commit")
	}
	return OrderDetail{Order: o, Items: items}, true, nil
}
