package orders

import (
	"context"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"time"
)

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, COALESCE(external_id, ''), user_id, status, subtotal, discount_amount, total_amount,
	coupon_code, coupon_discount_type, coupon_discount_value, COALESCE(payment_ref, ''),
	lock_expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o         Order
		status    string
		code, typ *string
		value     decimal.NullDecimal
	)
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &status, &o.Subtotal, &o.DiscountAmount, &o.TotalAmount,
		&code, &typ, &value, &o.PaymentRef, &o.LockExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if code != nil {
		o.Coupon = &AppliedCoupon{Code: *code, DiscountValue: value.Decimal}
		if typ != nil {
			o.Coupon.DiscountType = *typ
		}
	}
	return o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreatePending: insert order + items + intent stok (-qty) dalam satu tx.
// external_id yang sudah dipakai -> ErrAlreadyExists.
func (r *Repo) CreatePending(ctx context.Context, o Order, items []OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var code, typ *string
	var value decimal.NullDecimal
	if o.Coupon != nil {
		code, typ = &o.Coupon.Code, &o.Coupon.DiscountType
		value = decimal.NullDecimal{Decimal: o.Coupon.DiscountValue, Valid: true}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, subtotal, discount_amount, total_amount,
		                   coupon_code, coupon_discount_type, coupon_discount_value, lock_expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		o.ID, nullable(o.ExternalID), o.UserID, string(StatusPending), o.Subtotal, o.DiscountAmount, o.TotalAmount,
		code, typ, value, o.LockExpiresAt, o.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, product_name, quantity, price_at_purchase)
			VALUES ($1,$2,$3,$4,$5)`, o.ID, it.ProductID, it.ProductName, it.Quantity, it.PriceAtPurchase); err != nil {
			return errors.Wrap(err, "insert item")
		}
		if err := inventory.InsertIntent(ctx, tx, it.ProductID, -it.Quantity, inventory.SourceOrder, o.ID); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (r *Repo) items(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, orderID string) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, product_name, quantity, price_at_purchase
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load items")
	}
	defer rows.Close()
	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.PriceAtPurchase); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "load items")
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (OrderDetail, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderDetail{}, ErrOrderNotFound
	}
	if err != nil {
		return OrderDetail{}, errors.Wrap(err, "get order")
	}
	items, err := r.items(ctx, r.DB, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	return OrderDetail{Order: o, Items: items}, nil
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (OrderDetail, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE external_id=$1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderDetail{}, ErrOrderNotFound
	}
	if err != nil {
		return OrderDetail{}, errors.Wrap(err, "find by external id")
	}
	return r.GetOrder(ctx, id)
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "get status")
	}
	return Status(s), nil
}

// ListOrders pages orders, newest first. userID "" lists all users (admin).
func (r *Repo) ListOrders(ctx context.Context, userID string, p Page) (OrderList, error) {
	p = p.Normalize()
	const where = `WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)`

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, userID, string(p.Status)).Scan(&total); err != nil {
		return OrderList{}, errors.Wrap(err, "count orders")
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
		ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`, userID, string(p.Status), p.PageSize, p.Offset())
	if err != nil {
		return OrderList{}, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	out := OrderList{Orders: []Order{}, Page: p.Page, PageSize: p.PageSize, Total: total}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return OrderList{}, errors.Wrap(err, "scan order")
		}
		out.Orders = append(out.Orders, o)
	}
	return out, errors.Wrap(rows.Err(), "list orders")
}

// ListExpired returns ids of PENDING orders whose lock has passed.
func (r *Repo) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'PENDING' AND lock_expires_at <= $1
		ORDER BY lock_expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list expired")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan expired")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "list expired")
}
