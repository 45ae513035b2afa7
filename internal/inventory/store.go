package inventory

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"time"
)

// Sumber intent stok.
const (
	SourceOrder   = "order"
	SourceExpire  = "expire"
	SourceCancel  = "cancel"
	SourceRestock = "restock"
	SourceAdjust  = "adjust"
)

// Intent is one durable ledger delta waiting to be folded into stock.
type Intent struct {
	ID        int64
	ProductID string
	Delta     int
	Source    string
	Ref       string
	CreatedAt time.Time
}

// ProductStock is one row of the inventory report.
type ProductStock struct {
	ProductID    string
	SKU          string
	Name         string
	Quantity     int
	Version      int64
	PendingDelta int
}

// Execer is satisfied by pgx.Tx and *pgxpool.Pool, so intents can be written
// inside the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertIntent appends a delta to the intent log using q.
func InsertIntent(ctx context.Context, q Execer, productID string, delta int, source, ref string) error {
	if delta == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO stock_intents(product_id, delta, source, ref)
		VALUES ($1, $2, $3, $4)`, productID, delta, source, ref)
	return errors.Wrapf(err, "insert intent %s", productID)
}

type Store struct{ DB *pgxpool.Pool }

func (s *Store) LoadQuantity(ctx context.Context, productID string) (int, int64, error) {
	var (
		qty     int
		version int64
	)
	err := s.DB.QueryRow(ctx, `SELECT quantity, version FROM stock WHERE product_id=$1`, productID).Scan(&qty, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrProductNotFound
	}
	if err != nil {
		return 0, 0, errors.Wrapf(err, "load stock %s", productID)
	}
	return qty, version, nil
}

// CompareAndSet writes newQty only if the row still carries expectedVersion,
// and marks intentIDs applied in the same transaction. Any intent already
// applied counts as a conflict, so a replayed batch never double-counts.
func (s *Store) CompareAndSet(ctx context.Context, productID string, expectedVersion int64, newQty int, intentIDs []int64) error {
	if newQty < 0 {
		return ErrNegativeStock
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE stock SET quantity=$3, version=version+1, updated_at=now()
		WHERE product_id=$1 AND version=$2`, productID, expectedVersion, newQty)
	if err != nil {
		return errors.Wrapf(err, "cas stock %s", productID)
	}
	if ct.RowsAffected() != 1 {
		return ErrVersionConflict
	}

	if len(intentIDs) > 0 {
		ct, err = tx.Exec(ctx, `
			UPDATE stock_intents SET applied_at=now()
			WHERE product_id=$1 AND id = ANY($2) AND applied_at IS NULL`, productID, intentIDs)
		if err != nil {
			return errors.Wrapf(err, "mark intents %s", productID)
		}
		if ct.RowsAffected() != int64(len(intentIDs)) {
			return ErrVersionConflict // rollback via defer
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) AppendIntent(ctx context.Context, productID string, delta int, source, ref string) error {
	return InsertIntent(ctx, s.DB, productID, delta, source, ref)
}

// PendingProducts lists products that have unapplied intents, oldest first.
func (s *Store) PendingProducts(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT product_id FROM stock_intents
		WHERE applied_at IS NULL
		GROUP BY product_id
		ORDER BY MIN(id)
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "pending products")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan pending product")
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "pending products")
}

func (s *Store) PendingIntents(ctx context.Context, productID string) ([]Intent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, product_id, delta, source, ref, created_at
		FROM stock_intents
		WHERE product_id=$1 AND applied_at IS NULL
		ORDER BY id`, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "pending intents %s", productID)
	}
	defer rows.Close()

	var out []Intent
	for rows.Next() {
		var in Intent
		if err := rows.Scan(&in.ID, &in.ProductID, &in.Delta, &in.Source, &in.Ref, &in.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan intent")
		}
		out = append(out, in)
	}
	return out, errors.Wrap(rows.Err(), "pending intents")
}

func (s *Store) LedgerSeed(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT s.quantity + COALESCE((
			SELECT SUM(i.delta) FROM stock_intents i
			WHERE i.product_id = s.product_id AND i.applied_at IS NULL), 0)::int
		FROM stock s WHERE s.product_id=$1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "ledger seed %s", productID)
	}
	return n, nil
}

func (s *Store) StockReport(ctx context.Context) ([]ProductStock, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT p.id, p.sku, p.name, s.quantity, s.version, COALESCE(SUM(i.delta), 0)::int
		FROM products p
		JOIN stock s ON s.product_id = p.id
		LEFT JOIN stock_intents i ON i.product_id = p.id AND i.applied_at IS NULL
		GROUP BY p.id, p.sku, p.name, s.quantity, s.version
		ORDER BY p.sku`)
	if err != nil {
		return nil, errors.Wrap(err, "stock report")
	}
	defer rows.Close()

	var out []ProductStock
	for rows.Next() {
		var ps ProductStock
		if err := rows.Scan(&ps.ProductID, &ps.SKU, &ps.Name, &ps.Quantity, &ps.Version, &ps.PendingDelta); err != nil {
			return nil, errors.Wrap(err, "scan stock report")
		}
		out = append(out, ps)
	}
	return out, errors.Wrap(rows.Err(), "stock report")
}
