package orders

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, price, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, errors.Wrap(err, "get product")
}

// GetProducts returns the products found among ids; missing ids are absent
// from the map.
func (r *Repo) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	defer rows.Close()
	out := make(map[string]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out[p.ID] = p
	}
	return out, errors.Wrap(rows.Err(), "get products")
}

// ProductIDsBySKU maps each known sku to its product id. Unknown skus are
// absent from the map.
func (r *Repo) ProductIDsBySKU(ctx context.Context, skus []string) (map[string]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT sku, id FROM products WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, errors.Wrap(err, "resolve skus")
	}
	defer rows.Close()
	out := make(map[string]string, len(skus))
	for rows.Next() {
		var sku, id string
		if err := rows.Scan(&sku, &id); err != nil {
			return nil, errors.Wrap(err, "scan sku")
		}
		out[sku] = id
	}
	return out, errors.Wrap(rows.Err(), "resolve skus")
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list products")
}

// CreateProduct inserts the product together with its stock row.
func (r *Repo) CreateProduct(ctx context.Context, p Product, quantity int) (Product, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Product{}, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err = scanProduct(tx.QueryRow(ctx, `
		INSERT INTO products(id, sku, name, price, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+productColumns, p.ID, p.SKU, p.Name, p.Price, p.IsActive))
	if isUniqueViolation(err) {
		return Product{}, ErrAlreadyExists
	}
	if err != nil {
		return Product{}, errors.Wrap(err, "insert product")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO stock(product_id, quantity, version) VALUES ($1,$2,1)`, p.ID, quantity); err != nil {
		return Product{}, errors.Wrap(err, "insert stock")
	}
	return p, errors.Wrap(tx.Commit(ctx), "commit")
}

type ProductUpdate struct {
	Name     *string          `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	IsActive *bool            `json:"is_active"`
}

// UpdateProduct changes catalog fields. Existing order items keep their
// price_at_purchase.
func (r *Repo) UpdateProduct(ctx context.Context, id string, u ProductUpdate) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `
		UPDATE products SET
			name = COALESCE($2, name),
			price = COALESCE($3, price),
			is_active = COALESCE($4, is_active),
			updated_at = now()
		WHERE id=$1
		RETURNING `+productColumns, id, u.Name, u.Price, u.IsActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, errors.Wrap(err, "update product")
}
