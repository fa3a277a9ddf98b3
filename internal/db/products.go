package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/money"
)

// Product mirrors one row of the products table. UnitPrice is parsed from the
// numeric column into a decimal once, at this boundary.
type Product struct {
	ID        pgtype.UUID
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	IsActive  bool
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

// CatalogProductRow is a product joined with its active promotion, as used by
// checkout resolution and the cached checkout product list.
type CatalogProductRow struct {
	ID            pgtype.UUID
	SKU           string
	Name          string
	UnitPrice     decimal.Decimal
	IsActive      bool
	PromoQuantity pgtype.Int4
	PromoPrice    decimal.NullDecimal
}

const productColumns = `id, sku, name, unit_price::text, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	parsed, err := money.Parse(price)
	if err != nil {
		return Product{}, err
	}
	p.UnitPrice = parsed
	return p, nil
}

// ListProducts returns a page of products ordered by SKU.
func (q *Queries) ListProducts(ctx context.Context, limit, offset int32) ([]Product, error) {
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CountProducts returns the total number of products.
func (q *Queries) CountProducts(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&total)
	return total, err
}

// GetProductByID fetches one product.
func (q *Queries) GetProductByID(ctx context.Context, id pgtype.UUID) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// InsertProductParams are the attributes for a new product.
type InsertProductParams struct {
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	IsActive  bool
}

// InsertProduct creates a product and returns the stored row.
func (q *Queries) InsertProduct(ctx context.Context, arg InsertProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx,
		`INSERT INTO products (sku, name, unit_price, is_active)
		 VALUES ($1, $2, $3::numeric, $4)
		 RETURNING `+productColumns,
		arg.SKU, arg.Name, arg.UnitPrice.String(), arg.IsActive))
}

// UpdateProductParams are the attributes for a product update.
type UpdateProductParams struct {
	ID        pgtype.UUID
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	IsActive  bool
}

// UpdateProduct overwrites the mutable attributes of a product.
func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx,
		`UPDATE products
		 SET sku = $2, name = $3, unit_price = $4::numeric, is_active = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+productColumns,
		arg.ID, arg.SKU, arg.Name, arg.UnitPrice.String(), arg.IsActive))
}

// DeleteProduct removes a product and, via cascade, its promotions.
func (q *Queries) DeleteProduct(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const catalogJoin = `
SELECT p.id, p.sku, p.name, p.unit_price::text, p.is_active,
       pr.quantity, pr.special_price::text
FROM products p
LEFT JOIN promotions pr ON pr.product_id = p.id AND pr.is_active`

func scanCatalogRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}) ([]CatalogProductRow, error) {
	defer rows.Close()
	var result []CatalogProductRow
	for rows.Next() {
		var (
			row        CatalogProductRow
			price      string
			promoPrice pgtype.Text
		)
		if err := rows.Scan(&row.ID, &row.SKU, &row.Name, &price, &row.IsActive, &row.PromoQuantity, &promoPrice); err != nil {
			return nil, err
		}
		parsed, err := money.Parse(price)
		if err != nil {
			return nil, err
		}
		row.UnitPrice = parsed
		if promoPrice.Valid {
			special, err := money.Parse(promoPrice.String)
			if err != nil {
				return nil, err
			}
			row.PromoPrice = decimal.NullDecimal{Decimal: special, Valid: true}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// FindActiveProductsBySKUs resolves the requested SKUs to active products and
// their active promotion in one batched lookup. SKUs without a matching
// active product are simply absent from the result.
func (q *Queries) FindActiveProductsBySKUs(ctx context.Context, skus []string) ([]CatalogProductRow, error) {
	rows, err := q.db.Query(ctx, catalogJoin+` WHERE p.is_active AND p.sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	return scanCatalogRows(rows)
}

// FindProductsBySKUs resolves SKUs without the active filter. Receipt
// rendering uses this so items of past sales still resolve after a product
// was deactivated.
func (q *Queries) FindProductsBySKUs(ctx context.Context, skus []string) ([]CatalogProductRow, error) {
	rows, err := q.db.Query(ctx, catalogJoin+` WHERE p.sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	return scanCatalogRows(rows)
}

// ListCheckoutProducts returns every active product with its active
// promotion, ordered by SKU. Feeds the cached checkout product list.
func (q *Queries) ListCheckoutProducts(ctx context.Context) ([]CatalogProductRow, error) {
	rows, err := q.db.Query(ctx, catalogJoin+` WHERE p.is_active ORDER BY p.sku`)
	if err != nil {
		return nil, err
	}
	return scanCatalogRows(rows)
}
