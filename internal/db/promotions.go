package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/money"
)

// Promotion mirrors one row of the promotions table.
type Promotion struct {
	ID           pgtype.UUID
	ProductID    pgtype.UUID
	Quantity     int32
	SpecialPrice decimal.Decimal
	IsActive     bool
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

// PromotionWithProduct joins a promotion with its owning product's SKU and
// name for listing.
type PromotionWithProduct struct {
	Promotion
	ProductSKU  string
	ProductName string
}

const promotionColumns = `id, product_id, quantity, special_price::text, is_active, created_at, updated_at`

func scanPromotion(row interface{ Scan(dest ...any) error }) (Promotion, error) {
	var (
		p     Promotion
		price string
	)
	if err := row.Scan(&p.ID, &p.ProductID, &p.Quantity, &price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Promotion{}, err
	}
	parsed, err := money.Parse(price)
	if err != nil {
		return Promotion{}, err
	}
	p.SpecialPrice = parsed
	return p, nil
}

// ListPromotions returns a page of promotions, newest first, with product info.
func (q *Queries) ListPromotions(ctx context.Context, limit, offset int32) ([]PromotionWithProduct, error) {
	rows, err := q.db.Query(ctx,
		`SELECT pr.id, pr.product_id, pr.quantity, pr.special_price::text, pr.is_active, pr.created_at, pr.updated_at,
		        p.sku, p.name
		 FROM promotions pr
		 JOIN products p ON p.id = pr.product_id
		 ORDER BY pr.created_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []PromotionWithProduct
	for rows.Next() {
		var (
			row   PromotionWithProduct
			price string
		)
		if err := rows.Scan(&row.ID, &row.ProductID, &row.Quantity, &price, &row.IsActive, &row.CreatedAt, &row.UpdatedAt, &row.ProductSKU, &row.ProductName); err != nil {
			return nil, err
		}
		parsed, err := money.Parse(price)
		if err != nil {
			return nil, err
		}
		row.SpecialPrice = parsed
		result = append(result, row)
	}
	return result, rows.Err()
}

// CountPromotions returns the total number of promotions.
func (q *Queries) CountPromotions(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM promotions`).Scan(&total)
	return total, err
}

// GetPromotionByID fetches one promotion.
func (q *Queries) GetPromotionByID(ctx context.Context, id pgtype.UUID) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id))
}

// DeactivatePromotionsForProduct flips every active promotion of the product
// to inactive. Blanket update, not conditioned on exactly one row existing.
func (q *Queries) DeactivatePromotionsForProduct(ctx context.Context, productID pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE promotions SET is_active = false, updated_at = now() WHERE product_id = $1 AND is_active`, productID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertPromotionParams are the attributes for a new promotion.
type InsertPromotionParams struct {
	ProductID    pgtype.UUID
	Quantity     int32
	SpecialPrice decimal.Decimal
	IsActive     bool
}

// InsertPromotion creates a promotion and returns the stored row.
func (q *Queries) InsertPromotion(ctx context.Context, arg InsertPromotionParams) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx,
		`INSERT INTO promotions (product_id, quantity, special_price, is_active)
		 VALUES ($1, $2, $3::numeric, $4)
		 RETURNING `+promotionColumns,
		arg.ProductID, arg.Quantity, arg.SpecialPrice.String(), arg.IsActive))
}

// UpdatePromotionParams are the attributes for a promotion update.
type UpdatePromotionParams struct {
	ID           pgtype.UUID
	Quantity     int32
	SpecialPrice decimal.Decimal
	IsActive     bool
}

// UpdatePromotion overwrites the mutable attributes of a promotion.
func (q *Queries) UpdatePromotion(ctx context.Context, arg UpdatePromotionParams) (Promotion, error) {
	return scanPromotion(q.db.QueryRow(ctx,
		`UPDATE promotions
		 SET quantity = $2, special_price = $3::numeric, is_active = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+promotionColumns,
		arg.ID, arg.Quantity, arg.SpecialPrice.String(), arg.IsActive))
}

// DeletePromotion removes a promotion.
func (q *Queries) DeletePromotion(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM promotions WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
