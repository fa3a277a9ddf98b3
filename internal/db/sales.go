package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/money"
)

// Sale mirrors one row of the sales table. ItemsInput is the verbatim
// submitted cart, stored as JSON for audit and display.
type Sale struct {
	ID          pgtype.UUID
	UserID      string
	TotalAmount decimal.Decimal
	ItemsInput  []byte
	CreatedAt   pgtype.Timestamptz
}

// SaleItem mirrors one row of the sale_items table. ProductName is the
// snapshot taken at sale time; unit price and savings are not stored.
type SaleItem struct {
	ID          pgtype.UUID
	SaleID      pgtype.UUID
	SKU         string
	ProductName string
	Quantity    int32
	LineTotal   decimal.Decimal
}

const saleColumns = `id, user_id, total_amount::text, items_input, created_at`

func scanSale(row interface{ Scan(dest ...any) error }) (Sale, error) {
	var (
		s     Sale
		total string
	)
	if err := row.Scan(&s.ID, &s.UserID, &total, &s.ItemsInput, &s.CreatedAt); err != nil {
		return Sale{}, err
	}
	parsed, err := money.Parse(total)
	if err != nil {
		return Sale{}, err
	}
	s.TotalAmount = parsed
	return s, nil
}

// InsertSaleParams are the attributes for a new sale.
type InsertSaleParams struct {
	UserID      string
	TotalAmount decimal.Decimal
	ItemsInput  []byte
}

// InsertSale creates the sale row and returns it.
func (q *Queries) InsertSale(ctx context.Context, arg InsertSaleParams) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx,
		`INSERT INTO sales (user_id, total_amount, items_input)
		 VALUES ($1, $2::numeric, $3)
		 RETURNING `+saleColumns,
		arg.UserID, arg.TotalAmount.String(), arg.ItemsInput))
}

// InsertSaleItemParams are the attributes for one sale line.
type InsertSaleItemParams struct {
	SaleID      pgtype.UUID
	SKU         string
	ProductName string
	Quantity    int32
	LineTotal   decimal.Decimal
}

// InsertSaleItem creates one sale_items row.
func (q *Queries) InsertSaleItem(ctx context.Context, arg InsertSaleItemParams) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO sale_items (sale_id, sku, product_name, quantity, line_total)
		 VALUES ($1, $2, $3, $4, $5::numeric)`,
		arg.SaleID, arg.SKU, arg.ProductName, arg.Quantity, arg.LineTotal.String())
	return err
}

// GetSaleByID fetches one sale.
func (q *Queries) GetSaleByID(ctx context.Context, id pgtype.UUID) (Sale, error) {
	return scanSale(q.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

// ListSaleItems returns the items of a sale in insertion order.
func (q *Queries) ListSaleItems(ctx context.Context, saleID pgtype.UUID) ([]SaleItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, sale_id, sku, product_name, quantity, line_total::text
		 FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []SaleItem
	for rows.Next() {
		var (
			item  SaleItem
			total string
		)
		if err := rows.Scan(&item.ID, &item.SaleID, &item.SKU, &item.ProductName, &item.Quantity, &total); err != nil {
			return nil, err
		}
		parsed, err := money.Parse(total)
		if err != nil {
			return nil, err
		}
		item.LineTotal = parsed
		result = append(result, item)
	}
	return result, rows.Err()
}

// ListSalesByUser returns a page of the user's sales, newest first.
func (q *Queries) ListSalesByUser(ctx context.Context, userID string, limit, offset int32) ([]Sale, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// CountSalesByUser returns how many sales the user has.
func (q *Queries) CountSalesByUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM sales WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}
