package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/pricing"
)

type queryProvider interface {
	GetSaleByID(ctx context.Context, id pgtype.UUID) (db.Sale, error)
	ListSaleItems(ctx context.Context, saleID pgtype.UUID) ([]db.SaleItem, error)
	ListSalesByUser(ctx context.Context, userID string, limit, offset int32) ([]db.Sale, error)
	CountSalesByUser(ctx context.Context, userID string) (int64, error)
	FindProductsBySKUs(ctx context.Context, skus []string) ([]db.CatalogProductRow, error)
}

// Service reads back persisted sales and assembles receipts.
type Service struct {
	queries queryProvider
}

// NewService constructs a Service instance.
func NewService(queries queryProvider) (*Service, error) {
	if queries == nil {
		return nil, errors.New("sales: queries provider is required")
	}
	return &Service{queries: queries}, nil
}

// Summary is one entry of the sale list.
type Summary struct {
	ID          string          `json:"id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListResult contains list data and the total row count.
type ListResult struct {
	Items []Summary
	Total int64
}

// ReceiptLine is one receipt entry. The stored line total and product-name
// snapshot are kept; unit price, savings and promotion reflect the catalog
// at read time, so the same sale can display differently after a price
// change. A product deleted since the sale renders with unit price zero.
type ReceiptLine struct {
	SKU              string             `json:"sku"`
	ProductName      string             `json:"product_name"`
	Quantity         int                `json:"quantity"`
	UnitPrice        decimal.Decimal    `json:"unit_price"`
	RegularTotal     decimal.Decimal    `json:"regular_total"`
	LineTotal        decimal.Decimal    `json:"line_total"`
	Savings          decimal.Decimal    `json:"savings"`
	PromotionApplied bool               `json:"promotion_applied"`
	Promotion        *pricing.Promotion `json:"promotion"`
}

// Receipt is the full sale view.
type Receipt struct {
	ID           string          `json:"id"`
	Items        []ReceiptLine   `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	RegularTotal decimal.Decimal `json:"regular_total"`
	TotalSavings decimal.Decimal `json:"total_savings"`
	ItemsInput   json.RawMessage `json:"items_input"`
	CreatedAt    time.Time       `json:"created_at"`
}

// List returns a page of the user's sales, newest first.
func (s *Service) List(ctx context.Context, userID string, page, perPage int) (ListResult, error) {
	total, err := s.queries.CountSalesByUser(ctx, userID)
	if err != nil {
		return ListResult{}, fmt.Errorf("count sales: %w", err)
	}
	offset := int32((page - 1) * perPage)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.queries.ListSalesByUser(ctx, userID, int32(perPage), offset)
	if err != nil {
		return ListResult{}, fmt.Errorf("list sales: %w", err)
	}
	items := make([]Summary, 0, len(rows))
	for _, row := range rows {
		items = append(items, Summary{
			ID:          common.PgUUIDString(row.ID),
			TotalAmount: row.TotalAmount,
			CreatedAt:   row.CreatedAt.Time,
		})
	}
	return ListResult{Items: items, Total: total}, nil
}

// Get assembles the receipt for one of the user's sales. A sale belonging to
// someone else is indistinguishable from a missing one.
func (s *Service) Get(ctx context.Context, userID, id string) (Receipt, error) {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return Receipt{}, notFound(err)
	}
	sale, err := s.queries.GetSaleByID(ctx, pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, notFound(err)
		}
		return Receipt{}, fmt.Errorf("get sale: %w", err)
	}
	if sale.UserID != userID {
		return Receipt{}, notFound(nil)
	}
	items, err := s.queries.ListSaleItems(ctx, sale.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("list sale items: %w", err)
	}
	lines, err := s.buildLines(ctx, items)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		ID:           common.PgUUIDString(sale.ID),
		Items:        lines,
		TotalAmount:  sale.TotalAmount,
		RegularTotal: decimal.Zero,
		TotalSavings: decimal.Zero,
		ItemsInput:   json.RawMessage(sale.ItemsInput),
		CreatedAt:    sale.CreatedAt.Time,
	}
	for _, line := range lines {
		receipt.RegularTotal = receipt.RegularTotal.Add(line.RegularTotal)
		receipt.TotalSavings = receipt.TotalSavings.Add(line.Savings)
	}
	return receipt, nil
}

// buildLines re-derives display pricing from the current catalog. The lookup
// deliberately skips the active filter so items of past sales still resolve
// after a product was deactivated.
func (s *Service) buildLines(ctx context.Context, items []db.SaleItem) ([]ReceiptLine, error) {
	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	rows, err := s.queries.FindProductsBySKUs(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("resolve products: %w", err)
	}
	bySKU := make(map[string]db.CatalogProductRow, len(rows))
	for _, row := range rows {
		bySKU[row.SKU] = row
	}

	lines := make([]ReceiptLine, 0, len(items))
	for _, item := range items {
		line := ReceiptLine{
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    int(item.Quantity),
			UnitPrice:   decimal.Zero,
			LineTotal:   item.LineTotal,
		}
		var promotion *pricing.Promotion
		if product, ok := bySKU[item.SKU]; ok {
			line.UnitPrice = product.UnitPrice
			if product.PromoQuantity.Valid && product.PromoPrice.Valid {
				promotion = &pricing.Promotion{
					Quantity:     int(product.PromoQuantity.Int32),
					SpecialPrice: product.PromoPrice.Decimal,
				}
			}
		}
		line.RegularTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		savings := line.RegularTotal.Sub(line.LineTotal)
		if savings.IsNegative() {
			savings = decimal.Zero
		}
		line.Savings = savings
		line.PromotionApplied = savings.IsPositive()
		if line.PromotionApplied {
			line.Promotion = promotion
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func notFound(err error) *common.AppError {
	return &common.AppError{
		Code:       "NOT_FOUND",
		Message:    "sale not found",
		HTTPStatus: http.StatusNotFound,
		Err:        err,
	}
}
